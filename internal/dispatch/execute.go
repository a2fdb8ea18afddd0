package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/music"
	"github.com/nadzzz/hearth/internal/phrase"
)

// execute dispatches o.action to each target exactly once and phrases the
// result. Failures are never retried.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, o outcome, snap *inventory.Snapshot) outcome {
	action := o.action
	targets := make([]inventory.Entity, 0, len(action.TargetEntityIDs))
	for _, id := range action.TargetEntityIDs {
		if e, ok := snap.Lookup(id); ok {
			targets = append(targets, e)
		}
	}

	var call func(e inventory.Entity) error
	switch action.Intent {
	case message.IntentMediaSearchPlay:
		if d.deps.Music == nil {
			o.status, o.response, o.detail = message.StatusFailed, TextNoMusic, "music provider disabled"
			return o
		}
		ref, err := d.deps.Music.Search(ctx, action.MediaQuery)
		if errors.Is(err, music.ErrNotFound) {
			o.status, o.response, o.detail = message.StatusFailed, "Sorry, I couldn't find "+phrase.MediaLabel(action.MediaQuery)+".", err.Error()
			return o
		}
		if err != nil {
			logger.Error("music search failed", "error", err)
			o.status, o.response, o.detail = message.StatusFailed, TextProviderFailure, err.Error()
			return o
		}
		logger.Info("music found", "uri", ref.URI, "kind", ref.Kind)
		call = func(e inventory.Entity) error { return d.deps.Music.Play(ctx, ref, e.ID) }

	default:
		call = func(e inventory.Entity) error {
			return d.deps.Devices.CallService(ctx, e.ID, action.Action, action.Parameters)
		}
	}

	var done []inventory.Entity
	var failed []*DeviceDispatchError
	for _, e := range targets {
		if err := call(e); err != nil {
			logger.Error("device dispatch failed", "entity_id", e.ID, "area", e.Area, "error", err)
			failed = append(failed, &DeviceDispatchError{EntityID: e.ID, Name: e.Name, Area: e.Area, Err: err})
			continue
		}
		logger.Info("device dispatched", "entity_id", e.ID, "action", action.Action)
		done = append(done, e)
	}

	o.response = summarize(action, done, failed)
	if len(failed) == 0 {
		o.status = message.StatusSucceeded
		return o
	}
	o.status = message.StatusFailed
	details := make([]string, len(failed))
	for i, f := range failed {
		details[i] = f.Error()
	}
	o.detail = strings.Join(details, "; ")
	return o
}

// summarize phrases what happened, naming the room of every device.
func summarize(action *message.CandidateAction, done []inventory.Entity, failed []*DeviceDispatchError) string {
	var b strings.Builder
	if len(done) > 0 {
		if action.Intent == message.IntentMediaSearchPlay {
			b.WriteString("Playing " + phrase.MediaLabel(action.MediaQuery) + " on " + phrase.Entities(done, "and"))
		} else {
			b.WriteString(phrase.Command(action.Action, action.Parameters, phrase.Entities(done, "and"), true))
		}
	}
	if len(failed) > 0 {
		parts := make([]string, len(failed))
		for i, f := range failed {
			parts[i] = phrase.Entity(inventory.Entity{ID: f.EntityID, Name: f.Name, Area: f.Area}) + " (" + f.Err.Error() + ")"
		}
		if b.Len() > 0 {
			b.WriteString(", but I couldn't reach ")
		} else {
			b.WriteString("Sorry, I couldn't reach ")
		}
		b.WriteString(phrase.Join(parts, "or"))
	}
	b.WriteString(".")
	return b.String()
}
