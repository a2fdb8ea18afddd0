// Package dispatch implements the command orchestrator.
//
// The dispatcher receives utterances from transports, routes replies to an
// open confirmation, otherwise runs refinement and interpretation, applies
// the confirmation policy, executes the action against the home platform and
// writes one history record. Every failure ends as a Result with a spoken
// response; Handle only returns an error for a nil request.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nadzzz/hearth/internal/confirm"
	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/interpreter"
	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/music"
	"github.com/nadzzz/hearth/internal/refine"
)

// Fixed responses.
const (
	TextCanceled        = "Request canceled."
	TextProviderFailure = "Sorry, I couldn't process that request right now."
	TextParseFailure    = "Sorry, I didn't understand that. Could you rephrase?"
	TextNoMatch         = "I couldn't find a matching device. Which device did you mean?"
	TextNoMusic         = "Sorry, music playback isn't set up."
)

// Interpreter turns an utterance and its candidates into an action.
type Interpreter interface {
	Interpret(ctx context.Context, in interpreter.Input) (*message.CandidateAction, error)
}

// Inventory supplies the device snapshot for one round.
type Inventory interface {
	Snapshot(ctx context.Context) (*inventory.Snapshot, error)
}

// Devices executes service calls.
type Devices interface {
	CallService(ctx context.Context, entityID, action string, params map[string]any) error
}

// RoomResolver returns the room a source device sits in, or "".
type RoomResolver interface {
	SourceArea(ctx context.Context, sourceDeviceID string) string
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Inventory   Inventory
	Rooms       RoomResolver
	Refiner     *refine.Engine
	Interpreter Interpreter
	Policy      *confirm.Policy
	Confirm     *confirm.Manager
	Devices     Devices
	Music       music.Provider // nil when music is disabled
	History     *history.Log

	// ContextTurns is how many earlier records of the conversation are
	// passed to the interpreter.
	ContextTurns int

	// SweepInterval drives RunJanitor.
	SweepInterval time.Duration
}

// Dispatcher is the command orchestrator. Handle is safe for concurrent use
// across conversations.
type Dispatcher struct {
	deps Deps
	now  func() time.Time
}

// New creates a dispatcher.
func New(deps Deps) *Dispatcher {
	if deps.Refiner == nil {
		deps.Refiner = refine.New(0, 10)
	}
	return &Dispatcher{deps: deps, now: time.Now}
}

// DeviceDispatchError is a failed service call on one device.
type DeviceDispatchError struct {
	EntityID string
	Name     string
	Area     string
	Err      error
}

func (e *DeviceDispatchError) Error() string {
	return fmt.Sprintf("dispatching to %s: %v", e.EntityID, e.Err)
}

func (e *DeviceDispatchError) Unwrap() error { return e.Err }

// outcome is what one Handle produced, before it is recorded.
type outcome struct {
	req      message.CommandRequest
	action   *message.CandidateAction
	status   message.ExecutionStatus
	response string
	detail   string
	targets  []string
}

// Handle processes a single utterance through the full pipeline.
// This function is passed as the transport.Handler to each transport.
func (d *Dispatcher) Handle(ctx context.Context, req *message.CommandRequest) (*message.Result, error) {
	if req == nil {
		return nil, errors.New("nil command request")
	}
	start := d.now()
	r := *req
	if r.Timestamp.IsZero() {
		r.Timestamp = start
	}
	if r.ConversationID == "" {
		r.ConversationID = r.SourceDeviceID
	}
	logger := slog.With("conversation_id", r.ConversationID, "source", r.SourceDeviceID)
	logger.Info("command received", "text_length", len(r.Text))

	// Step 1: Resolve the room the request came from.
	sourceArea := ""
	if d.deps.Rooms != nil {
		sourceArea = d.deps.Rooms.SourceArea(ctx, r.SourceDeviceID)
	}
	logger.Debug("source room resolved", "area", sourceArea)

	// Step 2: Route the utterance to an open confirmation, if any.
	out, err := d.deps.Confirm.Resolve(ctx, r.ConversationID, r.Text, start)
	if err != nil {
		logger.Error("confirmation lookup failed", "error", err)
		return d.finish(ctx, logger, start, outcome{
			req:      r,
			status:   message.StatusFailed,
			response: TextProviderFailure,
			detail:   err.Error(),
		}), nil
	}

	switch out.State {
	case confirm.StateConfirmed:
		logger.Info("confirmation accepted", "targets", out.Action.TargetEntityIDs)
		return d.finish(ctx, logger, start, d.executeConfirmed(ctx, logger, out)), nil

	case confirm.StateAwaiting:
		logger.Info("confirmation reply not understood, asking again", "reprompts", out.Session.Reprompts)
		return d.finish(ctx, logger, start, outcome{
			req:      r,
			action:   out.Session.Action,
			status:   message.StatusAwaitingConfirmation,
			response: out.Prompt,
			targets:  out.Session.Action.TargetEntityIDs,
		}), nil

	case confirm.StateDeclined:
		if !out.Passthrough {
			logger.Info("confirmation declined")
			return d.finish(ctx, logger, start, declined(out.Session, "")), nil
		}
		detail := "reply not recognized"
		if out.Expired {
			detail = confirm.ErrSessionExpired.Error()
		}
		logger.Info("pending confirmation dropped, interpreting as new command", "reason", detail)
		d.record(ctx, logger, start, declined(out.Session, detail))
	}

	// Step 3: Interpret as a fresh command.
	return d.finish(ctx, logger, start, d.interpret(ctx, logger, r, sourceArea, start)), nil
}

func (d *Dispatcher) interpret(ctx context.Context, logger *slog.Logger, r message.CommandRequest, sourceArea string, now time.Time) outcome {
	o := outcome{req: r}

	if strings.TrimSpace(r.Text) == "" {
		o.status, o.response = message.StatusClarificationNeeded, TextParseFailure
		return o
	}

	snap, err := d.deps.Inventory.Snapshot(ctx)
	if err != nil {
		logger.Error("inventory unavailable", "error", err)
		o.status, o.response, o.detail = message.StatusFailed, TextProviderFailure, err.Error()
		return o
	}

	// Step 3a: Rank the inventory against the description.
	q := refine.ParseQuery(r.Text, sourceArea, snap.Areas())
	matches := d.deps.Refiner.Rank(snap, q)
	logger.Debug("refinement complete",
		"capability", q.Capability,
		"area", q.Area,
		"candidates", len(matches),
	)
	if len(matches) == 0 {
		o.status, o.response = message.StatusClarificationNeeded, TextNoMatch
		return o
	}

	// Step 3b: Ask the interpreter for a structured action.
	action, err := d.deps.Interpreter.Interpret(ctx, interpreter.Input{
		Text:       r.Text,
		SourceArea: sourceArea,
		Candidates: matches,
		Context:    d.conversationContext(r.ConversationID),
	})
	if err != nil {
		var parseErr *interpreter.ParseError
		if errors.As(err, &parseErr) {
			logger.Warn("interpreter reply rejected", "error", err)
			o.status, o.response, o.detail = message.StatusClarificationNeeded, TextParseFailure, err.Error()
			return o
		}
		logger.Error("interpretation failed", "error", err)
		o.status, o.response, o.detail = message.StatusFailed, TextProviderFailure, err.Error()
		return o
	}
	o.action = action
	logger.Info("interpretation complete", "intent", action.Intent, "action", action.Action, "targets", action.TargetEntityIDs)

	if action.Intent == message.IntentClarify {
		o.status, o.response = message.StatusClarificationNeeded, action.Reply
		if o.response == "" {
			o.response = TextNoMatch
		}
		return o
	}

	// Step 3c: Keep only targets present in this round's snapshot.
	action.TargetEntityIDs = d.knownTargets(logger, action.TargetEntityIDs, snap)
	if len(action.TargetEntityIDs) == 0 {
		o.status, o.response = message.StatusClarificationNeeded, TextNoMatch
		return o
	}
	o.targets = action.TargetEntityIDs

	// Step 4: Apply the confirmation policy.
	amb := d.deps.Refiner.Ambiguity(matches)
	if amb != nil && !overlaps(amb.IDs(), action.TargetEntityIDs) {
		amb = nil
	}
	if amb != nil {
		action.Ambiguous = true
		action.Alternatives = amb.IDs()
	}
	decision := d.deps.Policy.Evaluate(action, snap, amb)
	if decision.Required {
		action.RequiresConfirmation = true
		if _, err := d.deps.Confirm.Open(ctx, r, action, decision, now); err != nil {
			logger.Error("opening confirmation failed", "error", err)
			o.status, o.response, o.detail = message.StatusFailed, TextProviderFailure, err.Error()
			return o
		}
		logger.Info("confirmation required", "reasons", decision.Reasons)
		o.status, o.response = message.StatusAwaitingConfirmation, decision.Prompt
		return o
	}

	// Step 5: Execute.
	return d.execute(ctx, logger, o, snap)
}

// executeConfirmed re-validates a confirmed action against a fresh snapshot
// and executes it.
func (d *Dispatcher) executeConfirmed(ctx context.Context, logger *slog.Logger, out confirm.Outcome) outcome {
	o := outcome{req: out.Session.Request, action: out.Action}

	snap, err := d.deps.Inventory.Snapshot(ctx)
	if err != nil {
		logger.Error("inventory unavailable", "error", err)
		o.status, o.response, o.detail = message.StatusFailed, TextProviderFailure, err.Error()
		return o
	}
	out.Action.TargetEntityIDs = d.knownTargets(logger, out.Action.TargetEntityIDs, snap)
	if len(out.Action.TargetEntityIDs) == 0 {
		o.status, o.response = message.StatusClarificationNeeded, TextNoMatch
		return o
	}
	o.targets = out.Action.TargetEntityIDs
	return d.execute(ctx, logger, o, snap)
}

func declined(s *confirm.Session, detail string) outcome {
	return outcome{
		req:      s.Request,
		action:   s.Action,
		status:   message.StatusDeclined,
		response: TextCanceled,
		detail:   detail,
		targets:  s.Action.TargetEntityIDs,
	}
}

func (d *Dispatcher) knownTargets(logger *slog.Logger, ids []string, snap *inventory.Snapshot) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := snap.Lookup(id); !ok {
			logger.Warn("dropping target not in inventory", "entity_id", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (d *Dispatcher) conversationContext(conversationID string) []interpreter.Turn {
	if d.deps.History == nil || d.deps.ContextTurns <= 0 {
		return nil
	}
	var turns []interpreter.Turn
	for _, rec := range d.deps.History.Conversation(conversationID, d.deps.ContextTurns) {
		turns = append(turns,
			interpreter.Turn{Role: "user", Content: rec.RequestText},
			interpreter.Turn{Role: "assistant", Content: rec.ResponseText},
		)
	}
	return turns
}

// finish records the outcome and builds the caller's result.
func (d *Dispatcher) finish(ctx context.Context, logger *slog.Logger, start time.Time, o outcome) *message.Result {
	d.record(ctx, logger, start, o)
	logger.Info("command complete",
		"status", o.status,
		"targets", len(o.targets),
		"duration", d.now().Sub(start),
	)
	return &message.Result{
		ConversationID:       o.req.ConversationID,
		ResponseText:         o.response,
		Status:               o.status,
		AwaitingConfirmation: o.status == message.StatusAwaitingConfirmation,
		Targets:              o.targets,
	}
}

func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, at time.Time, o outcome) {
	if d.deps.History == nil {
		return
	}
	rec := history.Record{
		Timestamp:       at,
		ConversationID:  o.req.ConversationID,
		RequestText:     o.req.Text,
		SourceDeviceID:  o.req.SourceDeviceID,
		TargetEntityIDs: o.targets,
		Status:          o.status,
		ResponseText:    o.response,
		ErrorDetail:     o.detail,
	}
	if o.action != nil {
		rec.Intent = o.action.Intent
		rec.Action = o.action.Action
		rec.Parameters = o.action.Parameters
	}
	if _, err := d.deps.History.Append(ctx, rec); err != nil {
		logger.Error("writing history record failed", "error", err)
	}
}

// RunJanitor expires stale confirmations until ctx is done. Each expired
// session is recorded as declined.
func (d *Dispatcher) RunJanitor(ctx context.Context) {
	interval := d.deps.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep expires stale confirmations once and returns how many it removed.
func (d *Dispatcher) Sweep(ctx context.Context) int {
	now := d.now()
	expired, err := d.deps.Confirm.Sweep(ctx, now)
	if err != nil {
		slog.Error("sweeping confirmations failed", "error", err)
	}
	for _, s := range expired {
		logger := slog.With("conversation_id", s.ConversationID, "source", s.Request.SourceDeviceID)
		logger.Info("confirmation expired")
		d.record(ctx, logger, now, declined(s, confirm.ErrSessionExpired.Error()))
	}
	return len(expired)
}
