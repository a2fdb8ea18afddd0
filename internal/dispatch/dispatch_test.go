package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/hearth/internal/confirm"
	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/interpreter"
	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/music"
	"github.com/nadzzz/hearth/internal/platform"
	"github.com/nadzzz/hearth/internal/platform/static"
	"github.com/nadzzz/hearth/internal/refine"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

var house = []inventory.Entity{
	{ID: "light.bedroom", Name: "Bedroom Light", Area: "Bedroom"},
	{ID: "light.kitchen", Name: "Kitchen Light", Area: "Kitchen"},
	{ID: "light.living_room", Name: "Living Room Light", Area: "Living Room"},
	{ID: "lock.front_door", Name: "Front Door", Area: "Hallway"},
	{ID: "media_player.kitchen", Name: "Kitchen Speaker", Area: "Kitchen"},
}

var sources = map[string]string{
	"sat-bedroom": "Bedroom",
	"sat-kitchen": "Kitchen",
	"sat-office":  "Office",
}

// scripted answers Interpret with a fixed function and records inputs.
type scripted struct {
	mu     sync.Mutex
	inputs []interpreter.Input
	reply  func(in interpreter.Input) (*message.CandidateAction, error)
}

func (s *scripted) Interpret(_ context.Context, in interpreter.Input) (*message.CandidateAction, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
	return s.reply(in)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// topCandidate acts on the best ranked candidate.
func topCandidate(action string, params map[string]any) *scripted {
	return &scripted{reply: func(in interpreter.Input) (*message.CandidateAction, error) {
		return &message.CandidateAction{
			Intent:          message.IntentDeviceControl,
			Action:          action,
			TargetEntityIDs: []string{in.Candidates[0].Entity.ID},
			Parameters:      params,
		}, nil
	}}
}

func targeting(action string, ids ...string) *scripted {
	return &scripted{reply: func(interpreter.Input) (*message.CandidateAction, error) {
		return &message.CandidateAction{Intent: message.IntentDeviceControl, Action: action, TargetEntityIDs: ids}, nil
	}}
}

type fakeMusic struct {
	mu    sync.Mutex
	plays []string
}

func (m *fakeMusic) Search(_ context.Context, query string) (music.TrackRef, error) {
	if query == "artist:Nobody" {
		return music.TrackRef{}, music.ErrNotFound
	}
	return music.TrackRef{URI: "spotify:artist:0kbYTNQb4Pb1rPbbaF0pT4", Kind: "artist"}, nil
}

func (m *fakeMusic) Play(_ context.Context, ref music.TrackRef, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays = append(m.plays, ref.URI+"@"+entityID)
	return nil
}

type harness struct {
	d        *Dispatcher
	platform *static.Platform
	history  *history.Log
	music    *fakeMusic
	now      atomic.Pointer[time.Time]
}

func newHarness(t *testing.T, entities []inventory.Entity, interp Interpreter, offline ...string) *harness {
	t.Helper()
	h := &harness{
		platform: static.New(entities, sources, offline...),
		history:  history.New(nil, 0),
		music:    &fakeMusic{},
	}
	h.set(t0)
	h.d = New(Deps{
		Inventory:   inventory.NewCache(h.platform, 0, 0),
		Rooms:       platform.NewRooms(nil, h.platform),
		Refiner:     refine.New(10, 10),
		Interpreter: interp,
		Policy:      confirm.NewPolicy(confirm.PolicyConfig{ClimateMin: 16, ClimateMax: 26, ClimateMaxDelta: 5}),
		Confirm:     confirm.NewManager(confirm.NewMemoryStore(), 300*time.Second, 1),
		Devices:     h.platform,
		Music:       h.music,
		History:     h.history,

		ContextTurns: 3,
	})
	h.d.now = func() time.Time { return *h.now.Load() }
	return h
}

func (h *harness) set(t time.Time) { h.now.Store(&t) }

func (h *harness) say(t *testing.T, source, text string) *message.Result {
	t.Helper()
	res, err := h.d.Handle(context.Background(), &message.CommandRequest{Text: text, SourceDeviceID: source})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (h *harness) last() history.Record {
	recs := h.history.List()
	return recs[len(recs)-1]
}

func TestSourceRoomPicksBedroomLight(t *testing.T) {
	interp := topCandidate("turn_on", map[string]any{"brightness_pct": 50})
	h := newHarness(t, house, interp)

	res := h.say(t, "sat-bedroom", "dim the lights to 50%")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Equal(t, "Set the Bedroom Light to 50% brightness.", res.ResponseText)
	assert.Equal(t, "sat-bedroom", res.ConversationID)
	assert.Equal(t, []string{"light.bedroom"}, res.Targets)

	assert.Equal(t, []static.Call{{EntityID: "light.bedroom", Action: "turn_on", Params: map[string]any{"brightness_pct": 50}}}, h.platform.Calls())
	assert.Equal(t, "Bedroom", interp.inputs[0].SourceArea)

	require.Equal(t, 1, h.history.Len())
	rec := h.last()
	assert.Equal(t, message.StatusSucceeded, rec.Status)
	assert.Equal(t, "dim the lights to 50%", rec.RequestText)
	assert.Equal(t, "sat-bedroom", rec.SourceDeviceID)
	assert.Equal(t, "turn_on", rec.Action)
}

func TestHighImpactWaitsForYes(t *testing.T) {
	interp := targeting("unlock", "lock.front_door")
	h := newHarness(t, house, interp)

	res := h.say(t, "sat-kitchen", "unlock the front door")
	assert.Equal(t, message.StatusAwaitingConfirmation, res.Status)
	assert.True(t, res.AwaitingConfirmation)
	assert.Equal(t, "Unlock the Front Door in the hallway? Say yes to confirm or no to cancel.", res.ResponseText)
	assert.Empty(t, h.platform.Calls(), "nothing dispatched before the reply")

	res = h.say(t, "sat-kitchen", "yes")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Equal(t, "Unlocked the Front Door in the hallway.", res.ResponseText)
	assert.Len(t, h.platform.Calls(), 1)
	assert.Equal(t, 1, interp.calls(), "a reply is not re-interpreted")

	recs := h.history.List()
	require.Len(t, recs, 2)
	assert.Equal(t, message.StatusAwaitingConfirmation, recs[0].Status)
	assert.Equal(t, message.StatusSucceeded, recs[1].Status)
	assert.Equal(t, "unlock the front door", recs[1].RequestText)
}

func TestDeclineNeverDispatches(t *testing.T) {
	h := newHarness(t, house, targeting("unlock", "lock.front_door"))

	h.say(t, "sat-kitchen", "unlock the front door")
	res := h.say(t, "sat-kitchen", "no")
	assert.Equal(t, message.StatusDeclined, res.Status)
	assert.Equal(t, TextCanceled, res.ResponseText)
	assert.Empty(t, h.platform.Calls())
	assert.Equal(t, message.StatusDeclined, h.last().Status)

	res = h.say(t, "sat-kitchen", "yes")
	assert.NotEqual(t, message.StatusSucceeded, res.Status, "declined session is gone")
	assert.Empty(t, h.platform.Calls())
}

func TestSameRoomTieForcesConfirmation(t *testing.T) {
	office := []inventory.Entity{
		{ID: "light.desk_lamp", Name: "Desk Lamp", Area: "Office"},
		{ID: "light.floor_lamp", Name: "Floor Lamp", Area: "Office"},
	}
	h := newHarness(t, office, topCandidate("turn_on", nil))

	res := h.say(t, "sat-office", "turn on the lamp")
	assert.Equal(t, message.StatusAwaitingConfirmation, res.Status)
	assert.Equal(t, "Did you mean the Desk Lamp in the office or the Floor Lamp in the office?", res.ResponseText)
	assert.Empty(t, h.platform.Calls())

	res = h.say(t, "sat-office", "the floor one")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Equal(t, "Turned on the Floor Lamp in the office.", res.ResponseText)
	assert.Equal(t, []static.Call{{EntityID: "light.floor_lamp", Action: "turn_on"}}, h.platform.Calls())
}

func TestBareYesToTieAsksWhichOne(t *testing.T) {
	office := []inventory.Entity{
		{ID: "light.desk_lamp", Name: "Desk Lamp", Area: "Office"},
		{ID: "light.floor_lamp", Name: "Floor Lamp", Area: "Office"},
	}
	h := newHarness(t, office, topCandidate("turn_on", nil))

	h.say(t, "sat-office", "turn on the lamp")
	res := h.say(t, "sat-office", "yes")
	assert.Equal(t, message.StatusAwaitingConfirmation, res.Status)
	assert.Equal(t, "Which one: the Desk Lamp in the office or the Floor Lamp in the office?", res.ResponseText)
	assert.Empty(t, h.platform.Calls())

	res = h.say(t, "sat-office", "the floor one")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Equal(t, []static.Call{{EntityID: "light.floor_lamp", Action: "turn_on"}}, h.platform.Calls())
}

func TestMultiRoomPromptNamesEveryRoom(t *testing.T) {
	h := newHarness(t, house, targeting("turn_on", "light.kitchen", "light.living_room"))

	res := h.say(t, "sat-hall", "turn on the lights")
	assert.Equal(t, message.StatusAwaitingConfirmation, res.Status)
	assert.Equal(t, "Turn on the Kitchen Light and the Living Room Light? Say yes to confirm or no to cancel.", res.ResponseText)

	res = h.say(t, "sat-hall", "yes")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Equal(t, "Turned on the Kitchen Light and the Living Room Light.", res.ResponseText)
	assert.Len(t, h.platform.Calls(), 2)
}

func TestPartialFailureNamesDeviceAndRoom(t *testing.T) {
	h := newHarness(t, house, targeting("turn_off", "light.living_room", "light.kitchen"), "light.kitchen")

	res := h.say(t, "sat-bedroom", "turn off the lights")
	require.Equal(t, message.StatusAwaitingConfirmation, res.Status)
	assert.Equal(t, "Turn off the Living Room Light and the Kitchen Light? Say yes to confirm or no to cancel.", res.ResponseText)

	res = h.say(t, "sat-bedroom", "yes")
	assert.Equal(t, message.StatusFailed, res.Status)
	assert.Equal(t, "Turned off the Living Room Light, but I couldn't reach the Kitchen Light (device offline).", res.ResponseText)
	assert.Equal(t, []static.Call{{EntityID: "light.living_room", Action: "turn_off"}}, h.platform.Calls())
	assert.Contains(t, h.last().ErrorDetail, "light.kitchen")
}

func TestNegatedReplyNamingARoomDeclines(t *testing.T) {
	h := newHarness(t, house, targeting("turn_off", "light.living_room", "light.kitchen"))

	res := h.say(t, "sat-bedroom", "turn off the lights")
	require.Equal(t, message.StatusAwaitingConfirmation, res.Status)

	res = h.say(t, "sat-bedroom", "don't turn off the kitchen")
	assert.Equal(t, message.StatusDeclined, res.Status)
	assert.Empty(t, h.platform.Calls())
}

func TestAllTargetsFailing(t *testing.T) {
	h := newHarness(t, house, topCandidate("turn_on", nil), "light.bedroom")

	res := h.say(t, "sat-bedroom", "turn on the light")
	assert.Equal(t, message.StatusFailed, res.Status)
	assert.Equal(t, "Sorry, I couldn't reach the Bedroom Light (device offline).", res.ResponseText)
}

type failingProvider struct{ calls atomic.Int32 }

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Complete(context.Context, interpreter.Prompt) (string, error) {
	p.calls.Add(1)
	return "", &interpreter.ProviderError{Op: "complete", Transient: true, Err: errors.New("upstream timeout")}
}

func TestProviderErrorAfterRetryFails(t *testing.T) {
	provider := &failingProvider{}
	h := newHarness(t, house, interpreter.New(provider, time.Millisecond))

	res := h.say(t, "sat-bedroom", "turn on the light")
	assert.Equal(t, message.StatusFailed, res.Status)
	assert.Equal(t, TextProviderFailure, res.ResponseText)
	assert.Equal(t, int32(2), provider.calls.Load(), "one retry")
	assert.Empty(t, h.platform.Calls())
	assert.Contains(t, h.last().ErrorDetail, "upstream timeout")
}

type garbageProvider struct{}

func (garbageProvider) Name() string { return "garbage" }

func (garbageProvider) Complete(context.Context, interpreter.Prompt) (string, error) {
	return "I think you want the lights on!", nil
}

func TestParseErrorAsksToRephrase(t *testing.T) {
	h := newHarness(t, house, interpreter.New(garbageProvider{}, time.Millisecond))

	res := h.say(t, "sat-bedroom", "turn on the light")
	assert.Equal(t, message.StatusClarificationNeeded, res.Status)
	assert.Equal(t, TextParseFailure, res.ResponseText)
	assert.Empty(t, h.platform.Calls())
}

func TestNoMatchAsksWhichDevice(t *testing.T) {
	interp := topCandidate("turn_on", nil)
	h := newHarness(t, house, interp)

	res := h.say(t, "sat-bedroom", "turn on the xylophone")
	assert.Equal(t, message.StatusClarificationNeeded, res.Status)
	assert.Equal(t, TextNoMatch, res.ResponseText)
	assert.Equal(t, 0, interp.calls())
	assert.Equal(t, message.StatusClarificationNeeded, h.last().Status)
}

func TestUnknownTargetsAreDropped(t *testing.T) {
	h := newHarness(t, house, targeting("turn_on", "light.garage"))

	res := h.say(t, "sat-bedroom", "turn on the light")
	assert.Equal(t, message.StatusClarificationNeeded, res.Status)
	assert.Empty(t, h.platform.Calls())
}

func TestClarifyIntentUsesInterpreterQuestion(t *testing.T) {
	h := newHarness(t, house, &scripted{reply: func(interpreter.Input) (*message.CandidateAction, error) {
		return &message.CandidateAction{Intent: message.IntentClarify, Reply: "Which light, bedroom or kitchen?"}, nil
	}})

	res := h.say(t, "sat-bedroom", "turn on the light")
	assert.Equal(t, message.StatusClarificationNeeded, res.Status)
	assert.Equal(t, "Which light, bedroom or kitchen?", res.ResponseText)
}

func TestExpiredConfirmationIsImplicitDecline(t *testing.T) {
	interp := targeting("unlock", "lock.front_door")
	h := newHarness(t, house, interp)

	h.say(t, "sat-kitchen", "unlock the front door")
	h.set(t0.Add(301 * time.Second))

	res := h.say(t, "sat-kitchen", "yes")
	assert.NotEqual(t, message.StatusSucceeded, res.Status)
	assert.Empty(t, h.platform.Calls())

	recs := h.history.List()
	require.Len(t, recs, 3)
	assert.Equal(t, message.StatusDeclined, recs[1].Status)
	assert.Equal(t, confirm.ErrSessionExpired.Error(), recs[1].ErrorDetail)
	assert.Equal(t, "unlock the front door", recs[1].RequestText)
}

func TestSweepRecordsExpiredSessions(t *testing.T) {
	h := newHarness(t, house, targeting("unlock", "lock.front_door"))

	h.say(t, "sat-kitchen", "unlock the front door")
	assert.Equal(t, 0, h.d.Sweep(context.Background()))

	h.set(t0.Add(301 * time.Second))
	assert.Equal(t, 1, h.d.Sweep(context.Background()))
	rec := h.last()
	assert.Equal(t, message.StatusDeclined, rec.Status)
	assert.Equal(t, confirm.ErrSessionExpired.Error(), rec.ErrorDetail)

	res := h.say(t, "sat-kitchen", "yes")
	assert.Equal(t, message.StatusClarificationNeeded, res.Status)
	assert.Empty(t, h.platform.Calls())
}

func TestUnrecognizedReplyRepromptsThenInterpretsFresh(t *testing.T) {
	interp := targeting("unlock", "lock.front_door")
	h := newHarness(t, house, interp)

	h.say(t, "sat-kitchen", "unlock the front door")
	res := h.say(t, "sat-kitchen", "hmm")
	assert.Equal(t, message.StatusAwaitingConfirmation, res.Status)
	assert.Equal(t, "Please say yes or no. Unlock the Front Door in the hallway? Say yes to confirm or no to cancel.", res.ResponseText)

	res = h.say(t, "sat-kitchen", "what")
	assert.NotEqual(t, message.StatusSucceeded, res.Status)
	assert.Empty(t, h.platform.Calls())
}

func TestMediaSearchPlaysOnTarget(t *testing.T) {
	h := newHarness(t, house, &scripted{reply: func(interpreter.Input) (*message.CandidateAction, error) {
		return &message.CandidateAction{
			Intent:          message.IntentMediaSearchPlay,
			Action:          "play_media",
			TargetEntityIDs: []string{"media_player.kitchen"},
			MediaQuery:      "artist:Miles Davis",
		}, nil
	}})

	res := h.say(t, "sat-kitchen", "play miles davis in the kitchen")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Equal(t, "Playing Miles Davis on the Kitchen Speaker.", res.ResponseText)
	assert.Equal(t, []string{"spotify:artist:0kbYTNQb4Pb1rPbbaF0pT4@media_player.kitchen"}, h.music.plays)
}

func TestMediaNotFound(t *testing.T) {
	h := newHarness(t, house, &scripted{reply: func(interpreter.Input) (*message.CandidateAction, error) {
		return &message.CandidateAction{
			Intent:          message.IntentMediaSearchPlay,
			Action:          "play_media",
			TargetEntityIDs: []string{"media_player.kitchen"},
			MediaQuery:      "artist:Nobody",
		}, nil
	}})

	res := h.say(t, "sat-kitchen", "play nobody in the kitchen")
	assert.Equal(t, message.StatusFailed, res.Status)
	assert.Equal(t, "Sorry, I couldn't find Nobody.", res.ResponseText)
	assert.Empty(t, h.music.plays)
}

func TestConversationContextReachesInterpreter(t *testing.T) {
	interp := topCandidate("turn_on", map[string]any{"brightness_pct": 50})
	h := newHarness(t, house, interp)

	h.say(t, "sat-bedroom", "dim the lights to 50%")
	h.say(t, "sat-bedroom", "dim the lights to 50%")

	require.Equal(t, 2, interp.calls())
	assert.Empty(t, interp.inputs[0].Context)
	assert.Equal(t, []interpreter.Turn{
		{Role: "user", Content: "dim the lights to 50%"},
		{Role: "assistant", Content: "Set the Bedroom Light to 50% brightness."},
	}, interp.inputs[1].Context)
}

func TestConversationsDoNotCrossTalk(t *testing.T) {
	h := newHarness(t, house, targeting("unlock", "lock.front_door"))

	h.say(t, "sat-kitchen", "unlock the front door")
	h.say(t, "sat-bedroom", "unlock the front door")

	res := h.say(t, "sat-bedroom", "no")
	assert.Equal(t, message.StatusDeclined, res.Status)
	assert.Empty(t, h.platform.Calls())

	res = h.say(t, "sat-kitchen", "yes")
	assert.Equal(t, message.StatusSucceeded, res.Status)
	assert.Len(t, h.platform.Calls(), 1)
}

func TestConcurrentHandles(t *testing.T) {
	h := newHarness(t, house, topCandidate("turn_on", nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.d.Handle(context.Background(), &message.CommandRequest{
				Text:           "turn on the light",
				SourceDeviceID: "sat-bedroom",
				ConversationID: fmt.Sprintf("conv-%d", i),
			})
			assert.NoError(t, err)
			assert.Equal(t, message.StatusSucceeded, res.Status)
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.platform.Calls(), 20)
	assert.Equal(t, 20, h.history.Len())
}

func TestNilRequest(t *testing.T) {
	h := newHarness(t, house, topCandidate("turn_on", nil))
	_, err := h.d.Handle(context.Background(), nil)
	require.Error(t, err)
}
