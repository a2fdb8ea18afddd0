package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/confirm"
	"github.com/nadzzz/hearth/internal/message"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "hearth:confirm:")
	s.now = func() time.Time { return t0 }
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func session(conv string, expires time.Time) *confirm.Session {
	return &confirm.Session{
		ConversationID: conv,
		Request:        message.CommandRequest{Text: "unlock the front door", SourceDeviceID: conv, ConversationID: conv},
		Action: &message.CandidateAction{
			Intent:          message.IntentDeviceControl,
			Action:          "unlock",
			TargetEntityIDs: []string{"lock.front_door"},
			Parameters:      map[string]any{"code": "1234"},
		},
		Options:   []confirm.Option{{EntityID: "lock.front_door", Name: "Front Door", Area: "Hallway"}},
		Reasons:   []confirm.Reason{confirm.ReasonHighImpact},
		Prompt:    "Unlock the Front Door in the hallway? Say yes to confirm or no to cancel.",
		CreatedAt: t0,
		ExpiresAt: expires,
	}
}

func TestPutTakeRoundTrip(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, session("sat-1", t0.Add(5*time.Minute))))
	assert.True(t, mr.Exists("hearth:confirm:sat-1"))
	assert.Equal(t, 6*time.Minute, mr.TTL("hearth:confirm:sat-1"))

	got, err := s.Take(ctx, "sat-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "unlock", got.Action.Action)
	assert.Equal(t, []string{"lock.front_door"}, got.Action.TargetEntityIDs)
	assert.Equal(t, "1234", got.Action.Parameters["code"])
	assert.True(t, got.ExpiresAt.Equal(t0.Add(5*time.Minute)))
	assert.False(t, mr.Exists("hearth:confirm:sat-1"))

	got, err = s.Take(ctx, "sat-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionDisappearsAfterTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, session("sat-1", t0.Add(time.Minute))))
	mr.FastForward(3 * time.Minute)

	got, err := s.Take(ctx, "sat-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSweepTakesExpiredOnly(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, session("sat-old", t0.Add(time.Minute))))
	require.NoError(t, s.Put(ctx, session("sat-new", t0.Add(10*time.Minute))))
	require.NoError(t, mr.Set("other:key", "x"))

	expired, err := s.Sweep(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "sat-old", expired[0].ConversationID)

	assert.False(t, mr.Exists("hearth:confirm:sat-old"))
	assert.True(t, mr.Exists("hearth:confirm:sat-new"))
	assert.True(t, mr.Exists("other:key"))
}

func TestWorksWithManager(t *testing.T) {
	s, _ := newStore(t)
	m := confirm.NewManager(s, 5*time.Minute, 1)
	ctx := context.Background()

	_, err := m.Open(ctx,
		message.CommandRequest{Text: "unlock the front door", SourceDeviceID: "sat-1", ConversationID: "sat-1"},
		&message.CandidateAction{Intent: message.IntentDeviceControl, Action: "unlock", TargetEntityIDs: []string{"lock.front_door"}},
		confirm.Decision{Required: true, Reasons: []confirm.Reason{confirm.ReasonHighImpact}},
		t0,
	)
	require.NoError(t, err)

	out, err := m.Resolve(ctx, "sat-1", "yes please", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, confirm.StateConfirmed, out.State)
	assert.True(t, out.Action.RequiresConfirmation)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
