package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/hearth/internal/message"
)

func echo(_ context.Context, req *message.CommandRequest) (*message.Result, error) {
	return &message.Result{ConversationID: req.SourceDeviceID, ResponseText: req.Text}, nil
}

func TestValidate(t *testing.T) {
	req := &message.CommandRequest{Text: "  turn on the light ", SourceDeviceID: " sat-1 "}
	require.NoError(t, Validate(req))
	assert.Equal(t, "turn on the light", req.Text)
	assert.Equal(t, "sat-1", req.SourceDeviceID)

	err := Validate(&message.CommandRequest{Text: "   "})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"Text is required", "SourceDeviceID is required"}, ve.Fields)

	require.ErrorAs(t, Validate(nil), &ve)
}

func TestLimiterIsPerSource(t *testing.T) {
	l := NewLimiter(0.001, 2)
	assert.True(t, l.Allow("sat-1"))
	assert.True(t, l.Allow("sat-1"))
	assert.False(t, l.Allow("sat-1"))
	assert.True(t, l.Allow("sat-2"))
}

func TestLimiterBoundsTrackedSources(t *testing.T) {
	l := NewLimiter(0.001, 1)
	l.maxSources = 3
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for _, src := range []string{"sat-1", "sat-2", "sat-3"} {
		assert.True(t, l.Allow(src))
		now = now.Add(time.Second)
	}
	assert.False(t, l.Allow("sat-2"), "sat-2 is now the most recent")

	// At the cap, the least recently seen source gives up its bucket.
	assert.True(t, l.Allow("sat-4"))
	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Allow("sat-1"), "sat-1 was evicted and starts with a full bucket")
	assert.False(t, l.Allow("sat-2"), "recently seen sources keep their state")

	// Idle buckets are dropped together once the cap is hit again.
	now = now.Add(11 * time.Minute)
	assert.False(t, l.Allow("sat-4"), "sat-4 has not refilled at this rate")
	assert.True(t, l.Allow("sat-5"))
	assert.Equal(t, 2, l.Len())
}

func TestNilLimiterAllows(t *testing.T) {
	l := NewLimiter(0, 0)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("sat-1"))
	}
}

func TestGuard(t *testing.T) {
	h := Guard(echo, NewLimiter(0.001, 1))
	ctx := context.Background()

	res, err := h(ctx, &message.CommandRequest{Text: "hi", SourceDeviceID: "sat-1"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.ResponseText)

	_, err = h(ctx, &message.CommandRequest{Text: "hi", SourceDeviceID: "sat-1"})
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = h(ctx, &message.CommandRequest{SourceDeviceID: "sat-2"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}
