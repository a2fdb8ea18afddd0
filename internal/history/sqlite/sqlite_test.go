package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/message"
)

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendEvictsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	store := open(t, path)

	log := history.New(store, 5)
	for i := 0; i < 8; i++ {
		_, err := log.Append(ctx, history.Record{
			ConversationID:  "sat-1",
			RequestText:     fmt.Sprintf("request %d", i),
			SourceDeviceID:  "sat-1",
			Intent:          message.IntentDeviceControl,
			Action:          "turn_on",
			TargetEntityIDs: []string{"light.bedroom"},
			Parameters:      map[string]any{"brightness_pct": 50},
			Status:          message.StatusSucceeded,
			ResponseText:    "Set the Bedroom Light to 50% brightness.",
		})
		require.NoError(t, err)
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	recs, err := store.Load(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "request 3", recs[0].RequestText)
	assert.Equal(t, "request 7", recs[4].RequestText)
	assert.Equal(t, log.List()[4].ID, recs[4].ID)
	assert.Equal(t, []string{"light.bedroom"}, recs[4].TargetEntityIDs)
	assert.EqualValues(t, 50, recs[4].Parameters["brightness_pct"])
	assert.Equal(t, message.IntentDeviceControl, recs[4].Intent)
	assert.True(t, recs[4].Timestamp.Equal(log.List()[4].Timestamp))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first := open(t, path)
	_, err := history.New(first, 0).Append(context.Background(), history.Record{RequestText: "hi", Status: message.StatusFailed})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := open(t, path)
	recs, err := second.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, message.StatusFailed, recs[0].Status)
	assert.Empty(t, recs[0].Parameters)
}
