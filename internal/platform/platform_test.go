package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type resolverFunc func(ctx context.Context, id string) (string, error)

func (f resolverFunc) SourceArea(ctx context.Context, id string) (string, error) { return f(ctx, id) }

func TestRoomsPreferConfiguredMapping(t *testing.T) {
	calls := 0
	r := NewRooms(map[string]string{"sat-kitchen": "Kitchen"}, resolverFunc(func(_ context.Context, id string) (string, error) {
		calls++
		if id == "sat-bedroom" {
			return "Bedroom", nil
		}
		return "", errors.New("unknown device")
	}))
	ctx := context.Background()

	assert.Equal(t, "Kitchen", r.SourceArea(ctx, "sat-kitchen"))
	assert.Equal(t, 0, calls)
	assert.Equal(t, "Bedroom", r.SourceArea(ctx, "sat-bedroom"))
	assert.Equal(t, "", r.SourceArea(ctx, "sat-garage"))
	assert.Equal(t, "", r.SourceArea(ctx, ""))
	assert.Equal(t, 2, calls)
}

func TestRoomsWithoutResolver(t *testing.T) {
	static := map[string]string{"sat-1": "Office"}
	r := NewRooms(static, nil)
	static["sat-1"] = "Garage"

	assert.Equal(t, "Office", r.SourceArea(context.Background(), "sat-1"))
	assert.Equal(t, "", r.SourceArea(context.Background(), "sat-2"))
}
