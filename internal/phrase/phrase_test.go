package phrase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/hearth/internal/inventory"
)

func TestEntityNamesTheRoom(t *testing.T) {
	assert.Equal(t, "the Lamp in the living room", Entity(inventory.Entity{ID: "light.lamp", Name: "Lamp", Area: "Living Room"}))
	assert.Equal(t, "the Kitchen Light", Entity(inventory.Entity{ID: "light.k", Name: "Kitchen Light", Area: "Kitchen"}))
	assert.Equal(t, "the Porch Light", Entity(inventory.Entity{ID: "light.p", Name: "Porch Light"}))
	assert.Equal(t, "the light.x", Entity(inventory.Entity{ID: "light.x"}))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join(nil, "or"))
	assert.Equal(t, "a", Join([]string{"a"}, "or"))
	assert.Equal(t, "a or b", Join([]string{"a", "b"}, "or"))
	assert.Equal(t, "a, b, and c", Join([]string{"a", "b", "c"}, "and"))
}

func TestRoomsDeduplicates(t *testing.T) {
	rooms := Rooms([]inventory.Entity{
		{Area: "Kitchen"}, {Area: ""}, {Area: "kitchen"}, {Area: "Den"},
	})
	assert.Equal(t, []string{"Kitchen", "Den"}, rooms)
}

func TestCommand(t *testing.T) {
	target := "the Bedroom Light"
	assert.Equal(t, "Turned on the Bedroom Light", Command("turn_on", nil, target, true))
	assert.Equal(t, "Set the Bedroom Light to 50% brightness", Command("turn_on", map[string]any{"brightness_pct": 50.0}, target, true))
	assert.Equal(t, "Set the Thermostat to 21.5 degrees", Command("set_temperature", map[string]any{"temperature": "21.5"}, "the Thermostat", false))
	assert.Equal(t, "Set the volume of the Speaker to 30%", Command("volume_set", map[string]any{"volume_level": 0.3}, "the Speaker", true))
	assert.Equal(t, "Unlock the Front Door", Command("unlock", nil, "the Front Door", false))
	assert.Equal(t, "Ran select source on the TV", Command("select_source", nil, "the TV", true))
	assert.Equal(t, "Run select source on the TV", Command("select_source", nil, "the TV", false))
}

func TestNumber(t *testing.T) {
	n, ok := Number(3)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, n, 0.0001)
	_, ok = Number("warm")
	assert.False(t, ok)
	_, ok = Number(nil)
	assert.False(t, ok)
}

func TestMediaLabel(t *testing.T) {
	assert.Equal(t, "Miles Davis", MediaLabel("artist:Miles Davis"))
	assert.Equal(t, "Focus", MediaLabel("Playlist: Focus"))
	assert.Equal(t, "taxi: the song", MediaLabel("taxi: the song"))
	assert.Equal(t, "music", MediaLabel("track:"))
	assert.Equal(t, "music", MediaLabel(""))
}
