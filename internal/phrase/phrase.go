// Package phrase renders the sentences hearth speaks back to users.
//
// Every device reference carries its room so the user always hears where an
// action happened: "the Lamp in the living room". The room is left out only
// when the device name already contains it ("the Kitchen Light").
package phrase

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/refine"
)

// Entity returns "the <name>" plus " in the <room>" when the name does not
// already say the room.
func Entity(e inventory.Entity) string {
	name := e.Name
	if name == "" {
		name = e.ID
	}
	out := "the " + name
	if e.Area == "" {
		return out
	}
	area := refine.Normalize(e.Area)
	if strings.Contains(" "+refine.Normalize(name)+" ", " "+area+" ") {
		return out
	}
	return out + " in the " + strings.ToLower(e.Area)
}

// Entities joins the phrases of es with conj ("and", "or").
func Entities(es []inventory.Entity, conj string) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = Entity(e)
	}
	return Join(parts, conj)
}

// Join renders "a", "a or b", "a, b, or c".
func Join(parts []string, conj string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " " + conj + " " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", " + conj + " " + parts[len(parts)-1]
}

// Rooms returns the distinct non-empty rooms of es in order.
func Rooms(es []inventory.Entity) []string {
	seen := make(map[string]bool)
	var rooms []string
	for _, e := range es {
		key := refine.Normalize(e.Area)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		rooms = append(rooms, e.Area)
	}
	return rooms
}

type verb struct {
	imperative string
	past       string
}

var verbs = map[string]verb{
	"turn_on":          {"Turn on", "Turned on"},
	"turn_off":         {"Turn off", "Turned off"},
	"toggle":           {"Toggle", "Toggled"},
	"lock":             {"Lock", "Locked"},
	"unlock":           {"Unlock", "Unlocked"},
	"open":             {"Open", "Opened"},
	"open_cover":       {"Open", "Opened"},
	"close_cover":      {"Close", "Closed"},
	"stop_cover":       {"Stop", "Stopped"},
	"set_temperature":  {"Set", "Set"},
	"alarm_disarm":     {"Disarm", "Disarmed"},
	"alarm_arm_away":   {"Arm", "Armed"},
	"alarm_arm_home":   {"Arm", "Armed"},
	"media_pause":      {"Pause", "Paused"},
	"media_play":       {"Resume", "Resumed"},
	"media_stop":       {"Stop", "Stopped"},
	"media_next_track": {"Skip the track on", "Skipped the track on"},
	"play_media":       {"Play music on", "Started music on"},
	"start":            {"Start", "Started"},
	"return_to_base":   {"Send home", "Sent home"},
}

// Command renders an action applied to targets, e.g. "Turned on the Lamp in
// the den" or "Set the Hallway Thermostat to 21 degrees".
func Command(action string, params map[string]any, targets string, past bool) string {
	pick := func(v verb) string {
		if past {
			return v.past
		}
		return v.imperative
	}

	switch action {
	case "turn_on":
		if pct, ok := Number(params["brightness_pct"]); ok {
			return fmt.Sprintf("Set %s to %s%% brightness", targets, formatNumber(pct))
		}
	case "set_temperature":
		if t, ok := Number(params["temperature"]); ok {
			return fmt.Sprintf("Set %s to %s degrees", targets, formatNumber(t))
		}
	case "volume_set":
		if lvl, ok := Number(params["volume_level"]); ok {
			return fmt.Sprintf("Set the volume of %s to %s%%", targets, formatNumber(math.Round(lvl*100)))
		}
	}

	if v, ok := verbs[action]; ok {
		return pick(v) + " " + targets
	}
	label := strings.ReplaceAll(action, "_", " ")
	if past {
		return fmt.Sprintf("Ran %s on %s", label, targets)
	}
	return fmt.Sprintf("Run %s on %s", label, targets)
}

// Number converts JSON-ish numeric values to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MediaLabel strips the track:, album:, playlist: or artist: prefix from a
// music query for speaking it back. An empty query reads as "music".
func MediaLabel(q string) string {
	if i := strings.IndexByte(q, ':'); i >= 0 {
		switch strings.ToLower(q[:i]) {
		case "track", "album", "playlist", "artist":
			q = q[i+1:]
		}
	}
	if q = strings.TrimSpace(q); q == "" {
		return "music"
	}
	return q
}
