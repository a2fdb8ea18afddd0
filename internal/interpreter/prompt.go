package interpreter

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/nadzzz/hearth/internal/message"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPrompt = `You are the command interpreter of a smart home voice assistant.
Pick the action the user wants and the devices it applies to, using ONLY the
candidate devices listed in the request. Prefer devices in the user's room
unless the user names another room.

Reply with a single JSON object and nothing else:
{
  "intent": "device_control" | "media_search_play" | "clarify",
  "action": "<platform service, e.g. turn_on, turn_off, toggle, set_temperature, lock, unlock, open_cover, close_cover, play_media, media_pause>",
  "targets": ["<entity id from the candidates>", ...],
  "parameters": {"brightness_pct": 50, "temperature": 21, ...},
  "media_query": "<music search, optionally prefixed track:, album:, playlist: or artist:>",
  "question": "<what to ask the user when intent is clarify>"
}

Rules:
- Use "clarify" with an empty targets list when no candidate fits or the request is unclear.
- Use "media_search_play" for requests to play music; targets are media players.
- Never invent entity ids.`

// BuildPrompt renders the prompt for one request.
func BuildPrompt(in Input) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", in.Text)
	room := in.SourceArea
	if room == "" {
		room = "unknown"
	}
	fmt.Fprintf(&b, "User's room: %s\n", room)
	b.WriteString("Candidate devices (best match first):\n")
	if len(in.Candidates) == 0 {
		b.WriteString("- none\n")
	}
	for _, c := range in.Candidates {
		area := c.Entity.Area
		if area == "" {
			area = "unassigned"
		}
		state := c.Entity.State
		if state == "" {
			state = "unknown"
		}
		fmt.Fprintf(&b, "- %s | %s | area: %s | domain: %s | state: %s\n",
			c.Entity.ID, c.Entity.Name, area, c.Entity.Domain, state)
	}

	return Prompt{
		System:  systemPrompt,
		Context: in.Context,
		User:    strings.TrimRight(b.String(), "\n"),
	}
}

type reply struct {
	Intent     message.Intent `json:"intent"`
	Action     string         `json:"action"`
	Targets    []string       `json:"targets"`
	Parameters map[string]any `json:"parameters"`
	MediaQuery string         `json:"media_query"`
	Question   string         `json:"question"`
	Response   string         `json:"response"`
}

// ParseReply decodes a model reply into a CandidateAction. Markdown code
// fences around the JSON are tolerated.
func ParseReply(raw string) (*message.CandidateAction, error) {
	content := stripFences(raw)
	if content == "" {
		return nil, &ParseError{Reply: raw, Reason: "empty reply"}
	}

	var r reply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, &ParseError{Reply: raw, Reason: err.Error()}
	}
	if !r.Intent.Valid() {
		return nil, &ParseError{Reply: raw, Reason: fmt.Sprintf("unknown intent %q", r.Intent)}
	}

	action := &message.CandidateAction{
		Intent:     r.Intent,
		Action:     strings.TrimSpace(r.Action),
		Parameters: r.Parameters,
		MediaQuery: strings.TrimSpace(r.MediaQuery),
		Reply:      r.Question,
	}
	if action.Reply == "" {
		action.Reply = r.Response
	}
	for _, id := range r.Targets {
		if id = strings.TrimSpace(id); id != "" {
			action.TargetEntityIDs = append(action.TargetEntityIDs, id)
		}
	}

	switch action.Intent {
	case message.IntentDeviceControl:
		if action.Action == "" {
			return nil, &ParseError{Reply: raw, Reason: "device_control without action"}
		}
	case message.IntentMediaSearchPlay:
		if action.MediaQuery == "" {
			return nil, &ParseError{Reply: raw, Reason: "media_search_play without media_query"}
		}
		if action.Action == "" {
			action.Action = "play_media"
		}
	case message.IntentClarify:
		action.TargetEntityIDs = nil
	}
	return action, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag on the opening fence.
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
