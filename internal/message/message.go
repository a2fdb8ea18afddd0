// Package message defines the core data types flowing through the hearth pipeline.
package message

import "time"

// CommandRequest is one utterance arriving from any ingress.
type CommandRequest struct {
	// Text is the raw utterance as transcribed by the voice pipeline.
	Text string `json:"text" validate:"required"`

	// SourceDeviceID identifies the satellite, phone or panel that heard the user.
	SourceDeviceID string `json:"source_device_id" validate:"required"`

	// ConversationID scopes confirmation state. When empty the source device
	// id is used, so each source has at most one open conversation.
	ConversationID string `json:"conversation_id,omitempty"`

	// Timestamp is when hearth received the request.
	Timestamp time.Time `json:"timestamp"`
}

// Intent is the kind of request the interpreter recognised.
type Intent string

const (
	// IntentDeviceControl drives one or more devices through a platform service.
	IntentDeviceControl Intent = "device_control"

	// IntentMediaSearchPlay searches for music and plays it on media players.
	IntentMediaSearchPlay Intent = "media_search_play"

	// IntentClarify means the interpreter needs more information from the user.
	IntentClarify Intent = "clarify"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentDeviceControl, IntentMediaSearchPlay, IntentClarify:
		return true
	}
	return false
}

// CandidateAction is the interpreter's structured proposal for a request.
type CandidateAction struct {
	Intent Intent `json:"intent"`

	// Action is the platform service name (e.g., "turn_on", "set_temperature", "play_media").
	Action string `json:"action,omitempty"`

	// TargetEntityIDs lists the devices to act on. Empty means "ask for clarification".
	TargetEntityIDs []string `json:"target_entity_ids"`

	// Parameters holds action-specific service data (e.g., brightness_pct).
	Parameters map[string]any `json:"parameters,omitempty"`

	// MediaQuery is the search string for media_search_play.
	MediaQuery string `json:"media_query,omitempty"`

	// Reply is the interpreter's own phrasing; used only for clarifications.
	Reply string `json:"reply,omitempty"`

	// Ambiguous is set when refinement could not separate the top candidates.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Alternatives lists the tied candidate ids when Ambiguous is set.
	Alternatives []string `json:"alternatives,omitempty"`

	// RequiresConfirmation is set by the confirmation policy, never by the interpreter.
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// Clone returns a copy that shares no slices or maps with a.
func (a *CandidateAction) Clone() *CandidateAction {
	if a == nil {
		return nil
	}
	c := *a
	c.TargetEntityIDs = append([]string(nil), a.TargetEntityIDs...)
	c.Alternatives = append([]string(nil), a.Alternatives...)
	if a.Parameters != nil {
		c.Parameters = make(map[string]any, len(a.Parameters))
		for k, v := range a.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

// ExecutionStatus is the final outcome recorded for an interaction.
type ExecutionStatus string

const (
	StatusSucceeded            ExecutionStatus = "succeeded"
	StatusFailed               ExecutionStatus = "failed"
	StatusDeclined             ExecutionStatus = "declined-by-user"
	StatusClarificationNeeded  ExecutionStatus = "clarification-needed"
	StatusAwaitingConfirmation ExecutionStatus = "awaiting-confirmation"
)

// Result is what the orchestrator hands back to the ingress for one request.
type Result struct {
	// ConversationID echoes the conversation the request was handled in.
	ConversationID string `json:"conversation_id"`

	// ResponseText is the sentence spoken back to the user. It always names
	// the room(s) of the devices that were acted on or asked about.
	ResponseText string `json:"response_text"`

	Status ExecutionStatus `json:"status"`

	// AwaitingConfirmation is true when the next utterance will be read as a reply.
	AwaitingConfirmation bool `json:"awaiting_confirmation"`

	// Targets lists the entity ids that were dispatched or proposed.
	Targets []string `json:"targets,omitempty"`
}
