// Package confirm implements the confirmation round: the policy deciding
// when an action needs the user's approval, the per-conversation sessions
// holding the pending action, and the lexical reading of the user's reply.
//
// A session is taken out of its store before the reply is judged, so two
// replies racing on one conversation can never both confirm the same action.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadzzz/hearth/internal/message"
)

// ErrSessionExpired reports a confirmation that timed out before any reply.
// An expired session is an implicit decline.
var ErrSessionExpired = errors.New("confirmation session expired")

// State is the confirmation state of a conversation.
type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting_confirmation"
	// StateConfirmed and StateDeclined are terminal for one round; the
	// conversation is idle again once the outcome is returned.
	StateConfirmed State = "confirmed"
	StateDeclined  State = "declined"
)

// Session is a pending confirmation for one conversation.
type Session struct {
	ConversationID string                   `json:"conversation_id"`
	Request        message.CommandRequest   `json:"request"`
	Action         *message.CandidateAction `json:"action"`
	Options        []Option                 `json:"options"`
	Reasons        []Reason                 `json:"reasons"`
	Prompt         string                   `json:"prompt"`
	CreatedAt      time.Time                `json:"created_at"`
	ExpiresAt      time.Time                `json:"expires_at"`
	Reprompts      int                      `json:"reprompts"`
}

// Expired reports whether the session has timed out at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store holds at most one session per conversation id. Implementations must
// be safe for concurrent use.
type Store interface {
	// Put stores s, replacing any session for the same conversation.
	Put(ctx context.Context, s *Session) error

	// Take removes and returns the session for conversationID. It returns
	// (nil, nil) when there is none.
	Take(ctx context.Context, conversationID string) (*Session, error)

	// Sweep removes and returns every session expired at now.
	Sweep(ctx context.Context, now time.Time) ([]*Session, error)
}

// Outcome is the result of routing an utterance through Resolve.
type Outcome struct {
	State State

	// Session is the session the reply was matched against, if any.
	Session *Session

	// Action is the action to dispatch when State is StateConfirmed. It is a
	// copy, narrowed to the selected targets when the user picked some.
	Action *message.CandidateAction

	// Expired is set when the session timed out before this reply.
	Expired bool

	// Passthrough asks the caller to interpret the utterance as a fresh
	// command. It is set when a declined round was not an explicit "no".
	Passthrough bool

	// Prompt is the question to ask again when State is StateAwaiting.
	Prompt string
}

// Manager runs the confirmation state machine over a Store.
type Manager struct {
	store        Store
	timeout      time.Duration
	maxReprompts int
}

// NewManager creates a manager. Sessions expire timeout after they are
// opened; an unrecognized reply is re-asked at most maxReprompts times.
func NewManager(store Store, timeout time.Duration, maxReprompts int) *Manager {
	if maxReprompts < 0 {
		maxReprompts = 0
	}
	return &Manager{store: store, timeout: timeout, maxReprompts: maxReprompts}
}

// Open starts a confirmation round for req and returns the stored session.
// Any earlier session of the conversation is replaced.
func (m *Manager) Open(ctx context.Context, req message.CommandRequest, action *message.CandidateAction, d Decision, now time.Time) (*Session, error) {
	pending := action.Clone()
	pending.RequiresConfirmation = true

	s := &Session{
		ConversationID: req.ConversationID,
		Request:        req,
		Action:         pending,
		Options:        d.Options,
		Reasons:        d.Reasons,
		Prompt:         d.Prompt,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.timeout),
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("storing confirmation session: %w", err)
	}
	slog.Debug("confirmation session opened",
		"conversation_id", s.ConversationID,
		"reasons", s.Reasons,
		"expires_at", s.ExpiresAt,
	)
	return s, nil
}

// Resolve reads text as the reply to the conversation's pending session.
func (m *Manager) Resolve(ctx context.Context, conversationID, text string, now time.Time) (Outcome, error) {
	s, err := m.store.Take(ctx, conversationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading confirmation session: %w", err)
	}
	if s == nil {
		return Outcome{State: StateIdle}, nil
	}

	if s.Expired(now) {
		return Outcome{State: StateDeclined, Session: s, Expired: true, Passthrough: true}, nil
	}

	// A tie needs a named device; yes alone would confirm whichever one the
	// interpreter guessed.
	choosing := s.choosing()

	reply := Classify(text, s.Options)
	switch reply.Kind {
	case ReplySelection:
		action := s.Action.Clone()
		action.TargetEntityIDs = reply.Selected
		action.Ambiguous = false
		action.Alternatives = nil
		return Outcome{State: StateConfirmed, Session: s, Action: action}, nil

	case ReplyAffirmative:
		if !choosing {
			return Outcome{State: StateConfirmed, Session: s, Action: s.Action.Clone()}, nil
		}

	case ReplyNegative:
		return Outcome{State: StateDeclined, Session: s}, nil
	}

	if s.Reprompts < m.maxReprompts {
		s.Reprompts++
		if err := m.store.Put(ctx, s); err != nil {
			return Outcome{}, fmt.Errorf("re-storing confirmation session: %w", err)
		}
		prompt := Reprompt + " " + s.Prompt
		if choosing {
			prompt = ChoicePrompt(s.Options)
		}
		return Outcome{State: StateAwaiting, Session: s, Prompt: prompt}, nil
	}
	// A yes that never named a device is still an answer to this round.
	return Outcome{State: StateDeclined, Session: s, Passthrough: reply.Kind != ReplyAffirmative}, nil
}

func (s *Session) choosing() bool {
	return s.Action != nil && asksChoice(s.Reasons, s.Options, s.Action)
}
