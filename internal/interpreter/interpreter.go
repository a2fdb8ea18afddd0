// Package interpreter turns an utterance plus ranked candidates into a
// structured CandidateAction using an LLM.
//
// The package is provider-agnostic: a Provider only completes prompts. Prompt
// construction, strict reply parsing and the retry policy live here so every
// backend behaves the same.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/refine"
)

// Turn is one message of a prompt.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Prompt is what a Provider completes.
type Prompt struct {
	System  string
	Context []Turn
	User    string
}

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Name returns the backend identifier (e.g., "openai").
	Name() string

	// Complete returns the raw model reply. Failures are reported as *ProviderError.
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ProviderError is a failure talking to the LLM backend.
type ProviderError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("llm provider %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError means the reply did not match the expected schema.
type ParseError struct {
	Reply  string
	Reason string
}

func (e *ParseError) Error() string {
	return "unparseable llm reply: " + e.Reason
}

// Input is everything the interpreter needs for one request.
type Input struct {
	Text       string
	SourceArea string
	Candidates []refine.Match
	Context    []Turn
}

// Interpreter builds prompts, calls the provider and parses replies.
type Interpreter struct {
	provider Provider
	backoff  time.Duration
}

// New creates an interpreter. backoff is the fixed wait before the single
// retry of a transient provider failure.
func New(provider Provider, backoff time.Duration) *Interpreter {
	return &Interpreter{provider: provider, backoff: backoff}
}

// Name returns the provider backend identifier.
func (i *Interpreter) Name() string { return i.provider.Name() }

// Interpret returns the candidate action for in. Errors are *ProviderError or
// *ParseError. Transient provider errors are retried once; parse errors never are.
func (i *Interpreter) Interpret(ctx context.Context, in Input) (*message.CandidateAction, error) {
	prompt := BuildPrompt(in)

	reply, err := i.provider.Complete(ctx, prompt)
	var pe *ProviderError
	if err != nil && errors.As(err, &pe) && pe.Transient {
		slog.Warn("llm call failed, retrying once", "provider", i.provider.Name(), "error", err, "backoff", i.backoff)
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Op: "complete", Transient: true, Err: ctx.Err()}
		case <-time.After(i.backoff):
		}
		reply, err = i.provider.Complete(ctx, prompt)
	}
	if err != nil {
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, &ProviderError{Op: "complete", Err: err}
	}

	action, err := ParseReply(reply)
	if err != nil {
		return nil, err
	}
	slog.Debug("interpretation complete",
		"intent", action.Intent, "action", action.Action, "targets", len(action.TargetEntityIDs))
	return action, nil
}
