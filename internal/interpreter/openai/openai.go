// Package openai implements interpreter.Provider with the Chat Completions API.
//
// Any OpenAI-compatible server (Ollama, vLLM, LM Studio) works by pointing
// base_url at it. Replies are requested in JSON-object mode.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/interpreter"
)

// Provider completes prompts through an OpenAI-compatible endpoint.
type Provider struct {
	client      *goopenai.Client
	model       string
	temperature float32
}

// New creates a provider from config.
func New(cfg config.OpenAIConfig) *Provider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return "openai" }

// Complete sends the prompt and returns the first choice's content.
func (p *Provider) Complete(ctx context.Context, prompt interpreter.Prompt) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(prompt.Context)+2)
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System})
	for _, turn := range prompt.Context {
		role := goopenai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt.User})

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &interpreter.ProviderError{Op: "chat completion", Err: errors.New("no choices returned")}
	}

	slog.Debug("chat completion done", "model", p.model, "total_tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// classify maps client errors onto ProviderError. Rate limits, server errors
// and timeouts are transient; everything else (auth, bad request) is not.
func classify(err error) error {
	pe := &interpreter.ProviderError{Op: "chat completion", Err: err}

	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		pe.Transient = transientStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		pe.Transient = transientStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		pe.Transient = true
	case errors.As(err, &netErr) && netErr.Timeout():
		pe.Transient = true
	case errors.Is(err, context.Canceled):
		pe.Transient = false
	default:
		// Connection refused and similar network failures.
		var opErr *net.OpError
		pe.Transient = errors.As(err, &opErr)
	}
	return pe
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Validate reports whether the provider is usable.
func Validate(cfg config.OpenAIConfig) error {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return fmt.Errorf("interpreter.openai.api_key is required unless base_url points at a local server")
	}
	return nil
}
