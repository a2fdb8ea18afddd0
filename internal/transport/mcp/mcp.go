// Package mcp exposes hearth as a Model Context Protocol tool server on stdio.
//
// Two tools are offered: handle_command runs one utterance through the
// dispatcher exactly as a satellite would, and recent_history lists the
// latest interactions.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HistoryReader serves recent history records.
type HistoryReader interface {
	Recent(n int, newestFirst bool) []history.Record
}

// Transport implements transport.Transport over MCP stdio.
type Transport struct {
	version string
	history HistoryReader
	in      io.Reader
	out     io.Writer

	// source is used when a caller omits source_device_id.
	source string
}

// New creates an MCP transport reading from stdin and writing to stdout.
func New(version string, h HistoryReader) *Transport {
	return &Transport{
		version: version,
		history: h,
		in:      os.Stdin,
		out:     os.Stdout,
		source:  "mcp-" + uuid.NewString()[:8],
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mcp" }

// Server builds the MCP server with its tools bound to handler.
func (t *Transport) Server(handler transport.Handler) *server.MCPServer {
	s := server.NewMCPServer("hearth", t.version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("handle_command",
		mcp.WithDescription("Run a spoken smart-home command and return the reply hearth would speak."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The utterance, e.g. \"turn off the kitchen lights\"")),
		mcp.WithString("source_device_id", mcp.Description("Satellite the command is heard on; decides the default room")),
		mcp.WithString("conversation_id", mcp.Description("Conversation scope for confirmations")),
	), t.handleCommand(handler))

	if t.history != nil {
		s.AddTool(mcp.NewTool("recent_history",
			mcp.WithDescription("List recent interactions, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum records (default 20)")),
		), t.recentHistory)
	}
	return s
}

// Listen serves MCP on the transport's streams until ctx is cancelled or
// the input is closed.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	stdio := server.NewStdioServer(t.Server(handler))
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))

	slog.Info("mcp transport serving on stdio", "source", t.source)
	err := stdio.Listen(ctx, t.in, t.out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp listen: %w", err)
	}
	return nil
}

// Close is a no-op; Listen returns when its context ends.
func (t *Transport) Close() error { return nil }

func (t *Transport) handleCommand(handler transport.Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		source := strings.TrimSpace(req.GetString("source_device_id", ""))
		if source == "" {
			source = t.source
		}

		res, err := transport.Guard(handler, nil)(ctx, &message.CommandRequest{
			Text:           text,
			SourceDeviceID: source,
			ConversationID: req.GetString("conversation_id", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func (t *Transport) recentHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit < 0 {
		return mcp.NewToolResultError("limit must be non-negative"), nil
	}
	out, err := json.Marshal(t.history.Recent(limit, true))
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}
