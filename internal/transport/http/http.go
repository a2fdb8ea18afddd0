// Package http implements the HTTP/WebSocket transport for hearth.
//
// This transport exposes a REST API for conversation turns, history and
// inventory refresh, plus a WebSocket endpoint carrying one JSON request per
// frame for satellites that keep a connection open.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HistoryReader serves recent history records.
type HistoryReader interface {
	Recent(n int, newestFirst bool) []history.Record
}

// Refresher rebuilds the device inventory.
type Refresher interface {
	Refresh(ctx context.Context) (*inventory.Snapshot, error)
}

// Options configures the transport. History and Inventory may be nil, which
// disables their endpoints.
type Options struct {
	Port      int
	History   HistoryReader
	Inventory Refresher
	Limiter   *transport.Limiter
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	opts     Options
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a new HTTP transport.
func New(opts Options) *Transport {
	return &Transport{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RefreshResponse reports a rebuilt inventory.
type RefreshResponse struct {
	Entities int       `json:"entities"`
	TakenAt  time.Time `json:"taken_at"`
}

// Router builds the route table around handler.
func (t *Transport) Router(handler transport.Handler) http.Handler {
	guarded := transport.Guard(handler, t.opts.Limiter)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/v1/conversation", func(w http.ResponseWriter, req *http.Request) {
		t.handleConversation(w, req, guarded)
	})
	r.Get("/v1/history", t.handleHistory)
	r.Post("/v1/inventory/refresh", t.handleRefresh)
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		t.handleWebSocket(w, req, guarded)
	})

	// Swagger UI for the generated OpenAPI docs.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return r
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.opts.Port),
		Handler:           t.Router(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.opts.Port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleConversation processes a POST /v1/conversation request.
//
// @Summary     Handle one utterance
// @Description Runs the utterance through refinement, interpretation, confirmation and device dispatch.
// @Description When a confirmation is pending for the conversation, the text is read as the reply.
// @Tags        conversation
// @Accept      json
// @Produce     json
// @Param       request  body      message.CommandRequest  true  "Utterance and source device"
// @Success     200      {object}  message.Result          "Spoken response and outcome"
// @Failure     400      {object}  ErrorResponse           "Invalid request body"
// @Failure     429      {object}  ErrorResponse           "Source device rate limited"
// @Failure     500      {object}  ErrorResponse           "Internal processing error"
// @Router      /v1/conversation [post]
func (t *Transport) handleConversation(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	var req message.CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	req.Timestamp = time.Now()

	result, err := handler(r.Context(), &req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("conversation request failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHistory serves GET /v1/history.
//
// @Summary     Recent interactions
// @Tags        history
// @Produce     json
// @Param       limit  query     int     false  "Maximum records (default 50, 0 for all)"
// @Param       order  query     string  false  "newest (default) or oldest first"
// @Success     200    {array}   history.Record
// @Failure     400    {object}  ErrorResponse
// @Router      /v1/history [get]
func (t *Transport) handleHistory(w http.ResponseWriter, r *http.Request) {
	if t.opts.History == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "history is not available"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	newestFirst := true
	switch r.URL.Query().Get("order") {
	case "", "newest":
	case "oldest":
		newestFirst = false
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "order must be newest or oldest"})
		return
	}

	writeJSON(w, http.StatusOK, t.opts.History.Recent(limit, newestFirst))
}

// handleRefresh serves POST /v1/inventory/refresh.
//
// @Summary     Rebuild the device inventory
// @Tags        inventory
// @Produce     json
// @Success     200  {object}  RefreshResponse
// @Failure     502  {object}  ErrorResponse  "Home platform unreachable"
// @Router      /v1/inventory/refresh [post]
func (t *Transport) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if t.opts.Inventory == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "inventory refresh is not available"})
		return
	}
	snap, err := t.opts.Inventory.Refresh(r.Context())
	if err != nil {
		slog.Warn("inventory refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Entities: snap.Len(), TakenAt: snap.TakenAt()})
}

// handleWebSocket serves GET /ws: each text frame is a CommandRequest and is
// answered with a Result, or an ErrorResponse when it is rejected.
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	slog.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		var reply any
		var req message.CommandRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = ErrorResponse{Error: "invalid json: " + err.Error()}
		} else {
			req.Timestamp = time.Now()
			result, err := handler(r.Context(), &req)
			if err != nil {
				reply = ErrorResponse{Error: err.Error()}
			} else {
				reply = result
			}
		}

		out, err := json.Marshal(reply)
		if err != nil {
			slog.Error("encoding websocket reply", "error", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			slog.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func statusFor(err error) int {
	var ve *transport.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
