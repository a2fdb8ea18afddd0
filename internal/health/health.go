// Package health provides liveness and readiness endpoints.
//
// /healthz answers 200 once the daemon has finished starting. /readyz also
// runs every registered check (inventory loaded, redis reachable, ...) and
// answers 503 with the failing check names when any of them fails.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port    int
	timeout time.Duration
	ready   atomic.Bool
	server  *http.Server

	mu     sync.RWMutex
	checks map[string]Check
}

// Status is the body of both endpoints.
type Status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// New creates a new health check server.
func New(port int) *Server {
	return &Server{port: port, timeout: 2 * time.Second, checks: make(map[string]Check)}
}

// SetReady marks the daemon as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// AddCheck registers a readiness check under name, replacing any previous one.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	s.checks[name] = c
	s.mu.Unlock()
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, Status{Status: "not_ready"})
			return
		}
		writeStatus(w, http.StatusOK, Status{Status: "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, Status{Status: "not_ready"})
			return
		}
		st, err := s.Run(r.Context())
		if err != nil {
			writeStatus(w, http.StatusServiceUnavailable, st)
			return
		}
		writeStatus(w, http.StatusOK, st)
	})
	return r
}

// Run executes every check concurrently and returns their outcomes. The
// error joins the failures in name order.
func (s *Server) Run(ctx context.Context) (Status, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			errs[i] = c(ctx)
		}(i, c)
	}
	wg.Wait()

	st := Status{Status: "ok", Checks: make(map[string]string, len(names))}
	var failed []error
	for i, name := range names {
		if errs[i] != nil {
			st.Checks[name] = errs[i].Error()
			failed = append(failed, fmt.Errorf("%s: %w", name, errs[i]))
			continue
		}
		st.Checks[name] = "ok"
	}
	if len(failed) > 0 {
		st.Status = "degraded"
		return st, errors.Join(failed...)
	}
	return st, nil
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func writeStatus(w http.ResponseWriter, code int, st Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}
