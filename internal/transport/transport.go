// Package transport defines the interface for pluggable ingress transports.
//
// Each transport (HTTP/WebSocket, gRPC, MCP) implements this interface and
// hands every decoded request to the dispatcher's Handler. The dispatcher
// doesn't care how requests arrive; it only works with the Handler contract.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/nadzzz/hearth/internal/message"
)

// Handler is a function that processes an incoming request and returns a result.
// The dispatcher provides this handler to each transport.
type Handler func(ctx context.Context, req *message.CommandRequest) (*message.Result, error)

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "http", "grpc").
	Name() string

	// Listen starts accepting incoming requests and dispatches them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}

// ErrRateLimited is returned when a source device sends too many requests.
var ErrRateLimited = errors.New("too many requests from this source")

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Fields, ", ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the required request fields.
func Validate(req *message.CommandRequest) error {
	if req == nil {
		return &ValidationError{Fields: []string{"body"}}
	}
	req.Text = strings.TrimSpace(req.Text)
	req.SourceDeviceID = strings.TrimSpace(req.SourceDeviceID)

	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating request: %w", err)
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return ve
}

// Limiter keeps one token bucket per source device. At most maxSources
// buckets are held; buckets idle longer than idle are dropped first, then the
// least recently used one.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       rate.Limit
	burst      int
	maxSources int
	idle       time.Duration
	now        func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	defaultMaxSources = 1024
	defaultIdle       = 10 * time.Minute
)

// NewLimiter allows rps requests per second per source with the given burst.
// A nil *Limiter allows everything.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		rate:       rate.Limit(rps),
		burst:      burst,
		maxSources: defaultMaxSources,
		idle:       defaultIdle,
		now:        time.Now,
	}
}

// Allow reports whether source may send another request now.
func (l *Limiter) Allow(source string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[source]
	if !ok {
		if len(l.buckets) >= l.maxSources {
			l.evict(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[source] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of sources currently tracked.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evict makes room for one bucket. Called with l.mu held.
func (l *Limiter) evict(now time.Time) {
	var (
		oldest     string
		oldestSeen time.Time
	)
	for src, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, src)
			continue
		}
		if oldest == "" || b.seen.Before(oldestSeen) {
			oldest, oldestSeen = src, b.seen
		}
	}
	if len(l.buckets) >= l.maxSources {
		delete(l.buckets, oldest)
	}
}

// Guard wraps next with validation and per-source rate limiting. Rejected
// requests never reach next.
func Guard(next Handler, limiter *Limiter) Handler {
	return func(ctx context.Context, req *message.CommandRequest) (*message.Result, error) {
		if err := Validate(req); err != nil {
			return nil, err
		}
		if !limiter.Allow(req.SourceDeviceID) {
			return nil, ErrRateLimited
		}
		return next(ctx, req)
	}
}
