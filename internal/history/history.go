// Package history keeps the bounded, append-only log of orchestration
// outcomes.
//
// The log is a FIFO window of at most Capacity records. Eviction is decided
// here, independent of the storage medium: every append hands the store the
// full window it must end up holding, and the in-memory window only advances
// once the store accepted it.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nadzzz/hearth/internal/message"
)

// Capacity is the maximum number of records the log retains.
const Capacity = 1000

// Record is one completed interaction.
type Record struct {
	ID              ulid.ULID               `json:"id"`
	Timestamp       time.Time               `json:"timestamp"`
	ConversationID  string                  `json:"conversation_id"`
	RequestText     string                  `json:"request_text"`
	SourceDeviceID  string                  `json:"source_device_id"`
	Intent          message.Intent          `json:"intent,omitempty"`
	Action          string                  `json:"action,omitempty"`
	TargetEntityIDs []string                `json:"target_entity_ids"`
	Parameters      map[string]any          `json:"parameters,omitempty"`
	Status          message.ExecutionStatus `json:"status"`
	ResponseText    string                  `json:"response_text"`
	ErrorDetail     string                  `json:"error_detail,omitempty"`
}

// Store persists the window.
type Store interface {
	// Append persists rec. window is the complete log after the append,
	// oldest first, ending with rec; records not in it are evicted.
	// Append either fully succeeds or leaves the previous state intact.
	Append(ctx context.Context, rec Record, window []Record) error

	// Load returns up to limit of the most recent records, oldest first.
	Load(ctx context.Context, limit int) ([]Record, error)
}

// Log is the bounded history. It is safe for concurrent use; appends are
// serialized.
type Log struct {
	mu       sync.Mutex
	store    Store
	capacity int
	records  []Record
	now      func() time.Time
}

// New creates a log over store. A nil store keeps history in memory only.
// capacity <= 0 means Capacity.
func New(store Store, capacity int) *Log {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Log{store: store, capacity: capacity, now: time.Now}
}

// Load replaces the in-memory window with the most recent persisted records.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.Load(ctx, l.capacity)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(recs) > l.capacity {
		recs = recs[len(recs)-l.capacity:]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = recs
	return nil
}

// Append adds rec, evicting the oldest records beyond capacity. A zero ID or
// Timestamp is filled in. The stored record is returned.
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.ID == (ulid.ULID{}) {
		rec.ID = ulid.Make()
	}
	rec.TargetEntityIDs = append([]string{}, rec.TargetEntityIDs...)

	start := 0
	if len(l.records)+1 > l.capacity {
		start = len(l.records) + 1 - l.capacity
	}
	window := make([]Record, 0, len(l.records)-start+1)
	window = append(window, l.records[start:]...)
	window = append(window, rec)

	if l.store != nil {
		if err := l.store.Append(ctx, rec, window); err != nil {
			return Record{}, fmt.Errorf("appending history record: %w", err)
		}
	}
	l.records = window
	return rec, nil
}

// List returns every record, oldest first.
func (l *Log) List() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// Recent returns the last n records, oldest first, or newest first when
// newestFirst is set. n <= 0 returns all records.
func (l *Log) Recent(n int, newestFirst bool) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := append([]Record(nil), l.records[len(l.records)-n:]...)
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Conversation returns the last n records of one conversation, oldest first.
func (l *Log) Conversation(conversationID string, n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for i := len(l.records) - 1; i >= 0 && len(out) < n; i-- {
		if l.records[i].ConversationID == conversationID {
			out = append(out, l.records[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of records held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
