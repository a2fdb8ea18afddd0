// Package jsonfile persists the history window as a pretty-printed JSON array.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/nadzzz/hearth/internal/history"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store rewrites the whole file on every append. The file is replaced
// through a temp file and rename, so readers see the old or the new window
// and never a partial one.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Append(_ context.Context, _ history.Record, window []history.Record) error {
	data, err := json.MarshalIndent(window, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

// Load reads the file. A missing file is an empty history; an unreadable one
// is logged and also treated as empty so a damaged file never blocks startup.
func (s *Store) Load(_ context.Context, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var recs []history.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		slog.Warn("history file is corrupt, starting empty", "path", s.path, "error", err)
		return nil, nil
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
