// Package sqlite persists the history window in a SQLite database.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/nadzzz/hearth/internal/history"
	"github.com/nadzzz/hearth/internal/message"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	queryInsert = `INSERT INTO history (
	id, ts_unix_nano, conversation_id, request_text, source_device_id, intent, action,
	target_entity_ids, parameters, status, response_text, error_detail
) VALUES (
	:id, :ts_unix_nano, :conversation_id, :request_text, :source_device_id, :intent, :action,
	:target_entity_ids, :parameters, :status, :response_text, :error_detail
)`

	queryEvict = `DELETE FROM history WHERE id < ?`

	queryRecent = `SELECT * FROM (
	SELECT * FROM history ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`
)

type row struct {
	ID              string `db:"id"`
	TimestampNano   int64  `db:"ts_unix_nano"`
	ConversationID  string `db:"conversation_id"`
	RequestText     string `db:"request_text"`
	SourceDeviceID  string `db:"source_device_id"`
	Intent          string `db:"intent"`
	Action          string `db:"action"`
	TargetEntityIDs string `db:"target_entity_ids"`
	Parameters      string `db:"parameters"`
	Status          string `db:"status"`
	ResponseText    string `db:"response_text"`
	ErrorDetail     string `db:"error_detail"`
}

// Store keeps one row per record; rows outside the window are deleted in
// the same transaction that inserts the new record.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, rec history.Record, window []history.Record) error {
	r, err := toRow(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, queryInsert, r); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	if len(window) > 0 {
		if _, err := tx.ExecContext(ctx, queryEvict, window[0].ID.String()); err != nil {
			return fmt.Errorf("evicting records: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Load(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = history.Capacity
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, queryRecent, limit); err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	recs := make([]history.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM history`)
	return n, err
}

func toRow(rec history.Record) (row, error) {
	targets, err := json.Marshal(rec.TargetEntityIDs)
	if err != nil {
		return row{}, fmt.Errorf("encoding targets: %w", err)
	}
	params := []byte("{}")
	if len(rec.Parameters) > 0 {
		if params, err = json.Marshal(rec.Parameters); err != nil {
			return row{}, fmt.Errorf("encoding parameters: %w", err)
		}
	}
	return row{
		ID:              rec.ID.String(),
		TimestampNano:   rec.Timestamp.UnixNano(),
		ConversationID:  rec.ConversationID,
		RequestText:     rec.RequestText,
		SourceDeviceID:  rec.SourceDeviceID,
		Intent:          string(rec.Intent),
		Action:          rec.Action,
		TargetEntityIDs: string(targets),
		Parameters:      string(params),
		Status:          string(rec.Status),
		ResponseText:    rec.ResponseText,
		ErrorDetail:     rec.ErrorDetail,
	}, nil
}

func fromRow(r row) (history.Record, error) {
	id, err := ulid.ParseStrict(r.ID)
	if err != nil {
		return history.Record{}, fmt.Errorf("parsing id %q: %w", r.ID, err)
	}
	rec := history.Record{
		ID:             id,
		Timestamp:      time.Unix(0, r.TimestampNano).UTC(),
		ConversationID: r.ConversationID,
		RequestText:    r.RequestText,
		SourceDeviceID: r.SourceDeviceID,
		Intent:         message.Intent(r.Intent),
		Action:         r.Action,
		Status:         message.ExecutionStatus(r.Status),
		ResponseText:   r.ResponseText,
		ErrorDetail:    r.ErrorDetail,
	}
	if err := json.Unmarshal([]byte(r.TargetEntityIDs), &rec.TargetEntityIDs); err != nil {
		return history.Record{}, fmt.Errorf("decoding targets of %s: %w", r.ID, err)
	}
	if r.Parameters != "" && r.Parameters != "{}" {
		if err := json.Unmarshal([]byte(r.Parameters), &rec.Parameters); err != nil {
			return history.Record{}, fmt.Errorf("decoding parameters of %s: %w", r.ID, err)
		}
	}
	return rec, nil
}
