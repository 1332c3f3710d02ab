// Package monitoring - store.go persists review events to SQLite.
//
// The JSONL log is the always-on sink; the SQLite store is optional and
// enables ad hoc querying of request history without log scraping.
package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS review_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    TEXT NOT NULL,
	request_id   TEXT NOT NULL,
	endpoint     TEXT NOT NULL,
	mode         TEXT NOT NULL,
	source       TEXT NOT NULL,
	file_count   INTEGER NOT NULL,
	cache_replay INTEGER NOT NULL,
	tokens       INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	success      INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_review_events_timestamp ON review_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_review_events_mode ON review_events(mode);
`

// EventStore persists review events to a SQLite database.
type EventStore struct {
	db *sql.DB
}

// OpenEventStore opens (creating if needed) the database at path.
func OpenEventStore(path string) (*EventStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create event store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}
	return &EventStore{db: db}, nil
}

// Insert writes one review event.
func (s *EventStore) Insert(ctx context.Context, ev *ReviewEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_events
			(timestamp, request_id, endpoint, mode, source, file_count, cache_replay, tokens, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, ev.RequestID, ev.Endpoint, ev.Mode, ev.Source,
		ev.FileCount, boolInt(ev.CacheReplay), ev.Tokens, ev.DurationMs,
		boolInt(ev.Success), ev.Error)
	return err
}

// ModeSummary aggregates request outcomes per mode.
type ModeSummary struct {
	Mode          string  `json:"mode"`
	Requests      int64   `json:"requests"`
	Successes     int64   `json:"successes"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// SummarizeByMode returns per-mode aggregates for events since the cutoff.
func (s *EventStore) SummarizeByMode(ctx context.Context, since time.Time) ([]ModeSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mode, COUNT(*), SUM(success), AVG(duration_ms)
		FROM review_events
		WHERE timestamp >= ?
		GROUP BY mode
		ORDER BY COUNT(*) DESC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModeSummary
	for rows.Next() {
		var m ModeSummary
		if err := rows.Scan(&m.Mode, &m.Requests, &m.Successes, &m.AvgDurationMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *EventStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
