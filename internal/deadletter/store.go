package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intentbridge/relay/internal/queue"
)

// Store archives jobs that exhausted their queue retries into SQLite, so
// operators can inspect and export them independent of Redis retention.
type Store struct {
	db *sql.DB
}

// Record is one archived dead-lettered job.
type Record struct {
	ID          string    `json:"id"`
	Entity      string    `json:"entity"`
	PayloadJSON string    `json:"payload"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	FailedAt    time.Time `json:"failed_at"`
}

// Open initializes the archive database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS failed_jobs (
  id            TEXT PRIMARY KEY,
  entity        TEXT NOT NULL,
  payload_json  TEXT NOT NULL,
  attempts      INTEGER NOT NULL,
  last_error    TEXT,
  failed_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Archive stores a dead-lettered job. Idempotent on job id, so re-archiving
// after a redelivered failure is a no-op.
func (s *Store) Archive(ctx context.Context, job *queue.Job, cause string) error {
	if job == nil || job.ID == "" {
		return errors.New("job id required")
	}
	payload, err := json.Marshal(job.Raw)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO failed_jobs (id, entity, payload_json, attempts, last_error)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, job.ID, job.Raw.Entity, string(payload), job.Attempts, cause)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	return nil
}

// List returns up to limit archived jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, entity, payload_json, attempts, COALESCE(last_error, ''), failed_at
FROM failed_jobs ORDER BY failed_at DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Entity, &r.PayloadJSON, &r.Attempts, &r.LastError, &r.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed job: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
