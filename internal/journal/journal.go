// Package journal records pipeline run outcomes in SQLite so failures can
// be diagnosed after the fact. It stores run metadata only — never message
// content, transcripts or audio.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is one pipeline run outcome.
type Record struct {
	ID        string
	Sender    string
	Modality  string
	Stage     string // last stage reached; the failing stage for failed runs
	Status    string
	Error     string
	LatencyMs int64
	CreatedAt time.Time
}

// Store is an append-only SQLite journal of pipeline runs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		sender      TEXT NOT NULL,
		modality    TEXT NOT NULL,
		stage       TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT,
		latency_ms  INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append writes one run record.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, sender, modality, stage, status, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Sender, rec.Modality, rec.Stage, rec.Status, rec.Error, rec.LatencyMs, rec.CreatedAt,
	)
	return err
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, modality, stage, status, COALESCE(error, ''), latency_ms, created_at
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Sender, &rec.Modality, &rec.Stage, &rec.Status, &rec.Error, &rec.LatencyMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Counts returns the number of completed and failed runs.
func (s *Store) Counts(ctx context.Context) (completed, failed int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END)
		 FROM runs`, StatusCompleted, StatusFailed,
	).Scan(&completed, &failed)
	return completed, failed, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
