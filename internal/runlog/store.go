// Package runlog persists a history of runs to Postgres: one row per
// run number, written at start (a repeated run number overwrites the
// start time) and updated with the stop time and final counters at
// stop. Entirely optional: a store
// that can't be reached is logged and left nil, never fatal to a run.
package runlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver, registered for database/sql
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ctb_runs (
	run_number INTEGER PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	stopped_at TIMESTAMPTZ,
	total_hlt  BIGINT,
	good_part  BIGINT
)`

// Store is a thin wrapper over *sql.DB for the ctb_runs table.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to dsn and ensures the ctb_runs table exists. Returns
// (nil, err) on failure; callers should log the error as a warning
// and proceed without a store, per spec.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: ping: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: create table: %w", err)
	}
	return &Store{db: db, log: logger.With("component", "runlog")}, nil
}

// RecordStart inserts a row for a newly started run.
func (s *Store) RecordStart(runNumber int, startedAt time.Time) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO ctb_runs (run_number, started_at) VALUES ($1, $2)
		 ON CONFLICT (run_number) DO UPDATE SET started_at = EXCLUDED.started_at`,
		runNumber, startedAt,
	)
	if err != nil {
		return fmt.Errorf("runlog: record start: %w", err)
	}
	return nil
}

// RecordStop updates the run's row with its final stop time and
// counters.
func (s *Store) RecordStop(runNumber int, stoppedAt time.Time, totalHLT, goodPart uint64) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`UPDATE ctb_runs SET stopped_at = $2, total_hlt = $3, good_part = $4 WHERE run_number = $1`,
		runNumber, stoppedAt, totalHLT, goodPart,
	)
	if err != nil {
		return fmt.Errorf("runlog: record stop: %w", err)
	}
	return nil
}

// Close closes the underlying DB handle. Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
