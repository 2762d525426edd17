// Package ledger keeps a history of study runs in a SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrClosed is returned when the ledger is used after Close.
var ErrClosed = errors.New("ledger closed")

// Run is one processed study.
type Run struct {
	ID         string
	Study      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string

	Annotated    int
	PreProcessed int
	Warnings     int
	Merged       int
	Dropped      int
	Failed       int
	Copied       int
	Skipped      int
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Ledger is a run history store.
type Ledger struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ledger: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: pragma %q: %w", p, err)
		}
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migration: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func (l *Ledger) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			study         TEXT    NOT NULL,
			started_at    TEXT    NOT NULL,
			finished_at   TEXT    NOT NULL,
			status        TEXT    NOT NULL,
			error         TEXT    NOT NULL DEFAULT '',
			annotated     INTEGER NOT NULL DEFAULT 0,
			pre_processed INTEGER NOT NULL DEFAULT 0,
			warnings      INTEGER NOT NULL DEFAULT 0,
			merged        INTEGER NOT NULL DEFAULT 0,
			dropped       INTEGER NOT NULL DEFAULT 0,
			failed        INTEGER NOT NULL DEFAULT 0,
			copied        INTEGER NOT NULL DEFAULT 0,
			skipped       INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_runs_study   ON runs(study);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record stores a finished run.
func (l *Ledger) Record(ctx context.Context, r Run) error {
	if l.db == nil {
		return ErrClosed
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, study, started_at, finished_at, status, error,
			annotated, pre_processed, warnings, merged, dropped, failed, copied, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Study, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Status, r.Error,
		r.Annotated, r.PreProcessed, r.Warnings, r.Merged, r.Dropped, r.Failed, r.Copied, r.Skipped)
	if err != nil {
		return fmt.Errorf("ledger: record run %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	return l.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, normalizeLimit(limit))
}

// ForStudy returns the latest runs of one study, newest first.
func (l *Ledger) ForStudy(ctx context.Context, study string, limit int) ([]Run, error) {
	return l.query(ctx, `SELECT `+runColumns+` FROM runs WHERE study = ? ORDER BY started_at DESC, id LIMIT ?`, study, normalizeLimit(limit))
}

const runColumns = `id, study, started_at, finished_at, status, error,
	annotated, pre_processed, warnings, merged, dropped, failed, copied, skipped`

func (l *Ledger) query(ctx context.Context, query string, args ...any) ([]Run, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Study, &started, &finished, &r.Status, &r.Error,
			&r.Annotated, &r.PreProcessed, &r.Warnings, &r.Merged, &r.Dropped, &r.Failed, &r.Copied, &r.Skipped); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

// Times are stored as fixed-width UTC strings so that they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ledger: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
