// Package ledger keeps a SQLite record of search runs and the result pairs
// each of them produced, so a later scoring invocation can rebuild the
// manifests of one or more runs.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/psmgrid/internal/manifest"
)

// Run statuses.
const (
	StatusRunning    = "running"
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
)

// ErrUnknownRun is returned for a run id the ledger has never seen.
var ErrUnknownRun = errors.New("unknown run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	input_file    TEXT NOT NULL,
	database_name TEXT NOT NULL,
	run_index     INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);
CREATE TABLE IF NOT EXISTS pairs (
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	engine      TEXT NOT NULL,
	target_path TEXT NOT NULL,
	decoy_path  TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, target_path, decoy_path)
);
`

// Run is one search invocation.
type Run struct {
	ID         string
	InputFile  string
	Database   string
	Index      int
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Ledger is a SQLite-backed run ledger.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger at path. ":memory:" gives a
// private in-memory ledger.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One connection: SQLite serialises writers anyway, and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun registers a new run.
func (l *Ledger) StartRun(ctx context.Context, r Run) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, input_file, database_name, run_index, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.InputFile, r.Database, r.Index, StatusRunning, formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stores the final status of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID, status string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, formatTime(l.now()), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

// Record appends a completed pair to a run. Recording the same pair twice
// returns manifest.ErrDuplicate.
func (l *Ledger) Record(ctx context.Context, runID string, p manifest.Pair) error {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pairs (run_id, engine, target_path, decoy_path, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		runID, p.Engine, p.Target, p.Decoy, formatTime(l.now()))
	if err != nil {
		return fmt.Errorf("recording %s for run %s: %w", p, runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", manifest.ErrDuplicate, p)
	}
	return nil
}

// Run returns one run.
func (l *Ledger) Run(ctx context.Context, runID string) (Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT run_id, input_file, database_name, run_index, status, started_at, COALESCE(finished_at, '') FROM runs WHERE run_id = ?`,
		runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return r, err
}

// Runs lists every run, most recent first.
func (l *Ledger) Runs(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, input_file, database_name, run_index, status, started_at, COALESCE(finished_at, '') FROM runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Manifest rebuilds the manifest of a run in recording order.
func (l *Ledger) Manifest(ctx context.Context, runID string) (*manifest.Manifest, error) {
	if _, err := l.Run(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT engine, target_path, decoy_path FROM pairs WHERE run_id = ? ORDER BY rowid`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := manifest.New()
	for rows.Next() {
		var p manifest.Pair
		if err := rows.Scan(&p.Engine, &p.Target, &p.Decoy); err != nil {
			return nil, err
		}
		if err := m.Append(p); err != nil {
			return nil, err
		}
	}
	return m, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var started, finished string
	if err := s.Scan(&r.ID, &r.InputFile, &r.Database, &r.Index, &r.Status, &started, &finished); err != nil {
		return Run{}, err
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished != "" {
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return Run{}, err
		}
	}
	return r, nil
}

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
