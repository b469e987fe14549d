package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Run is the latest known position of one fix run.
type Run struct {
	ID        string             `json:"id"`
	EntryName string             `json:"entry_name"`
	State     orchestrator.State `json:"state"`
	Iteration int                `json:"iteration"`
	OpenCount int                `json:"open_count"`
	Status    models.Status      `json:"status"`
	StartedAt time.Time          `json:"started_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Interrupted reports whether the run stopped before a terminal state, as
// happens when the process is killed mid-loop.
func (r *Run) Interrupted() bool {
	return !r.State.Terminal()
}

// ResumeIteration is the iteration count a resumed run should start from.
func (r *Run) ResumeIteration() int {
	return min(r.Iteration, orchestrator.MaxIterations-1)
}

// Record stores a snapshot, creating the run on its first transition.
// It implements orchestrator.ProgressRecorder.
func (db *DB) Record(ctx context.Context, s orchestrator.Snapshot) error {
	if s.RunID == "" {
		return errors.New("record snapshot: empty run id")
	}
	at := formatTime(s.At)
	return db.write(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, entry_name, state, iteration, open_count, status, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				iteration = excluded.iteration,
				open_count = excluded.open_count,
				status = excluded.status,
				updated_at = excluded.updated_at
		`, s.RunID, s.EntryName, string(s.State), s.Iteration, s.OpenCount, string(s.Status), at, at)
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (run_id, state, iteration, open_count, status, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, s.RunID, string(s.State), s.Iteration, s.OpenCount, string(s.Status), at)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	})
}

const runColumns = `id, entry_name, state, iteration, open_count, status, started_at, updated_at`

func scanRun(scan func(dest ...any) error) (*Run, error) {
	var r Run
	var startedAt, updatedAt string
	if err := scan(&r.ID, &r.EntryName, &r.State, &r.Iteration, &r.OpenCount, &r.Status, &startedAt, &updatedAt); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}

// GetRun retrieves a run by ID. Returns nil if there is none.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.queryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recently updated run for an entry, or nil.
func (db *DB) LatestRun(entry string) (*Run, error) {
	row := db.queryRow(`
		SELECT `+runColumns+` FROM runs
		WHERE entry_name = ?
		ORDER BY updated_at DESC, rowid DESC
		LIMIT 1
	`, entry)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first. A limit of zero or less lists all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.query(`
		SELECT `+runColumns+` FROM runs
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// InterruptedRuns returns the runs that never reached a terminal state,
// newest first.
func (db *DB) InterruptedRuns() ([]Run, error) {
	all, err := db.ListRuns(0)
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, r := range all {
		if r.Interrupted() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Snapshots returns the transitions recorded for a run, in order.
func (db *DB) Snapshots(runID string) ([]orchestrator.Snapshot, error) {
	rows, err := db.query(`
		SELECT s.state, s.iteration, s.open_count, s.status, s.recorded_at, r.entry_name
		FROM snapshots s JOIN runs r ON r.id = s.run_id
		WHERE s.run_id = ?
		ORDER BY s.id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Snapshot
	for rows.Next() {
		s := orchestrator.Snapshot{RunID: runID}
		var at string
		if err := rows.Scan(&s.State, &s.Iteration, &s.OpenCount, &s.Status, &at, &s.EntryName); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.At, _ = parseTime(at)
		out = append(out, s)
	}
	return out, rows.Err()
}
