package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome values recorded when a run finishes.
const (
	OutcomeCompleted    = "completed"
	OutcomeStopped      = "stopped"
	OutcomeQuotaBlocked = "quota_blocked"
	OutcomeDiscarded    = "discarded"
)

// Run is one optimization or bulk run.
type Run struct {
	ID                  string
	Job                 string
	TotalItems          int
	SettingsFingerprint string
	StartedAt           time.Time
	FinishedAt          *time.Time
	Outcome             string
}

// Finished reports whether the run has a recorded outcome.
func (r Run) Finished() bool {
	return r.FinishedAt != nil
}

// BeginRun records a new run. Beginning an existing run id is a no-op.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("begin run: id is required")
	}
	_, err := s.execWithRetry(ctx, `INSERT OR IGNORE INTO runs (id, job, total_items, settings_fingerprint, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Job, run.TotalItems, nullableString(run.SettingsFingerprint), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stamps a run's outcome and finish time.
func (s *Store) FinishRun(ctx context.Context, runID, outcome string, at time.Time) error {
	res, err := s.execWithRetry(ctx, "UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?",
		outcome, formatTime(at), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// GetRun returns a run by id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT id, job, total_items, settings_fingerprint, started_at, finished_at, outcome
		FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs for a job, newest first. An empty
// job lists every job.
func (s *Store) ListRuns(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, job, total_items, settings_fingerprint, started_at, finished_at, outcome FROM runs`
	args := []any{}
	if job != "" {
		query += " WHERE job = ?"
		args = append(args, job)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and all of its results.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.execWithRetry(ctx, "DELETE FROM results WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("delete run results: %w", err)
	}
	if _, err := s.execWithRetry(ctx, "DELETE FROM runs WHERE id = ?", runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		fingerprint sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
		outcome     sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.Job, &run.TotalItems, &fingerprint, &startedRaw, &finishedRaw, &outcome); err != nil {
		return nil, err
	}
	run.SettingsFingerprint = fingerprint.String
	run.Outcome = outcome.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return &run, nil
}
