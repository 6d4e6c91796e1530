package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"optibatch/internal/media"
)

// Counts are the aggregate counters of one run.
type Counts struct {
	Success        int   `json:"success"`
	Skipped        int   `json:"skipped"`
	Error          int   `json:"error"`
	SavedBytes     int64 `json:"saved_bytes"`
	OriginalBytes  int64 `json:"original_bytes"`
	OptimizedBytes int64 `json:"optimized_bytes"`
}

// Total is the number of recorded items.
func (c Counts) Total() int {
	return c.Success + c.Skipped + c.Error
}

// Append records an item outcome, replacing any row at the same position.
func (s *Store) Append(ctx context.Context, runID string, rec media.ResultRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("append result: invalid status %q", rec.Status)
	}
	_, err := s.execWithRetry(ctx, `INSERT OR REPLACE INTO results (
			run_id, position, item_id, filename, title, status,
			original_bytes, optimized_bytes, saved_bytes, savings_percent,
			error_message, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Position, rec.ItemID, rec.Filename, nullableString(rec.Title), string(rec.Status),
		rec.OriginalBytes, rec.OptimizedBytes, rec.SavedBytes, rec.SavingsPercent,
		nullableString(rec.ErrorMessage), formatTime(rec.RecordedAt))
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

// TruncateFrom deletes results at or after position. Resume uses it to drop
// rows the restored checkpoint has not accounted for.
func (s *Store) TruncateFrom(ctx context.Context, runID string, position int) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM results WHERE run_id = ? AND position >= ?", runID, position)
	if err != nil {
		return 0, fmt.Errorf("truncate results: %w", err)
	}
	return res.RowsAffected()
}

// Counts aggregates a run's results.
func (s *Store) Counts(ctx context.Context, runID string) (Counts, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(saved_bytes), 0),
			COALESCE(SUM(original_bytes), 0),
			COALESCE(SUM(optimized_bytes), 0)
		FROM results WHERE run_id = ?`, runID)
	var c Counts
	if err := row.Scan(&c.Success, &c.Skipped, &c.Error, &c.SavedBytes, &c.OriginalBytes, &c.OptimizedBytes); err != nil {
		return Counts{}, fmt.Errorf("count results: %w", err)
	}
	return c, nil
}

// ProcessedQuery selects a page of a run's results.
type ProcessedQuery struct {
	Status media.ItemStatus
	Page   Pagination
}

// Processed returns results most-recent-first, optionally filtered by status.
func (s *Store) Processed(ctx context.Context, runID string, q ProcessedQuery) (Page[media.ResultRecord], error) {
	ctx = ensureContext(ctx)
	pg := q.Page.normalize()

	where := "run_id = ?"
	args := []any{runID}
	if q.Status != "" {
		if !q.Status.Valid() {
			return Page[media.ResultRecord]{}, fmt.Errorf("processed: invalid status filter %q", q.Status)
		}
		where += " AND status = ?"
		args = append(args, string(q.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM results WHERE "+where, args...).Scan(&total); err != nil {
		return Page[media.ResultRecord]{}, fmt.Errorf("count processed: %w", err)
	}

	query := `SELECT position, item_id, filename, title, status, original_bytes, optimized_bytes,
			saved_bytes, savings_percent, error_message, recorded_at
		FROM results WHERE ` + where + ` ORDER BY position DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, pg.PerPage, pg.offset())...)
	if err != nil {
		return Page[media.ResultRecord]{}, fmt.Errorf("list processed: %w", err)
	}
	defer rows.Close()

	records := make([]media.ResultRecord, 0, pg.PerPage)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Page[media.ResultRecord]{}, fmt.Errorf("scan result: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return Page[media.ResultRecord]{}, err
	}
	return newPage(records, total, pg), nil
}

// All returns every result of a run in queue order.
func (s *Store) All(ctx context.Context, runID string) ([]media.ResultRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT position, item_id, filename, title, status, original_bytes,
			optimized_bytes, saved_bytes, savings_percent, error_message, recorded_at
		FROM results WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	var records []media.ResultRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (media.ResultRecord, error) {
	var (
		rec         media.ResultRecord
		title       sql.NullString
		status      string
		errMsg      sql.NullString
		recordedRaw string
	)
	if err := scanner.Scan(&rec.Position, &rec.ItemID, &rec.Filename, &title, &status, &rec.OriginalBytes,
		&rec.OptimizedBytes, &rec.SavedBytes, &rec.SavingsPercent, &errMsg, &recordedRaw); err != nil {
		return media.ResultRecord{}, err
	}
	rec.Title = title.String
	rec.Status = media.ItemStatus(status)
	rec.ErrorMessage = errMsg.String
	if recorded, err := parseTimeString(recordedRaw); err == nil {
		rec.RecordedAt = recorded
	}
	return rec, nil
}
