package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// GetProcessingState returns the processing state of a memory. Memories
// never processed report StatusPending with zero attempts.
func (d *DB) GetProcessingState(ctx context.Context, memoryID string) (intel.ProcessingState, error) {
	var (
		st      intel.ProcessingState
		status  string
		updated string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT memory_id, status, attempts, last_error, updated_at FROM memory_processing WHERE memory_id = ?`, memoryID).
		Scan(&st.MemoryID, &status, &st.Attempts, &st.LastError, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return intel.ProcessingState{MemoryID: memoryID, Status: intel.StatusPending}, nil
	}
	if err != nil {
		return intel.ProcessingState{}, fmt.Errorf("get processing state %s: %w", memoryID, err)
	}
	st.Status = intel.Status(status)
	st.UpdatedAt = parseTime(updated)
	return st, nil
}

// RecordProcessing stores the outcome of one processing attempt and
// increments the attempt counter.
func (d *DB) RecordProcessing(ctx context.Context, memoryID string, status intel.Status, lastError string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO memory_processing (memory_id, status, attempts, last_error, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			status = excluded.status,
			attempts = memory_processing.attempts + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		memoryID, string(status), lastError, formatTime(at))
	if err != nil {
		return fmt.Errorf("record processing %s: %w", memoryID, err)
	}
	return nil
}

// ListPending returns ids of memories that still need extraction: never
// processed, or failed with fewer than maxAttempts attempts. Oldest first.
func (d *DB) ListPending(ctx context.Context, limit, maxAttempts int) ([]string, error) {
	query := `SELECT m.id FROM memories m
		LEFT JOIN memory_processing p ON p.memory_id = m.id
		WHERE p.memory_id IS NULL
			OR p.status = 'pending'
			OR (p.status = 'failed' AND (? <= 0 OR p.attempts < ?))
		ORDER BY m.ts, m.id` + limitClause(limit, 0)

	rows, err := d.db.QueryContext(ctx, query, maxAttempts, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ProcessingCounts returns the number of tracked memories per status.
func (d *DB) ProcessingCounts(ctx context.Context) (map[intel.Status]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM memory_processing GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("processing counts: %w", err)
	}
	defer rows.Close()

	out := map[intel.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan processing count: %w", err)
		}
		out[intel.Status(status)] = n
	}
	return out, rows.Err()
}
