package store

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// UpsertJournalEntry writes a journal entry keyed by its id. created is false
// when the entry already existed; its description and time are refreshed.
func (d *DB) UpsertJournalEntry(ctx context.Context, e intel.JournalEntry) (created bool, err error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, entry_date, title, description, entry_time, source_memory_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Date, e.Title, e.Description, e.Time, e.SourceMemoryID, formatTime(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert journal entry %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	if _, err := d.db.ExecContext(ctx,
		`UPDATE journal_entries SET description = ?, entry_time = ? WHERE id = ?`,
		e.Description, e.Time, e.ID); err != nil {
		return false, fmt.Errorf("update journal entry %s: %w", e.ID, err)
	}
	return false, nil
}

// ListJournal returns entries with from <= date <= to, ordered by date.
// Empty bounds are open.
func (d *DB) ListJournal(ctx context.Context, from, to string) ([]intel.JournalEntry, error) {
	query := `SELECT id, entry_date, title, description, entry_time, source_memory_id, created_at
		FROM journal_entries WHERE 1 = 1`
	var args []any
	if from != "" {
		query += ` AND entry_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND entry_date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY entry_date, entry_time, title`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	out := []intel.JournalEntry{}
	for rows.Next() {
		var (
			e       intel.JournalEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.Date, &e.Title, &e.Description, &e.Time, &e.SourceMemoryID, &created); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
