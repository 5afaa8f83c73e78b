package store

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// UpsertInteraction inserts an interaction event. created is false when an
// event with the same id already exists; the stored event is left as is.
func (d *DB) UpsertInteraction(ctx context.Context, ev intel.InteractionEvent) (created bool, err error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO interaction_events (id, memory_id, kind, summary, participants, sentiment, intrigue, event_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.MemoryID, ev.Kind, ev.Summary, encodeList(ev.Participants), ev.Sentiment, ev.Intrigue, ev.Date,
		formatTime(ev.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert interaction %s: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert interaction %s: %w", ev.ID, err)
	}
	return n == 1, nil
}

// ListInteractions returns interactions newest first, optionally restricted
// to one memory.
func (d *DB) ListInteractions(ctx context.Context, memoryID string, limit int) ([]intel.InteractionEvent, error) {
	query := `SELECT id, memory_id, kind, summary, participants, sentiment, intrigue, event_date, created_at
		FROM interaction_events`
	var args []any
	if memoryID != "" {
		query += ` WHERE memory_id = ?`
		args = append(args, memoryID)
	}
	query += ` ORDER BY created_at DESC, id` + limitClause(limit, 0)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := []intel.InteractionEvent{}
	for rows.Next() {
		var (
			ev                    intel.InteractionEvent
			participants, created string
		)
		if err := rows.Scan(&ev.ID, &ev.MemoryID, &ev.Kind, &ev.Summary, &participants, &ev.Sentiment,
			&ev.Intrigue, &ev.Date, &created); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		ev.Participants = decodeList(participants)
		ev.CreatedAt = parseTime(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
