package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
)

// IncrementTagUsage adds one usage of kind to each tag in a single transaction.
func (d *DB) IncrementTagUsage(ctx context.Context, tags []string, kind tagscore.Kind, at time.Time) error {
	memDelta, knowDelta := 1, 0
	if kind == tagscore.KindKnowledge {
		memDelta, knowDelta = 0, 1
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tag_scores (tag, memory_count, knowledge_count, last_updated) VALUES (?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			memory_count = memory_count + excluded.memory_count,
			knowledge_count = knowledge_count + excluded.knowledge_count,
			last_updated = excluded.last_updated`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	ts := formatTime(at)
	for _, tag := range tags {
		if _, err := stmt.ExecContext(ctx, tag, memDelta, knowDelta, ts); err != nil {
			return fmt.Errorf("increment tag %q: %w", tag, err)
		}
	}
	return tx.Commit()
}

// ListTagUsage returns raw tag counts.
func (d *DB) ListTagUsage(ctx context.Context) ([]tagscore.TagScore, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT tag, memory_count, knowledge_count, last_updated FROM tag_scores`)
	if err != nil {
		return nil, fmt.Errorf("list tag scores: %w", err)
	}
	defer rows.Close()

	out := []tagscore.TagScore{}
	for rows.Next() {
		var (
			ts      tagscore.TagScore
			updated string
		)
		if err := rows.Scan(&ts.Tag, &ts.MemoryCount, &ts.KnowledgeCount, &updated); err != nil {
			return nil, fmt.Errorf("scan tag score: %w", err)
		}
		ts.LastUpdated = parseTime(updated)
		out = append(out, ts)
	}
	return out, rows.Err()
}

var _ tagscore.Store = (*DB)(nil)
