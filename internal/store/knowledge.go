package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// EnsureKnowledgeEntity creates the entity if missing and records the
// conversation it was last seen in. An empty conversationID leaves the
// previous value in place.
func (d *DB) EnsureKnowledgeEntity(ctx context.Context, name, conversationID string, at time.Time) error {
	ts := formatTime(at)
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO knowledge_entities (name, last_seen_conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_seen_conversation_id = CASE WHEN excluded.last_seen_conversation_id = ''
				THEN knowledge_entities.last_seen_conversation_id
				ELSE excluded.last_seen_conversation_id END,
			updated_at = excluded.updated_at`,
		name, conversationID, ts, ts)
	if err != nil {
		return fmt.Errorf("ensure knowledge entity %q: %w", name, err)
	}
	return nil
}

// AddKnowledgeEdge records source -relation-> target. added is false when the
// edge already existed.
func (d *DB) AddKnowledgeEdge(ctx context.Context, source, relation, target string, at time.Time) (added bool, err error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO knowledge_edges (source, relation, target, created_at) VALUES (?, ?, ?, ?)`,
		source, relation, target, formatTime(at))
	if err != nil {
		return false, fmt.Errorf("add knowledge edge %q -%s-> %q: %w", source, relation, target, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add knowledge edge: %w", err)
	}
	return n == 1, nil
}

// AddKnowledgeTags attaches tags to an entity and returns the ones that were
// not attached before.
func (d *DB) AddKnowledgeTags(ctx context.Context, name string, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO knowledge_tags (name, tag) VALUES (?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare knowledge tag insert: %w", err)
	}
	defer stmt.Close()

	var added []string
	for _, tag := range tags {
		res, err := stmt.ExecContext(ctx, name, tag)
		if err != nil {
			return nil, fmt.Errorf("add knowledge tag %q to %q: %w", tag, name, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			added = append(added, tag)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit knowledge tags: %w", err)
	}
	return added, nil
}

// GetKnowledgeEntity returns an entity with its outgoing relationships and tags.
func (d *DB) GetKnowledgeEntity(ctx context.Context, name string) (intel.KnowledgeEntity, error) {
	var (
		e                intel.KnowledgeEntity
		created, updated string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT name, last_seen_conversation_id, created_at, updated_at FROM knowledge_entities WHERE name = ?`, name).
		Scan(&e.Name, &e.LastSeenConversationID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return intel.KnowledgeEntity{}, intel.ErrNotFound
	}
	if err != nil {
		return intel.KnowledgeEntity{}, fmt.Errorf("get knowledge entity %q: %w", name, err)
	}
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)

	if err := d.loadKnowledgeDetail(ctx, &e); err != nil {
		return intel.KnowledgeEntity{}, err
	}
	return e, nil
}

// ListKnowledgeEntities returns entities, most recently updated first.
func (d *DB) ListKnowledgeEntities(ctx context.Context, limit int) ([]intel.KnowledgeEntity, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, last_seen_conversation_id, created_at, updated_at FROM knowledge_entities
		ORDER BY updated_at DESC, name`+limitClause(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("list knowledge entities: %w", err)
	}

	out := []intel.KnowledgeEntity{}
	for rows.Next() {
		var (
			e                intel.KnowledgeEntity
			created, updated string
		)
		if err := rows.Scan(&e.Name, &e.LastSeenConversationID, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan knowledge entity: %w", err)
		}
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Detail queries run after the cursor is closed; the pool has one connection.
	for i := range out {
		if err := d.loadKnowledgeDetail(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *DB) loadKnowledgeDetail(ctx context.Context, e *intel.KnowledgeEntity) error {
	e.Relationships = map[string][]string{}
	e.SourceTags = []string{}

	rows, err := d.db.QueryContext(ctx,
		`SELECT relation, target FROM knowledge_edges WHERE source = ? ORDER BY relation, created_at, target`, e.Name)
	if err != nil {
		return fmt.Errorf("load knowledge edges: %w", err)
	}
	for rows.Next() {
		var relation, target string
		if err := rows.Scan(&relation, &target); err != nil {
			rows.Close()
			return fmt.Errorf("scan knowledge edge: %w", err)
		}
		e.Relationships[relation] = append(e.Relationships[relation], target)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	tagRows, err := d.db.QueryContext(ctx, `SELECT tag FROM knowledge_tags WHERE name = ? ORDER BY tag`, e.Name)
	if err != nil {
		return fmt.Errorf("load knowledge tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return fmt.Errorf("scan knowledge tag: %w", err)
		}
		e.SourceTags = append(e.SourceTags, tag)
	}
	return tagRows.Err()
}
