package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

const memoryColumns = `id, ts, summary, tags, conversation_snippet, relevance, knowledge_refs, meta_tags`

func scanMemory(row rowScanner) (memory.Memory, error) {
	var (
		m                        memory.Memory
		ts, tags, refs, metaTags string
	)
	if err := row.Scan(&m.ID, &ts, &m.Summary, &tags, &m.ConversationSnippet, &m.Relevance, &refs, &metaTags); err != nil {
		return memory.Memory{}, err
	}
	m.Timestamp = parseTime(ts)
	m.Tags = decodeList(tags)
	if r := decodeList(refs); len(r) > 0 {
		m.KnowledgeRefs = r
	}
	if mt := decodeList(metaTags); len(mt) > 0 {
		m.MetaTags = mt
	}
	return m, nil
}

// InsertMemory stores a new memory.
func (d *DB) InsertMemory(ctx context.Context, m memory.Memory) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, formatTime(m.Timestamp), m.Summary, encodeList(m.Tags), m.ConversationSnippet,
		m.Relevance, encodeList(m.KnowledgeRefs), encodeList(m.MetaTags))
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", m.ID, err)
	}
	return nil
}

// GetMemory returns memory.ErrNotFound when id is unknown.
func (d *DB) GetMemory(ctx context.Context, id string) (memory.Memory, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Memory{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Memory{}, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// ListMemories returns memories newest first; equal timestamps keep
// insertion order reversed.
func (d *DB) ListMemories(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories ORDER BY ts DESC, rowid DESC`+limitClause(opts.Limit, opts.Offset))
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	out := []memory.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceMemory overwrites every mutable field of an existing memory.
func (d *DB) ReplaceMemory(ctx context.Context, m memory.Memory) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE memories SET summary = ?, tags = ?, conversation_snippet = ?, relevance = ?,
			knowledge_refs = ?, meta_tags = ? WHERE id = ?`,
		m.Summary, encodeList(m.Tags), m.ConversationSnippet, m.Relevance,
		encodeList(m.KnowledgeRefs), encodeList(m.MetaTags), m.ID)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", m.ID, err)
	}
	return expectOne(res, memory.ErrNotFound)
}

// SetRelevance overwrites a memory's relevance.
func (d *DB) SetRelevance(ctx context.Context, id string, relevance float64) error {
	res, err := d.db.ExecContext(ctx, `UPDATE memories SET relevance = ? WHERE id = ?`, relevance, id)
	if err != nil {
		return fmt.Errorf("set relevance %s: %w", id, err)
	}
	return expectOne(res, memory.ErrNotFound)
}

// DeleteMemory removes a memory and its processing state.
func (d *DB) DeleteMemory(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if err := expectOne(res, memory.ErrNotFound); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM memory_processing WHERE memory_id = ?`, id); err != nil {
		return fmt.Errorf("delete processing state %s: %w", id, err)
	}
	return nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

const performerMemoryColumns = `id, performer_id, ts, summary, tags, transcript_snippet, relevance, meta_tags`

func scanPerformerMemory(row rowScanner) (memory.PerformerMemory, error) {
	var (
		m                  memory.PerformerMemory
		ts, tags, metaTags string
	)
	if err := row.Scan(&m.ID, &m.PerformerID, &ts, &m.Summary, &tags, &m.TranscriptSnippet, &m.Relevance, &metaTags); err != nil {
		return memory.PerformerMemory{}, err
	}
	m.Timestamp = parseTime(ts)
	m.Tags = decodeList(tags)
	if mt := decodeList(metaTags); len(mt) > 0 {
		m.MetaTags = mt
	}
	return m, nil
}

// InsertPerformerMemory stores a new performer memory.
func (d *DB) InsertPerformerMemory(ctx context.Context, m memory.PerformerMemory) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO performer_memories (`+performerMemoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PerformerID, formatTime(m.Timestamp), m.Summary, encodeList(m.Tags),
		m.TranscriptSnippet, m.Relevance, encodeList(m.MetaTags))
	if err != nil {
		return fmt.Errorf("insert performer memory %s: %w", m.ID, err)
	}
	return nil
}

// ListPerformerMemories returns one performer's memories newest first.
func (d *DB) ListPerformerMemories(ctx context.Context, performerID string, opts memory.ListOptions) ([]memory.PerformerMemory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+performerMemoryColumns+` FROM performer_memories WHERE performer_id = ?
			ORDER BY ts DESC, rowid DESC`+limitClause(opts.Limit, opts.Offset), performerID)
	if err != nil {
		return nil, fmt.Errorf("list performer memories: %w", err)
	}
	defer rows.Close()

	out := []memory.PerformerMemory{}
	for rows.Next() {
		m, err := scanPerformerMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan performer memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeletePerformerMemory removes a memory only if it belongs to performerID.
func (d *DB) DeletePerformerMemory(ctx context.Context, performerID, id string) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM performer_memories WHERE id = ? AND performer_id = ?`, id, performerID)
	if err != nil {
		return fmt.Errorf("delete performer memory %s: %w", id, err)
	}
	return expectOne(res, memory.ErrNotFound)
}

var _ memory.Store = (*DB)(nil)
