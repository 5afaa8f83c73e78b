package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// InsertAudit appends an audit record.
func (d *DB) InsertAudit(ctx context.Context, rec intel.AuditRecord) error {
	applied, err := json.Marshal(nonNilCounts(rec.Applied))
	if err != nil {
		return fmt.Errorf("encode audit applied: %w", err)
	}
	failures, err := json.Marshal(nonNilFailures(rec.Failures))
	if err != nil {
		return fmt.Errorf("encode audit failures: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, memory_id, created_at, previous_relevance, relevance, reasoning, applied, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MemoryID, formatTime(rec.CreatedAt), rec.PreviousRelevance, rec.Relevance, rec.Reasoning,
		string(applied), string(failures))
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", rec.ID, err)
	}
	return nil
}

// ListAudit returns audit records newest first.
func (d *DB) ListAudit(ctx context.Context, limit int) ([]intel.AuditRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, memory_id, created_at, previous_relevance, relevance, reasoning, applied, failures
		FROM audit_log ORDER BY created_at DESC, rowid DESC`+limitClause(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := []intel.AuditRecord{}
	for rows.Next() {
		var (
			rec                        intel.AuditRecord
			created, applied, failures string
		)
		if err := rows.Scan(&rec.ID, &rec.MemoryID, &created, &rec.PreviousRelevance, &rec.Relevance,
			&rec.Reasoning, &applied, &failures); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		rec.Applied = map[string]int{}
		_ = json.Unmarshal([]byte(applied), &rec.Applied)
		if failures != "" && failures != "{}" {
			rec.Failures = map[string]string{}
			_ = json.Unmarshal([]byte(failures), &rec.Failures)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilFailures(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
