package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// GetPerformer returns a roster member by id.
func (d *DB) GetPerformer(ctx context.Context, id string) (intel.Performer, error) {
	var (
		p       intel.Performer
		updated string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, role, description, updated_at FROM performers WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Role, &p.Description, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return intel.Performer{}, intel.ErrNotFound
	}
	if err != nil {
		return intel.Performer{}, fmt.Errorf("get performer %s: %w", id, err)
	}
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

// SavePerformer inserts or replaces a roster member.
func (d *DB) SavePerformer(ctx context.Context, p intel.Performer) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO performers (id, name, role, description, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, role = excluded.role,
			description = excluded.description, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Role, p.Description, formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save performer %s: %w", p.ID, err)
	}
	return nil
}

// ListPerformers returns the roster ordered by name.
func (d *DB) ListPerformers(ctx context.Context) ([]intel.Performer, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, role, description, updated_at FROM performers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list performers: %w", err)
	}
	defer rows.Close()

	out := []intel.Performer{}
	for rows.Next() {
		var (
			p       intel.Performer
			updated string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.Description, &updated); err != nil {
			return nil, fmt.Errorf("scan performer: %w", err)
		}
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}
