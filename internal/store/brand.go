package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

// GetBrand returns the brand singleton, or intel.ErrNotFound before the first save.
func (d *DB) GetBrand(ctx context.Context) (intel.Brand, error) {
	var (
		b                          intel.Brand
		values, offerings, updated string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT name, voice, audience, positioning, brand_values, offerings, notes, updated_at FROM brand WHERE id = 1`).
		Scan(&b.Name, &b.Voice, &b.Audience, &b.Positioning, &values, &offerings, &b.Notes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return intel.Brand{}, intel.ErrNotFound
	}
	if err != nil {
		return intel.Brand{}, fmt.Errorf("get brand: %w", err)
	}
	b.Values = decodeList(values)
	b.Offerings = decodeList(offerings)
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

// SaveBrand writes the brand singleton.
func (d *DB) SaveBrand(ctx context.Context, b intel.Brand) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO brand (id, name, voice, audience, positioning, brand_values, offerings, notes, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, voice = excluded.voice, audience = excluded.audience,
			positioning = excluded.positioning, brand_values = excluded.brand_values,
			offerings = excluded.offerings, notes = excluded.notes, updated_at = excluded.updated_at`,
		b.Name, b.Voice, b.Audience, b.Positioning, encodeList(b.Values), encodeList(b.Offerings), b.Notes, formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save brand: %w", err)
	}
	return nil
}
