package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
)

const clientColumns = `id, name, company, role, pain_points, goals, personality, preferences, notes, created_at, updated_at`

func scanClient(row rowScanner) (intel.ClientProfile, error) {
	var (
		c                                    intel.ClientProfile
		pain, goals, prefs, created, updated string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Company, &c.Role, &pain, &goals, &c.Personality, &prefs, &c.Notes, &created, &updated); err != nil {
		return intel.ClientProfile{}, err
	}
	c.PainPoints = decodeList(pain)
	c.Goals = decodeList(goals)
	c.Preferences = decodeList(prefs)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func (d *DB) queryClient(ctx context.Context, where string, arg any) (intel.ClientProfile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE `+where+` LIMIT 1`, arg)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return intel.ClientProfile{}, intel.ErrNotFound
	}
	if err != nil {
		return intel.ClientProfile{}, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

// GetClient returns a client by id.
func (d *DB) GetClient(ctx context.Context, id string) (intel.ClientProfile, error) {
	return d.queryClient(ctx, `id = ?`, id)
}

// FindClientByName matches names case-insensitively.
func (d *DB) FindClientByName(ctx context.Context, name string) (intel.ClientProfile, error) {
	return d.queryClient(ctx, `name_key = ?`, nameKey(name))
}

// SaveClient inserts or replaces a client by id.
func (d *DB) SaveClient(ctx context.Context, c intel.ClientProfile) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`, name_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, name_key = excluded.name_key, company = excluded.company,
			role = excluded.role, pain_points = excluded.pain_points, goals = excluded.goals,
			personality = excluded.personality, preferences = excluded.preferences,
			notes = excluded.notes, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Company, c.Role, encodeList(c.PainPoints), encodeList(c.Goals), c.Personality,
		encodeList(c.Preferences), c.Notes, formatTime(c.CreatedAt), formatTime(c.UpdatedAt), nameKey(c.Name))
	if err != nil {
		return fmt.Errorf("save client %s: %w", c.ID, err)
	}
	return nil
}

// ListClients returns clients ordered by name.
func (d *DB) ListClients(ctx context.Context) ([]intel.ClientProfile, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name_key, id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	out := []intel.ClientProfile{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
