// Package store is the sqlite persistence layer for memories, the tag score
// index, the intelligence destination stores and processing state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps a sqlite database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite has a single writer; one connection also keeps the pragmas in effect.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{db: sqlDB}
	if err := d.configure(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := d.initSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := d.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			summary TEXT NOT NULL,
			tags TEXT NOT NULL,
			conversation_snippet TEXT NOT NULL DEFAULT '',
			relevance REAL NOT NULL DEFAULT 0,
			knowledge_refs TEXT NOT NULL DEFAULT '[]',
			meta_tags TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_ts ON memories(ts)`,
		`CREATE TABLE IF NOT EXISTS performer_memories (
			id TEXT PRIMARY KEY,
			performer_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			summary TEXT NOT NULL,
			tags TEXT NOT NULL,
			transcript_snippet TEXT NOT NULL DEFAULT '',
			relevance REAL NOT NULL DEFAULT 0,
			meta_tags TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_performer_memories ON performer_memories(performer_id, ts)`,
		`CREATE TABLE IF NOT EXISTS tag_scores (
			tag TEXT PRIMARY KEY,
			memory_count INTEGER NOT NULL DEFAULT 0,
			knowledge_count INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			company TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			pain_points TEXT NOT NULL DEFAULT '[]',
			goals TEXT NOT NULL DEFAULT '[]',
			personality TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clients_name ON clients(name_key)`,
		`CREATE TABLE IF NOT EXISTS brand (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			name TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL DEFAULT '',
			audience TEXT NOT NULL DEFAULT '',
			positioning TEXT NOT NULL DEFAULT '',
			brand_values TEXT NOT NULL DEFAULT '[]',
			offerings TEXT NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS performers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS journal_entries (
			id TEXT PRIMARY KEY,
			entry_date TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			entry_time TEXT NOT NULL DEFAULT '',
			source_memory_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_date ON journal_entries(entry_date)`,
		`CREATE TABLE IF NOT EXISTS knowledge_entities (
			name TEXT PRIMARY KEY,
			last_seen_conversation_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_edges (
			source TEXT NOT NULL,
			relation TEXT NOT NULL,
			target TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (source, relation, target)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_tags (
			name TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (name, tag)
		)`,
		`CREATE TABLE IF NOT EXISTS interaction_events (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			summary TEXT NOT NULL,
			participants TEXT NOT NULL DEFAULT '[]',
			sentiment TEXT NOT NULL DEFAULT '',
			intrigue REAL NOT NULL DEFAULT 0,
			event_date TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_memory ON interaction_events(memory_id)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			previous_relevance REAL NOT NULL,
			relevance REAL NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			applied TEXT NOT NULL DEFAULT '{}',
			failures TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
		`CREATE TABLE IF NOT EXISTS memory_processing (
			memory_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processing_status ON memory_processing(status, updated_at)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func limitClause(limit, offset int) string {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		if offset > 0 {
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
		}
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
