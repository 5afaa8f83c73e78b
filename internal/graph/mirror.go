// Package graph mirrors knowledge edges into Neo4j for graph queries outside
// memoryd. The sqlite knowledge tables stay authoritative; the mirror only
// ever MERGEs, so replaying edges is harmless.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Open when no Neo4j URI is set.
var ErrNotConfigured = errors.New("neo4j mirror not configured")

const mergeEdgeCypher = `
MERGE (s:Entity {name: $source})
  ON CREATE SET s.created_at = $now
SET s.updated_at = $now
MERGE (t:Entity {name: $target})
  ON CREATE SET t.created_at = $now
SET t.updated_at = $now
MERGE (s)-[r:RELATES {type: $relation}]->(t)
  ON CREATE SET r.created_at = $now`

var schemaCypher = []string{
	"CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE",
	"CREATE INDEX relates_type IF NOT EXISTS FOR ()-[r:RELATES]-() ON (r.type)",
}

// Mirror writes knowledge edges to Neo4j.
type Mirror struct {
	driver   driver
	database string
	logger   *logging.Logger
	now      func() time.Time
}

// Open connects to the Neo4j server in cfg, verifies connectivity and
// ensures the schema.
func Open(ctx context.Context, cfg config.KnowledgeConfig, logger *logging.Logger) (*Mirror, error) {
	if cfg.Neo4jURI == "" {
		return nil, ErrNotConfigured
	}
	d, err := neo4j.NewDriverWithContext(cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword.Value(), ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := d.VerifyConnectivity(ctx); err != nil {
		_ = d.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	m := newMirror(wrapDriver(d), cfg.Neo4jDatabase, logger)
	if err := m.EnsureSchema(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}
	return m, nil
}

func newMirror(d driver, database string, logger *logging.Logger) *Mirror {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Mirror{driver: d, database: database, logger: logger.Named("graph"), now: time.Now}
}

// EnsureSchema creates the entity constraint and relation index.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	return m.write(ctx, func(s session) error {
		for _, q := range schemaCypher {
			if err := run(ctx, s, q, nil); err != nil {
				return fmt.Errorf("neo4j schema: %w", err)
			}
		}
		return nil
	})
}

// MergeEdge records source -relation-> target.
func (m *Mirror) MergeEdge(ctx context.Context, source, relation, target string) error {
	params := map[string]any{
		"source":   source,
		"relation": relation,
		"target":   target,
		"now":      m.now().UTC().Format(time.RFC3339Nano),
	}
	err := m.write(ctx, func(s session) error {
		return run(ctx, s, mergeEdgeCypher, params)
	})
	if err != nil {
		return fmt.Errorf("neo4j merge edge %q -%s-> %q: %w", source, relation, target, err)
	}
	m.logger.Debug(ctx, "knowledge edge mirrored",
		zap.String("source", source),
		zap.String("relation", relation),
		zap.String("target", target),
	)
	return nil
}

// Close closes the driver.
func (m *Mirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

func (m *Mirror) write(ctx context.Context, fn func(session) error) error {
	s, err := m.driver.NewSession(ctx, AccessModeWrite, m.database)
	if err != nil {
		return fmt.Errorf("neo4j new session: %w", err)
	}
	defer s.Close(ctx)
	return fn(s)
}

func run(ctx context.Context, s session, query string, params map[string]any) error {
	res, err := s.Run(ctx, query, params)
	if err != nil {
		return err
	}
	return res.Consume(ctx)
}
