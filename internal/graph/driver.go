package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// AccessMode selects a read or write session.
type AccessMode string

const (
	AccessModeWrite AccessMode = "write"
	AccessModeRead  AccessMode = "read"
)

// driver is the subset of the Neo4j driver the mirror uses, so tests can
// substitute a fake.
type driver interface {
	NewSession(ctx context.Context, mode AccessMode, database string) (session, error)
	Close(ctx context.Context) error
}

type session interface {
	Run(ctx context.Context, query string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type result interface {
	Consume(ctx context.Context) error
}

type driverWrapper struct {
	driver neo4j.DriverWithContext
}

func wrapDriver(d neo4j.DriverWithContext) driver {
	return &driverWrapper{driver: d}
}

func (d *driverWrapper) NewSession(ctx context.Context, mode AccessMode, database string) (session, error) {
	cfg := neo4j.SessionConfig{DatabaseName: database, AccessMode: neo4j.AccessModeWrite}
	if mode == AccessModeRead {
		cfg.AccessMode = neo4j.AccessModeRead
	}
	return &sessionWrapper{session: d.driver.NewSession(ctx, cfg)}, nil
}

func (d *driverWrapper) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

type sessionWrapper struct {
	session neo4j.SessionWithContext
}

func (s *sessionWrapper) Run(ctx context.Context, query string, params map[string]any) (result, error) {
	res, err := s.session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return &resultWrapper{result: res}, nil
}

func (s *sessionWrapper) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

type resultWrapper struct {
	result neo4j.ResultWithContext
}

func (r *resultWrapper) Consume(ctx context.Context) error {
	_, err := r.result.Consume(ctx)
	return err
}
