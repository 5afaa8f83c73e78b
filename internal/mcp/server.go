// Package mcp exposes memoryd over the Model Context Protocol.
//
// Tools call the memory, selector and pipeline services directly. Text that
// leaves the server (summaries and primers) is scrubbed for secrets first.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/recall"
	"github.com/fyrsmithlabs/memoryd/internal/secrets"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MemoryService stores and reads memories.
type MemoryService interface {
	AddMemory(ctx context.Context, m memory.Memory) (memory.Memory, error)
	Get(ctx context.Context, id string) (memory.Memory, error)
}

// ContextService selects memories for a conversation.
type ContextService interface {
	Context(ctx context.Context, req selector.Request) (selector.Result, error)
	PerformerContext(ctx context.Context, performerID string, req selector.Request) (selector.PerformerResult, error)
}

// TagSource serves the tag score index.
type TagSource interface {
	TagScores(ctx context.Context) ([]tagscore.TagScore, error)
}

// Processor runs one memory through extraction and application.
type Processor interface {
	Process(ctx context.Context, memoryID string) (pipeline.Outcome, error)
}

// Searcher finds memories similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]recall.Hit, error)
}

// Deps are the services behind the tools. Processor and Searcher may be nil;
// their tools then fail with a "not configured" error.
type Deps struct {
	Memories  MemoryService
	Context   ContextService
	Tags      TagSource
	Processor Processor
	Searcher  Searcher
	Scrubber  *secrets.Scrubber
}

// Server is an MCP server over memoryd's services.
type Server struct {
	mcp     *mcp.Server
	deps    Deps
	metrics *Metrics
	logger  *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "memoryd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "memoryd",
		Version: "dev",
		Logger:  logging.Nop(),
	}
}

// NewServer creates an MCP server and registers its tools.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if deps.Memories == nil || deps.Context == nil || deps.Tags == nil {
		return nil, errors.New("memories, context and tags services are required")
	}
	if deps.Scrubber == nil {
		sc, err := secrets.New()
		if err != nil {
			return nil, fmt.Errorf("create scrubber: %w", err)
		}
		deps.Scrubber = sc
	}

	logger := cfg.Logger.Named("mcp")
	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		deps:    deps,
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
