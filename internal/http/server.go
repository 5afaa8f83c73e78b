// Package http provides the HTTP API for memoryd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/recall"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// MemoryService manages memories and performer memories.
type MemoryService interface {
	AddMemory(ctx context.Context, m memory.Memory) (memory.Memory, error)
	AddPerformerMemory(ctx context.Context, m memory.PerformerMemory) (memory.PerformerMemory, error)
	Get(ctx context.Context, id string) (memory.Memory, error)
	List(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, error)
	ListPerformer(ctx context.Context, performerID string, opts memory.ListOptions) ([]memory.PerformerMemory, error)
	Update(ctx context.Context, id string, p memory.Patch) (memory.Memory, error)
	Delete(ctx context.Context, id string) error
	DeletePerformerMemory(ctx context.Context, performerID, id string) error
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

// Processor runs memories through extraction and application.
type Processor interface {
	Process(ctx context.Context, memoryID string) (pipeline.Outcome, error)
	ProcessBatch(ctx context.Context, ids []string) ([]pipeline.Outcome, error)
}

// Searcher finds memories similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]recall.Hit, error)
}

// IntelReader reads the destination stores.
type IntelReader interface {
	ListClients(ctx context.Context) ([]intel.ClientProfile, error)
	GetBrand(ctx context.Context) (intel.Brand, error)
	ListPerformers(ctx context.Context) ([]intel.Performer, error)
	ListJournal(ctx context.Context, from, to string) ([]intel.JournalEntry, error)
	GetKnowledgeEntity(ctx context.Context, name string) (intel.KnowledgeEntity, error)
	ListInteractions(ctx context.Context, memoryID string, limit int) ([]intel.InteractionEvent, error)
	ListAudit(ctx context.Context, limit int) ([]intel.AuditRecord, error)
	GetProcessingState(ctx context.Context, memoryID string) (intel.ProcessingState, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Processor and Searcher may be nil
// when extraction or recall is disabled; their routes then answer 503.
type Deps struct {
	Memories  MemoryService
	Context   ContextService
	Tags      TagSource
	Intel     IntelReader
	Processor Processor
	Searcher  Searcher
	Health    Pinger
}

// Server provides HTTP endpoints for memoryd.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Memories == nil || deps.Context == nil || deps.Tags == nil || deps.Intel == nil {
		return nil, errors.New("memories, context, tags and intel services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/memories", s.handleAddMemory)
	v1.GET("/memories", s.handleListMemories)
	v1.GET("/memories/search", s.handleSearch)
	v1.GET("/memories/:id", s.handleGetMemory)
	v1.PATCH("/memories/:id", s.handleUpdateMemory)
	v1.DELETE("/memories/:id", s.handleDeleteMemory)
	v1.GET("/memories/:id/state", s.handleProcessingState)
	v1.POST("/memories/:id/process", s.handleProcess)
	v1.POST("/process", s.handleProcessBatch)

	v1.POST("/context", s.handleContext)
	v1.GET("/tags", s.handleTags)

	v1.POST("/performers/:pid/memories", s.handleAddPerformerMemory)
	v1.GET("/performers/:pid/memories", s.handleListPerformerMemories)
	v1.DELETE("/performers/:pid/memories/:id", s.handleDeletePerformerMemory)
	v1.POST("/performers/:pid/context", s.handlePerformerContext)

	v1.GET("/clients", s.handleClients)
	v1.GET("/brand", s.handleBrand)
	v1.GET("/performers", s.handlePerformers)
	v1.GET("/journal", s.handleJournal)
	v1.GET("/knowledge/:name", s.handleKnowledge)
	v1.GET("/interactions", s.handleInteractions)
	v1.GET("/audit", s.handleAudit)
}

// Mount serves h under path, for endpoints owned by other packages such as
// /metrics.
func (s *Server) Mount(path string, h http.Handler) {
	s.echo.GET(path, echo.WrapHandler(h))
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// handleHealth reports liveness and, when wired, storage reachability.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
