package selector

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/selector"

// MemorySource loads the candidate memories.
type MemorySource interface {
	ListMemories(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, error)
	ListPerformerMemories(ctx context.Context, performerID string, opts memory.ListOptions) ([]memory.PerformerMemory, error)
}

// ScoreSource serves the tag score index.
type ScoreSource interface {
	TagScores(ctx context.Context) ([]tagscore.TagScore, error)
}

// Request is a context selection request.
type Request struct {
	Utterance string `json:"utterance"`
	History   []Turn `json:"history,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Result is a selection plus its rendered primer.
type Result struct {
	Selection
	Primer string `json:"primer"`
}

// PerformerResult is a performer selection plus its rendered primer.
type PerformerResult struct {
	PerformerSelection
	Primer string `json:"primer"`
}

// Service loads memories and tag scores and runs the Selector over them.
type Service struct {
	selector *Selector
	memories MemorySource
	scores   ScoreSource
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates a selection service.
func NewService(sel *Selector, memories MemorySource, scores ScoreSource, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		selector: sel,
		memories: memories,
		scores:   scores,
		logger:   logger.Named("selector"),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Context selects memories for req and renders the primer.
func (s *Service) Context(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "selector.Select")
	defer span.End()

	all, err := s.memories.ListMemories(ctx, memory.ListOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("load memories: %w", err)
	}
	scores, err := s.scores.TagScores(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("load tag scores: %w", err)
	}

	sel := s.selector.Select(req.Utterance, req.History, all, scores, req.Limit)
	span.SetAttributes(
		attribute.Int("selector.candidates", len(all)),
		attribute.Int("selector.selected", len(sel.Memories)),
		attribute.StringSlice("selector.prioritized_tags", sel.PrioritizedTags),
	)
	s.logger.Debug(ctx, "context selected",
		zap.Int("candidates", len(all)),
		zap.Int("selected", len(sel.Memories)),
		zap.Strings("prioritized_tags", sel.PrioritizedTags),
	)

	return Result{Selection: sel, Primer: s.selector.FormatPrimer(sel.Memories)}, nil
}

// PerformerContext selects from one performer's memories only.
func (s *Service) PerformerContext(ctx context.Context, performerID string, req Request) (PerformerResult, error) {
	ctx = logging.WithPerformerID(ctx, performerID)
	ctx, span := s.tracer.Start(ctx, "selector.SelectPerformer",
		trace.WithAttributes(attribute.String("performer.id", performerID)))
	defer span.End()

	own, err := s.memories.ListPerformerMemories(ctx, performerID, memory.ListOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PerformerResult{}, fmt.Errorf("load performer memories: %w", err)
	}
	scores, err := s.scores.TagScores(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PerformerResult{}, fmt.Errorf("load tag scores: %w", err)
	}

	sel := s.selector.SelectPerformer(performerID, req.Utterance, req.History, own, scores, req.Limit)
	span.SetAttributes(attribute.Int("selector.selected", len(sel.Memories)))
	s.logger.Debug(ctx, "performer context selected", zap.Int("selected", len(sel.Memories)))

	return PerformerResult{PerformerSelection: sel, Primer: s.selector.FormatPerformerPrimer(sel.Memories)}, nil
}
