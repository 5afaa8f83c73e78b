// Package extraction turns a stored memory into a structured
// intel.ProcessingResult by prompting an AI provider with a fixed response
// schema.
//
// The Engine builds a bounded prompt, calls its Provider once and decodes the
// response tolerantly. It never retries; transient HTTP failures are retried
// inside each Provider within its configured budget. When the provider gives
// up, or the response is not a JSON object, Extract returns *ExtractionError.
package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/secrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/extraction"

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(content string) secrets.Result
}

// Engine extracts intelligence through a single Provider.
type Engine struct {
	provider Provider
	cfg      Config
	scrubber Scrubber
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithScrubber sets the scrubber applied to conversation snippets when
// Config.ScrubSecrets is on.
func WithScrubber(s Scrubber) Option {
	return func(e *Engine) { e.scrubber = s }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine over provider.
func NewEngine(provider Provider, cfg Config, logger *logging.Logger, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("extraction provider is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Engine{
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("extraction"),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.ScrubSecrets && e.scrubber == nil {
		s, err := secrets.New()
		if err != nil {
			return nil, err
		}
		e.scrubber = s
	}
	return e, nil
}

// Provider returns the engine's provider.
func (e *Engine) Provider() Provider {
	return e.provider
}

// Name is the provider name, e.g. "openai:gpt-4o-mini".
func (e *Engine) Name() string {
	return e.provider.Name()
}

// Extract asks the provider for the intelligence contained in m.
func (e *Engine) Extract(ctx context.Context, m memory.Memory, ectx Context) (intel.ProcessingResult, error) {
	ctx = logging.WithMemoryID(ctx, m.ID)
	ctx, span := e.tracer.Start(ctx, "extraction.Extract", trace.WithAttributes(
		attribute.String("memory.id", m.ID),
		attribute.String("provider", e.provider.Name()),
	))
	defer span.End()

	fail := func(reason string, err error) (intel.ProcessingResult, error) {
		xerr := &ExtractionError{Provider: e.provider.Name(), Reason: reason, Err: err}
		span.RecordError(xerr)
		span.SetStatus(codes.Error, reason)
		e.logger.Warn(ctx, "extraction failed",
			zap.String("provider", e.provider.Name()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return intel.ProcessingResult{}, xerr
	}

	snippet := m.ConversationSnippet
	if e.cfg.ScrubSecrets && e.scrubber != nil {
		scrubbed := e.scrubber.Scrub(snippet)
		if n := scrubbed.Total(); n > 0 {
			e.logger.Info(ctx, "secrets scrubbed from snippet",
				zap.Int("count", n),
				zap.Strings("rules", scrubbed.Rules()),
			)
		}
		snippet = scrubbed.Text
	}

	prompt, err := BuildPrompt(m, snippet, ectx, e.cfg)
	if err != nil {
		return fail(ReasonProvider, err)
	}

	start := time.Now()
	raw, err := e.provider.Generate(ctx, prompt, ResultSchema())
	if err != nil {
		return fail(ReasonProvider, err)
	}

	res, err := ParseResult(raw, m)
	if err != nil {
		return fail(ReasonParse, err)
	}

	span.SetAttributes(
		attribute.Int("result.client_updates", len(res.ClientUpdates)),
		attribute.Int("result.knowledge_connections", len(res.KnowledgeConnections)),
		attribute.Float64("result.reranked_relevance", res.RerankedRelevance),
	)
	e.logger.Debug(ctx, "extraction complete",
		zap.String("provider", e.provider.Name()),
		zap.Duration("duration", time.Since(start)),
		zap.Float64("reranked_relevance", res.RerankedRelevance),
	)
	return res, nil
}
