// Package pipeline runs stored memories through extraction and application
// and tracks each memory's processing state.
//
// A memory is processed by one extractor at a time. When an extractor fails
// with an extraction error the next configured extractor is tried, so a batch
// keeps going while one credential is rate limited or down. Batches run at
// most one memory per extractor concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/extraction"
	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/router"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoExtractors is returned by New without any extractor.
var ErrNoExtractors = errors.New("pipeline requires at least one extractor")

// Store is the state the pipeline reads and records.
type Store interface {
	GetMemory(ctx context.Context, id string) (memory.Memory, error)
	ListClients(ctx context.Context) ([]intel.ClientProfile, error)
	GetBrand(ctx context.Context) (intel.Brand, error)
	ListPerformers(ctx context.Context) ([]intel.Performer, error)
	ListKnowledgeEntities(ctx context.Context, limit int) ([]intel.KnowledgeEntity, error)

	RecordProcessing(ctx context.Context, memoryID string, status intel.Status, lastError string, at time.Time) error
	ListPending(ctx context.Context, limit, maxAttempts int) ([]string, error)
}

// Extractor produces a processing result for a memory.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, m memory.Memory, ectx extraction.Context) (intel.ProcessingResult, error)
}

// Applier writes a processing result into the destination stores.
type Applier interface {
	Apply(ctx context.Context, memoryID string, res intel.ProcessingResult) (router.Report, error)
}

// TagSource reports the tag score index, for the index size gauge.
type TagSource interface {
	TagScores(ctx context.Context) ([]tagscore.TagScore, error)
}

// Config tunes processing.
type Config struct {
	// Timeout bounds extraction plus apply for one memory. Zero disables it.
	Timeout        time.Duration
	KnowledgeLimit int
	BatchSize      int
	MaxAttempts    int
}

// FromConfig builds a Config from the application configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Timeout:        cfg.Extraction.ProcessingTimeout.Duration(),
		KnowledgeLimit: cfg.Extraction.MaxKnowledge,
		BatchSize:      cfg.Scheduler.BatchSize,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
	}
}

// Outcome is the result of processing one memory.
type Outcome struct {
	MemoryID string         `json:"memoryId"`
	Status   intel.Status   `json:"status"`
	Provider string         `json:"provider,omitempty"`
	Report   *router.Report `json:"report,omitempty"`
	// Failures maps each failed destination to its error on a partial apply.
	Failures map[string]string `json:"failures,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Pipeline processes memories.
type Pipeline struct {
	store      Store
	extractors []Extractor
	applier    Applier
	tags       TagSource
	metrics    *Metrics
	logger     *logging.Logger
	cfg        Config
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig sets processing limits.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithTagSource reports the tag index size after each batch.
func WithTagSource(t TagSource) Option {
	return func(p *Pipeline) { p.tags = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline. Extractors are tried in order on fallback.
func New(store Store, extractors []Extractor, applier Applier, logger *logging.Logger, opts ...Option) (*Pipeline, error) {
	if len(extractors) == 0 {
		return nil, ErrNoExtractors
	}
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Pipeline{
		store:      store,
		extractors: extractors,
		applier:    applier,
		metrics:    NewMetrics(),
		logger:     logger.Named("pipeline"),
		cfg:        Config{BatchSize: 20, MaxAttempts: 3},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Concurrency is the number of memories a batch processes at once.
func (p *Pipeline) Concurrency() int {
	return len(p.extractors)
}

// Process extracts and applies one memory and records its state. A missing
// memory returns memory.ErrNotFound and records nothing.
func (p *Pipeline) Process(ctx context.Context, memoryID string) (Outcome, error) {
	return p.process(ctx, memoryID, 0)
}

// ProcessBatch processes ids, or the pending memories when ids is empty.
// Outcomes are returned in input order; per-memory failures are reported in
// the outcomes, not as the error.
func (p *Pipeline) ProcessBatch(ctx context.Context, ids []string) ([]Outcome, error) {
	if len(ids) == 0 {
		pending, err := p.store.ListPending(ctx, p.cfg.BatchSize, p.cfg.MaxAttempts)
		if err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		ids = pending
	}

	outcomes := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(len(p.extractors))
	for i, id := range ids {
		g.Go(func() error {
			// Start each memory on a different extractor to spread load.
			outcomes[i], _ = p.process(ctx, id, i%len(p.extractors))
			return nil
		})
	}
	_ = g.Wait()

	p.updateTagGauge(ctx)
	counts := Summarize(outcomes)
	p.logger.Info(ctx, "batch processed",
		zap.Int("memories", len(ids)),
		zap.Int("applied", counts[intel.StatusApplied]),
		zap.Int("partial", counts[intel.StatusPartial]),
		zap.Int("failed", counts[intel.StatusFailed]),
	)
	return outcomes, ctx.Err()
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) map[intel.Status]int {
	counts := map[intel.Status]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	return counts
}

func (p *Pipeline) process(ctx context.Context, memoryID string, start int) (Outcome, error) {
	ctx = logging.WithMemoryID(ctx, memoryID)
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	out := Outcome{MemoryID: memoryID, Status: intel.StatusFailed}

	m, err := p.store.GetMemory(ctx, memoryID)
	if err != nil {
		out.Error = err.Error()
		if errors.Is(err, memory.ErrNotFound) {
			return out, err
		}
		return p.finish(ctx, out, err)
	}

	ectx, err := p.extractionContext(ctx)
	if err != nil {
		return p.finish(ctx, out, err)
	}

	res, provider, err := p.extract(ctx, m, ectx, start)
	out.Provider = provider
	if err != nil {
		return p.finish(ctx, out, err)
	}

	began := time.Now()
	rep, err := p.applier.Apply(ctx, memoryID, res)
	p.metrics.ApplyDuration.Observe(time.Since(began).Seconds())
	for _, f := range rep.Failures {
		p.metrics.DestinationFailuresTotal.WithLabelValues(f.Destination).Inc()
	}

	var aerr *router.ApplicationError
	switch {
	case err == nil:
		out.Status = intel.StatusApplied
		out.Report = &rep
	case errors.As(err, &aerr) && len(aerr.Failures) > 0:
		out.Status = intel.StatusPartial
		out.Report = &rep
		out.Failures = rep.FailureMessages()
	}
	return p.finish(ctx, out, err)
}

// extract tries extractors starting at start, falling back on extraction
// errors. It returns the name of the last extractor tried.
func (p *Pipeline) extract(ctx context.Context, m memory.Memory, ectx extraction.Context, start int) (intel.ProcessingResult, string, error) {
	var (
		lastErr error
		name    string
	)
	for i := range p.extractors {
		ex := p.extractors[(start+i)%len(p.extractors)]
		name = ex.Name()

		res, err := ex.Extract(ctx, m, ectx)
		p.metrics.ExtractionsTotal.WithLabelValues(name, outcomeLabel(err)).Inc()
		if err == nil {
			return res, name, nil
		}
		lastErr = err

		if !extraction.IsExtractionError(err) || ctx.Err() != nil {
			break
		}
		if i < len(p.extractors)-1 {
			p.logger.Warn(ctx, "extraction failed, trying next provider",
				zap.String("provider", name),
				zap.Error(err),
			)
		}
	}
	return intel.ProcessingResult{}, name, lastErr
}

func (p *Pipeline) extractionContext(ctx context.Context) (extraction.Context, error) {
	clients, err := p.store.ListClients(ctx)
	if err != nil {
		return extraction.Context{}, fmt.Errorf("load clients: %w", err)
	}
	performers, err := p.store.ListPerformers(ctx)
	if err != nil {
		return extraction.Context{}, fmt.Errorf("load performers: %w", err)
	}
	knowledge, err := p.store.ListKnowledgeEntities(ctx, p.cfg.KnowledgeLimit)
	if err != nil {
		return extraction.Context{}, fmt.Errorf("load knowledge: %w", err)
	}

	ectx := extraction.Context{Clients: clients, Performers: performers, Knowledge: knowledge}
	brand, err := p.store.GetBrand(ctx)
	switch {
	case err == nil:
		ectx.Brand = &brand
	case !errors.Is(err, intel.ErrNotFound):
		return extraction.Context{}, fmt.Errorf("load brand: %w", err)
	}
	return ectx, nil
}

// finish records the processing state. It runs even after ctx expired, so a
// timed-out memory is still marked failed.
func (p *Pipeline) finish(ctx context.Context, out Outcome, err error) (Outcome, error) {
	if err != nil && out.Error == "" {
		out.Error = err.Error()
	}
	p.metrics.ProcessedTotal.WithLabelValues(string(out.Status)).Inc()

	recordCtx := context.WithoutCancel(ctx)
	if rerr := p.store.RecordProcessing(recordCtx, out.MemoryID, out.Status, out.Error, p.now().UTC()); rerr != nil {
		p.logger.Error(recordCtx, "processing state not recorded", zap.Error(rerr))
		if err == nil {
			err = rerr
		}
	}

	switch out.Status {
	case intel.StatusApplied:
		p.logger.Info(recordCtx, "memory processed", zap.String("provider", out.Provider))
	default:
		p.logger.Warn(recordCtx, "memory processing incomplete",
			zap.String("status", string(out.Status)),
			zap.String("provider", out.Provider),
			zap.String("error", out.Error),
		)
	}
	return out, err
}

func (p *Pipeline) updateTagGauge(ctx context.Context) {
	if p.tags == nil {
		return
	}
	scores, err := p.tags.TagScores(ctx)
	if err != nil {
		p.logger.Debug(ctx, "tag index size unavailable", zap.Error(err))
		return
	}
	p.metrics.TagIndexSize.Set(float64(len(scores)))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	var xerr *extraction.ExtractionError
	if errors.As(err, &xerr) && xerr.Reason == extraction.ReasonParse {
		return "parse_error"
	}
	return "provider_error"
}
