package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/events"
	"github.com/fyrsmithlabs/memoryd/internal/extraction"
	"github.com/fyrsmithlabs/memoryd/internal/graph"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/recall"
	"github.com/fyrsmithlabs/memoryd/internal/router"
	"github.com/fyrsmithlabs/memoryd/internal/secrets"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
)

// app holds the services shared by the daemon and MCP modes.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	db       *store.DB
	bus      *events.Bus
	tags     *tagscore.Index
	memories *memory.Service
	selector *selector.Service
	scrubber *secrets.Scrubber

	// recall and pipeline are nil when disabled.
	recall   *recall.Index
	pipeline *pipeline.Pipeline

	closers []func(context.Context) error
}

// newApp opens storage and wires every service in cfg. On error, whatever
// was opened is closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.db, err = store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.onClose(func(context.Context) error { return a.db.Close() })
	logger.Info(ctx, "store opened", zap.String("path", cfg.Storage.Path))

	a.bus = events.NewBus(logger)
	if err := a.connectNATS(ctx); err != nil {
		return nil, err
	}

	a.tags = tagscore.NewIndex(a.db, memory.NormalizeTag)

	var memOpts []memory.Option
	if cfg.Recall.Enabled {
		a.recall, err = recall.Open(cfg.Recall, logger)
		if err != nil {
			return nil, fmt.Errorf("open recall index: %w", err)
		}
		memOpts = append(memOpts, memory.WithIndexer(a.recall))
		logger.Info(ctx, "recall index opened",
			zap.String("path", cfg.Recall.Path),
			zap.Int("documents", a.recall.Count()))
	}

	a.memories = memory.NewService(a.db, a.tags, a.bus, logger, memOpts...)
	a.selector = selector.NewService(
		selector.New(selector.FromConfig(cfg.Selector)),
		a.db, a.tags, logger,
		selector.WithTracer(tel.Tracer("memoryd/selector")),
	)

	a.scrubber, err = secrets.New(secrets.WithGitleaks(cfg.Extraction.Gitleaks))
	if err != nil {
		return nil, fmt.Errorf("create scrubber: %w", err)
	}

	if cfg.Extraction.Enabled {
		if err := a.buildPipeline(ctx, tel); err != nil {
			return nil, err
		}
	} else {
		logger.Info(ctx, "extraction disabled; processing endpoints will answer 503")
	}
	return a, nil
}

func (a *app) connectNATS(ctx context.Context) error {
	ec := a.cfg.Events
	if ec.NATSURL == "" {
		return nil
	}
	nc, err := nats.Connect(ec.NATSURL,
		nats.Name("memoryd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", ec.NATSURL, err)
	}
	a.onClose(func(context.Context) error { return nc.Drain() })

	bridge, err := events.NewNATSBridge(nc, a.bus, ec.SubjectPrefix, ec.Relay, a.logger.Named("nats"))
	if err != nil {
		return fmt.Errorf("bridge events to NATS: %w", err)
	}
	a.onClose(func(context.Context) error { return bridge.Close() })

	a.logger.Info(ctx, "events bridged to NATS",
		zap.String("url", ec.NATSURL),
		zap.String("prefix", ec.SubjectPrefix),
		zap.Bool("relay", ec.Relay))
	return nil
}

// buildPipeline creates one extraction engine per credential, the router
// with its optional Neo4j mirror, and the pipeline over them.
func (a *app) buildPipeline(ctx context.Context, tel *telemetry.Telemetry) error {
	ecfg := extraction.FromConfig(a.cfg.Extraction)
	creds := a.cfg.Extraction.AllCredentials()
	logCredentials(ctx, a.logger, creds)
	providers, err := extraction.NewProviders(creds, ecfg)
	if err != nil {
		return fmt.Errorf("create providers: %w", err)
	}

	extractors := make([]pipeline.Extractor, 0, len(providers))
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			a.onClose(func(context.Context) error { return c.Close() })
		}
		eng, err := extraction.NewEngine(p, ecfg, a.logger,
			extraction.WithScrubber(a.scrubber),
			extraction.WithTracer(tel.Tracer("memoryd/extraction")),
		)
		if err != nil {
			return fmt.Errorf("create %s engine: %w", p.Name(), err)
		}
		extractors = append(extractors, eng)
	}

	routerOpts := []router.Option{
		router.WithAudit(a.cfg.Router.AuditEnabled),
		router.WithTracer(tel.Tracer("memoryd/router")),
	}
	mirror, err := graph.Open(ctx, a.cfg.Knowledge, a.logger)
	switch {
	case errors.Is(err, graph.ErrNotConfigured):
	case err != nil:
		return fmt.Errorf("open knowledge graph: %w", err)
	default:
		a.onClose(mirror.Close)
		routerOpts = append(routerOpts, router.WithMirror(mirror))
		a.logger.Info(ctx, "knowledge graph mirror connected", zap.String("uri", a.cfg.Knowledge.Neo4jURI))
	}
	rtr := router.New(a.db, a.tags, a.bus, a.logger, routerOpts...)

	a.pipeline, err = pipeline.New(a.db, extractors, rtr, a.logger,
		pipeline.WithConfig(pipeline.FromConfig(a.cfg)),
		pipeline.WithTagSource(a.tags),
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	names := make([]string, len(extractors))
	for i, e := range extractors {
		names[i] = e.Name()
	}
	a.logger.Info(ctx, "extraction pipeline ready",
		zap.Strings("providers", names),
		zap.Int("concurrency", a.pipeline.Concurrency()))
	return nil
}

// logCredentials records which credentials are configured. Keys appear only
// as their length.
func logCredentials(ctx context.Context, logger *logging.Logger, creds []config.Credential) {
	for i, c := range creds {
		logger.Info(ctx, "extraction credential configured",
			zap.Int("index", i),
			zap.String("provider", c.Provider),
			zap.String("model", c.Model),
			logging.Secret("key", c.APIKey))
	}
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
