// Memoryd is the memory context daemon.
//
// It serves the HTTP API (and /metrics), runs the scheduled extraction batch
// and watches the ingest drop directory. `memoryd mcp` serves the same
// services to an MCP client over stdio instead.
//
// Configuration is read from ~/.config/memoryd/config.yaml (or the file given
// with -config) and MEMORYD_* environment variables. See internal/config.
//
// Usage:
//
//	# Start the daemon
//	memoryd
//
//	# Serve MCP on stdio
//	memoryd mcp
//
//	# Configure via environment
//	MEMORYD_SERVER_HTTP_PORT=9292 MEMORYD_EXTRACTION_API_KEY=sk-... memoryd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/ingest"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/scheduler"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()
	args := flag.Args()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case len(args) == 0:
		err = run(ctx, *configPath)
	case args[0] == "version":
		printVersion()
		return
	case args[0] == "mcp":
		err = runMCP(ctx, *configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  memoryd           Start the memoryd daemon\n")
		fmt.Fprintf(os.Stderr, "  memoryd mcp       Serve MCP on stdio\n")
		fmt.Fprintf(os.Stderr, "  memoryd version   Show version information\n")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("memoryd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("memoryd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// setup loads configuration and starts logging and telemetry. The returned
// cleanup flushes both.
func setup(ctx context.Context, configPath string, stderrLogs bool) (*config.Config, *logging.Logger, *telemetry.Telemetry, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	lcfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if stderrLogs {
		lcfg.Output.Stdout = false
		lcfg.Output.Stderr = true
	}
	logger, err := logging.NewLogger(lcfg, nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	cleanup := func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(context.Background(), "telemetry shutdown", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return cfg, logger, tel, cleanup, nil
}

// run starts the daemon and blocks until ctx is cancelled or a component
// fails. On the way out it drains HTTP, stops the scheduler and closes
// storage.
func run(ctx context.Context, configPath string) error {
	cfg, logger, tel, cleanup, err := setup(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info(ctx, "starting memoryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("extraction", cfg.Extraction.Enabled),
		zap.Bool("recall", cfg.Recall.Enabled))

	a, err := newApp(ctx, cfg, logger, tel)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn(context.Background(), "close services", zap.Error(err))
		}
	}()

	deps := http.Deps{
		Memories: a.memories,
		Context:  a.selector,
		Tags:     a.tags,
		Intel:    a.db,
		Health:   a.db,
	}
	// Leave the interfaces nil, not typed-nil, so disabled routes answer 503.
	if a.pipeline != nil {
		deps.Processor = a.pipeline
	}
	if a.recall != nil {
		deps.Searcher = a.recall
	}
	srv, err := http.NewServer(deps, logger, &http.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	srv.Mount("/metrics", promhttp.Handler())

	if cfg.Scheduler.Enabled && a.pipeline != nil {
		sched, err := scheduler.New(cfg.Scheduler.Spec, a.pipeline, logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := sched.Stop(context.Background()); err != nil {
				logger.Warn(context.Background(), "stop scheduler", zap.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Ingest.Dir != "" {
		w := ingest.NewWatcher(cfg.Ingest.Dir, a.memories, logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	logger.Info(ctx, "memoryd ready",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	err = g.Wait()
	logger.Info(context.Background(), "memoryd stopped")
	return err
}
