// Package scheduler periodically processes pending memories.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrBusy is returned by RunNow while a batch is already running.
var ErrBusy = errors.New("a processing batch is already running")

// Processor processes a batch of memories. Empty ids means pending memories.
type Processor interface {
	ProcessBatch(ctx context.Context, ids []string) ([]pipeline.Outcome, error)
}

// Scheduler runs pending-memory batches on a cron schedule. Runs never
// overlap: a tick that fires while a batch is running is skipped.
type Scheduler struct {
	spec   string
	proc   Processor
	logger *logging.Logger
	cron   *cron.Cron

	// running is held for the duration of a batch.
	running sync.Mutex

	mu      sync.Mutex
	entry   cron.EntryID
	cancel  context.CancelFunc
	lastRun Run
}

// Run describes the most recent batch.
type Run struct {
	StartedAt time.Time            `json:"startedAt"`
	Duration  time.Duration        `json:"duration"`
	Counts    map[intel.Status]int `json:"counts"`
	Error     string               `json:"error,omitempty"`
}

// New validates spec (standard five-field cron or a descriptor such as
// "@every 5m") and returns a stopped scheduler.
func New(spec string, proc Processor, logger *logging.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("scheduler")

	cl := cronLogger{logger: logger}
	return &Scheduler{
		spec:   spec,
		proc:   proc,
		logger: logger,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
	}, nil
}

// Start registers the batch job and starts the cron runner. Batches run
// under ctx; cancelling it stops in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.spec, func() { s.tick(runCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("register batch job: %w", err)
	}
	s.entry, s.cancel = id, cancel
	s.cron.Start()

	s.logger.Info(ctx, "scheduler started",
		zap.String("spec", s.spec),
		zap.Time("next", s.cron.Entry(id).Next),
	)
	return nil
}

// Stop halts the schedule and waits for a running batch until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	if cancel != nil {
		s.cron.Remove(s.entry)
	}
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		cancel()
		s.logger.Info(ctx, "scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("waiting for running batch: %w", ctx.Err())
	}
}

// RunNow runs a batch immediately. It returns ErrBusy when a scheduled or
// manual batch is already running.
func (s *Scheduler) RunNow(ctx context.Context) ([]pipeline.Outcome, error) {
	if !s.running.TryLock() {
		return nil, ErrBusy
	}
	defer s.running.Unlock()
	return s.run(ctx)
}

// Next reports when the next scheduled batch runs. Zero when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// LastRun reports the most recent batch.
func (s *Scheduler) LastRun() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Debug(ctx, "skipping tick, batch still running")
		return
	}
	defer s.running.Unlock()
	_, _ = s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) ([]pipeline.Outcome, error) {
	started := time.Now()
	outcomes, err := s.proc.ProcessBatch(ctx, nil)

	run := Run{
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
		Counts:    pipeline.Summarize(outcomes),
	}
	if err != nil {
		run.Error = err.Error()
		s.logger.Error(ctx, "scheduled batch failed", zap.Error(err))
	} else if len(outcomes) > 0 {
		s.logger.Info(ctx, "scheduled batch finished",
			zap.Int("memories", len(outcomes)),
			zap.Duration("duration", run.Duration),
		)
	}

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
	return outcomes, err
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), "cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), "cron: "+msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}
