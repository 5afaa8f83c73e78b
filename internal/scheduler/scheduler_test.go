package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fakeProcessor struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, ids []string) ([]pipeline.Outcome, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []pipeline.Outcome{
		{MemoryID: "m1", Status: intel.StatusApplied},
		{MemoryID: "m2", Status: intel.StatusFailed},
	}, nil
}

func TestNew_InvalidSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "five fields", spec: "*/15 * * * *"},
		{name: "descriptor", spec: "@every 5m"},
		{name: "hourly", spec: "@hourly"},
		{name: "garbage", spec: "whenever", wantErr: true},
		{name: "seconds field", spec: "0 */15 * * * *", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec, &fakeProcessor{}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRunNow(t *testing.T) {
	proc := &fakeProcessor{}
	s, err := New("@hourly", proc, nil)
	require.NoError(t, err)

	outcomes, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	last := s.LastRun()
	assert.Equal(t, map[intel.Status]int{intel.StatusApplied: 1, intel.StatusFailed: 1}, last.Counts)
	assert.Empty(t, last.Error)
	assert.False(t, last.StartedAt.IsZero())
}

func TestRunNow_RecordsError(t *testing.T) {
	log := logging.NewTestLogger()
	proc := &fakeProcessor{err: errors.New("list pending: database is locked")}
	s, err := New("@hourly", proc, log.Logger)
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, s.LastRun().Error, "database is locked")
	log.AssertLogged(t, zapcore.ErrorLevel, "scheduled batch failed")
}

func TestRunNow_Busy(t *testing.T) {
	proc := &fakeProcessor{release: make(chan struct{})}
	s, err := New("@hourly", proc, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return proc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(proc.release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, proc.calls.Load())
}

func TestStartStop(t *testing.T) {
	proc := &fakeProcessor{}
	s, err := New("@every 1s", proc, nil)
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero(), "stopped scheduler has no next run")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "double start")
	assert.False(t, s.Next().IsZero())

	require.Eventually(t, func() bool { return proc.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	require.NoError(t, s.Stop(stopCtx), "second stop is a no-op")
	assert.True(t, s.Next().IsZero())
}

func TestRestart_SingleEntry(t *testing.T) {
	s, err := New("@every 1h", &fakeProcessor{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(ctx))
		assert.Len(t, s.cron.Entries(), 1)

		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		require.NoError(t, s.Stop(stopCtx))
		cancel()
		assert.Empty(t, s.cron.Entries())
	}
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	proc := &fakeProcessor{release: make(chan struct{})}
	s, err := New("@hourly", proc, nil)
	require.NoError(t, err)

	go func() { _, _ = s.RunNow(context.Background()) }()
	require.Eventually(t, func() bool { return proc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.tick(context.Background())
	assert.EqualValues(t, 1, proc.calls.Load(), "tick skipped while a batch runs")
	close(proc.release)
}
