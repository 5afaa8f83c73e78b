package events

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestBus_SubscribeFilter(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil)

	var all, brandOnly []Event
	bus.Subscribe(func(_ context.Context, e Event) { all = append(all, e) })
	bus.Subscribe(func(_ context.Context, e Event) { brandOnly = append(brandOnly, e) }, BrandDataUpdated)

	bus.Publish(ctx, MemoriesUpdated)
	bus.Publish(ctx, BrandDataUpdated)

	assert.Equal(t, []Event{MemoriesUpdated, BrandDataUpdated}, all)
	assert.Equal(t, []Event{BrandDataUpdated}, brandOnly)
}

func TestBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(nil)

	count := 0
	unsubscribe := bus.Subscribe(func(context.Context, Event) { count++ })

	bus.Publish(ctx, ClientDataUpdated)
	unsubscribe()
	unsubscribe()
	bus.Publish(ctx, ClientDataUpdated)

	assert.Equal(t, 1, count)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger()
	bus := NewBus(logger.Logger)

	delivered := false
	bus.Subscribe(func(context.Context, Event) { panic("boom") })
	bus.Subscribe(func(context.Context, Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(ctx, MemoriesUpdated) })
	assert.True(t, delivered)
	logger.AssertLogged(t, zapcore.ErrorLevel, "event handler panicked")
}

func TestEvent_Valid(t *testing.T) {
	tests := []struct {
		evt  Event
		want bool
	}{
		{MemoriesUpdated, true},
		{PerformerMemoriesUpdated, true},
		{BrandDataUpdated, true},
		{ClientDataUpdated, true},
		{IntelligenceFeedUpdated, true},
		{Event("calendar-updated"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.evt), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.evt.Valid())
		})
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), MemoriesUpdated)
	r.Publish(context.Background(), MemoriesUpdated)
	r.Publish(context.Background(), BrandDataUpdated)

	assert.Equal(t, 2, r.Count(MemoriesUpdated))
	assert.Len(t, r.Events(), 3)
	r.Reset()
	assert.Empty(t, r.Events())
}
