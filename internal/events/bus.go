// Package events provides the process-wide change notifier. Events carry no
// payload: subscribers re-fetch whatever they display.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"go.uber.org/zap"
)

// Event names a change notification.
type Event string

const (
	MemoriesUpdated          Event = "memories-updated"
	PerformerMemoriesUpdated Event = "performer-memories-updated"
	BrandDataUpdated         Event = "brand-data-updated"
	ClientDataUpdated        Event = "client-data-updated"
	IntelligenceFeedUpdated  Event = "intelligence-feed-updated"
)

// All lists every event name.
var All = []Event{
	MemoriesUpdated,
	PerformerMemoriesUpdated,
	BrandDataUpdated,
	ClientDataUpdated,
	IntelligenceFeedUpdated,
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	for _, known := range All {
		if e == known {
			return true
		}
	}
	return false
}

// Handler receives an event.
type Handler func(ctx context.Context, evt Event)

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

type subscription struct {
	handler Handler
	filter  map[Event]bool // nil means every event
}

// Bus is a typed in-process publish/subscribe hub. Handlers run synchronously
// on the publishing goroutine, in subscription order.
type Bus struct {
	logger *logging.Logger

	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
	ids  []uint64
}

// NewBus creates an empty bus. logger may be nil.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{logger: logger, subs: make(map[uint64]subscription)}
}

// Subscribe registers h for the given events, or for every event when none
// are given. The returned func removes the subscription and is idempotent.
func (b *Bus) Subscribe(h Handler, evts ...Event) (unsubscribe func()) {
	var filter map[Event]bool
	if len(evts) > 0 {
		filter = make(map[Event]bool, len(evts))
		for _, e := range evts {
			filter[e] = true
		}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = subscription{handler: h, filter: filter}
	b.ids = append(b.ids, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	for i, v := range b.ids {
		if v == id {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			break
		}
	}
}

// Publish delivers evt to every matching subscriber. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.ids))
	for _, id := range b.ids {
		s := b.subs[id]
		if s.filter == nil || s.filter[evt] {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	b.logger.Debug(ctx, "event published", zap.String("event", string(evt)), zap.Int("subscribers", len(targets)))
	for _, h := range targets {
		b.deliver(ctx, h, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event handler panicked",
				zap.String("event", string(evt)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	h(ctx, evt)
}

// Recorder is a Publisher that remembers events, for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records evt.
func (r *Recorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many times evt was recorded.
func (r *Recorder) Count(evt Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == evt {
			n++
		}
	}
	return n
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = (*Recorder)(nil)
)
