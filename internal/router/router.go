// Package router applies an extraction result to the destination stores:
// client profiles, the brand record, the performer roster, the journal, the
// knowledge graph, the interaction log and the originating memory's
// relevance.
//
// Writes happen in that order and are best-effort. A failing destination is
// recorded in the Report and the remaining destinations are still written;
// nothing is rolled back. Applies to the same memory are serialized, and
// journal entries, knowledge edges and interactions use stable keys, so
// applying a result twice leaves the stores as applying it once.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/events"
	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/router"

const dateLayout = "2006-01-02"

// Store is every destination the router writes to.
type Store interface {
	GetMemory(ctx context.Context, id string) (memory.Memory, error)
	SetRelevance(ctx context.Context, id string, relevance float64) error

	GetClient(ctx context.Context, id string) (intel.ClientProfile, error)
	FindClientByName(ctx context.Context, name string) (intel.ClientProfile, error)
	SaveClient(ctx context.Context, c intel.ClientProfile) error

	GetBrand(ctx context.Context) (intel.Brand, error)
	SaveBrand(ctx context.Context, b intel.Brand) error

	GetPerformer(ctx context.Context, id string) (intel.Performer, error)
	SavePerformer(ctx context.Context, p intel.Performer) error

	UpsertJournalEntry(ctx context.Context, e intel.JournalEntry) (bool, error)

	EnsureKnowledgeEntity(ctx context.Context, name, conversationID string, at time.Time) error
	AddKnowledgeEdge(ctx context.Context, source, relation, target string, at time.Time) (bool, error)
	AddKnowledgeTags(ctx context.Context, name string, tags []string) ([]string, error)

	UpsertInteraction(ctx context.Context, ev intel.InteractionEvent) (bool, error)

	InsertAudit(ctx context.Context, rec intel.AuditRecord) error
}

// TagRecorder is the write side of the tag score index.
type TagRecorder interface {
	RecordTagUsage(ctx context.Context, tags []string, kind tagscore.Kind) error
}

// Mirror receives every knowledge edge after it is stored.
type Mirror interface {
	MergeEdge(ctx context.Context, source, relation, target string) error
}

// Report describes one apply.
type Report struct {
	MemoryID          string             `json:"memoryId"`
	PreviousRelevance float64            `json:"previousRelevance"`
	Relevance         float64            `json:"relevance"`
	Applied           map[string]int     `json:"applied"`
	Failures          []DestinationError `json:"-"`
}

// Status is applied when every destination succeeded and partial otherwise.
func (r Report) Status() intel.Status {
	if len(r.Failures) > 0 {
		return intel.StatusPartial
	}
	return intel.StatusApplied
}

// FailureMessages maps each failed destination to its error text.
func (r Report) FailureMessages() map[string]string {
	out := make(map[string]string, len(r.Failures))
	for _, f := range r.Failures {
		out[f.Destination] = f.Err.Error()
	}
	return out
}

// Router writes processing results into the destination stores.
type Router struct {
	store  Store
	tags   TagRecorder
	events events.Publisher
	mirror Mirror
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
	audit  bool

	locks *keyLock
}

// Option configures a Router.
type Option func(*Router)

// WithMirror also writes knowledge edges to m. Mirror failures are reported
// under the knowledge-mirror destination.
func WithMirror(m Mirror) Option {
	return func(r *Router) { r.mirror = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithAudit toggles the audit record written after each apply. On by default.
func WithAudit(enabled bool) Option {
	return func(r *Router) { r.audit = enabled }
}

// New creates a router.
func New(store Store, tags TagRecorder, pub events.Publisher, logger *logging.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Router{
		store:  store,
		tags:   tags,
		events: pub,
		logger: logger.Named("router"),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
		audit:  true,
		locks:  newKeyLock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// applyRun is the state of a single Apply call.
type applyRun struct {
	r      *Router
	memory memory.Memory
	now    time.Time
	report Report
}

func (a *applyRun) record(dest string, n int, err error) {
	if n > 0 {
		a.report.Applied[dest] += n
	}
	if err != nil {
		a.report.Failures = append(a.report.Failures, DestinationError{Destination: dest, Err: err})
	}
}

// Apply writes res into every destination. It fails with *ApplicationError
// when the memory does not exist, without touching any store. Otherwise the
// returned Report is always complete, and the error is an *ApplicationError
// joining the destination failures, if any.
func (r *Router) Apply(ctx context.Context, memoryID string, res intel.ProcessingResult) (Report, error) {
	ctx = logging.WithMemoryID(ctx, memoryID)
	ctx, span := r.tracer.Start(ctx, "router.Apply", trace.WithAttributes(
		attribute.String("memory.id", memoryID),
	))
	defer span.End()

	unlock := r.locks.Lock(memoryID)
	defer unlock()

	m, err := r.store.GetMemory(ctx, memoryID)
	if err != nil {
		aerr := &ApplicationError{MemoryID: memoryID, Err: err}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, "memory lookup failed")
		return Report{MemoryID: memoryID, Applied: map[string]int{}}, aerr
	}

	a := &applyRun{
		r:      r,
		memory: m,
		now:    r.now().UTC(),
		report: Report{
			MemoryID:          memoryID,
			PreviousRelevance: m.Relevance,
			Relevance:         m.Relevance,
			Applied:           map[string]int{},
		},
	}

	n, err := a.clients(ctx, res.ClientUpdates)
	a.record(DestClients, n, err)
	n, err = a.brand(ctx, res.BrandUpdates)
	a.record(DestBrand, n, err)
	n, err = a.performers(ctx, res.PerformerUpdates)
	a.record(DestPerformers, n, err)
	n, err = a.journal(ctx, res.CalendarEntries)
	a.record(DestJournal, n, err)
	a.knowledge(ctx, res.KnowledgeConnections)
	n, err = a.interactions(ctx, res.InteractionEvents)
	a.record(DestInteractions, n, err)
	n, err = a.relevance(ctx, res.RerankedRelevance)
	a.record(DestRelevance, n, err)

	r.notify(ctx, a.report)
	r.writeAudit(ctx, a.report, res.Reasoning)

	report := a.report
	span.SetAttributes(
		attribute.Int("applied.destinations", len(report.Applied)),
		attribute.Int("failures", len(report.Failures)),
		attribute.Float64("relevance", report.Relevance),
	)

	if len(report.Failures) > 0 {
		aerr := newPartialError(memoryID, report.Failures)
		span.RecordError(aerr)
		span.SetStatus(codes.Error, "partial apply")
		for _, f := range report.Failures {
			r.logger.Warn(ctx, "destination write failed",
				zap.String("destination", f.Destination),
				zap.Error(f.Err),
			)
		}
		return report, aerr
	}

	r.logger.Info(ctx, "intelligence applied",
		zap.Any("applied", report.Applied),
		zap.Float64("previous_relevance", report.PreviousRelevance),
		zap.Float64("relevance", report.Relevance),
	)
	return report, nil
}

func (a *applyRun) clients(ctx context.Context, updates []intel.ClientUpdate) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, u := range updates {
		changed, err := a.client(ctx, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// client patches the client matching u by id, then by name, or creates it.
func (a *applyRun) client(ctx context.Context, u intel.ClientUpdate) (bool, error) {
	store := a.r.store
	u.Name = strings.Join(strings.Fields(u.Name), " ")

	var (
		c   intel.ClientProfile
		err = intel.ErrNotFound
	)
	if u.ID != "" {
		c, err = store.GetClient(ctx, u.ID)
	}
	if errors.Is(err, intel.ErrNotFound) && u.Name != "" {
		c, err = store.FindClientByName(ctx, u.Name)
	}

	switch {
	case errors.Is(err, intel.ErrNotFound):
		if u.Name == "" {
			a.r.logger.Debug(ctx, "skipping update for unknown client", zap.String("client_id", u.ID))
			return false, nil
		}
		c = intel.ClientProfile{ID: u.ID, CreatedAt: a.now}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	case err != nil:
		return false, fmt.Errorf("lookup client %q: %w", u.Name, err)
	}

	if !mergeClient(&c, u) {
		return false, nil
	}
	c.UpdatedAt = a.now
	if err := store.SaveClient(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

func (a *applyRun) brand(ctx context.Context, u *intel.BrandUpdate) (int, error) {
	if u == nil || u.Empty() {
		return 0, nil
	}
	b, err := a.r.store.GetBrand(ctx)
	if err != nil && !errors.Is(err, intel.ErrNotFound) {
		return 0, fmt.Errorf("load brand: %w", err)
	}
	if !mergeBrand(&b, *u) {
		return 0, nil
	}
	b.UpdatedAt = a.now
	if err := a.r.store.SaveBrand(ctx, b); err != nil {
		return 0, err
	}
	return 1, nil
}

// performers patches known roster members only; the roster is managed
// outside extraction.
func (a *applyRun) performers(ctx context.Context, updates []intel.PerformerUpdate) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, u := range updates {
		p, err := a.r.store.GetPerformer(ctx, u.PerformerID)
		if errors.Is(err, intel.ErrNotFound) {
			a.r.logger.Debug(ctx, "skipping update for unknown performer", zap.String("performer_id", u.PerformerID))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed := setString(&p.Role, u.Role)
		changed = setString(&p.Description, u.Description) || changed
		if !changed {
			continue
		}
		p.UpdatedAt = a.now
		if err := a.r.store.SavePerformer(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (a *applyRun) journal(ctx context.Context, entries []intel.CalendarEntry) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, e := range entries {
		if _, err := time.Parse(dateLayout, e.Date); err != nil {
			a.r.logger.Debug(ctx, "skipping calendar entry with invalid date",
				zap.String("date", e.Date), zap.String("title", e.Title))
			continue
		}
		created, err := a.r.store.UpsertJournalEntry(ctx, intel.JournalEntry{
			ID:             journalID(e.Date, a.memory.ID, e.Title),
			Date:           e.Date,
			Title:          e.Title,
			Description:    e.Description,
			Time:           e.Time,
			SourceMemoryID: a.memory.ID,
			CreatedAt:      a.now,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if created {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// knowledge unions each connection into the graph. Tags newly attached to an
// entity count once toward the tag index as knowledge usage.
func (a *applyRun) knowledge(ctx context.Context, conns []intel.KnowledgeConnection) {
	var (
		n          int
		errs       []error
		mirrorErrs []error
	)
	for _, c := range conns {
		source := entityName(c.Source)
		target := entityName(c.Target)
		relation := relationName(c.Relation)
		if source == "" || target == "" || relation == "" {
			continue
		}

		added, err := a.edge(ctx, source, relation, target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if added {
			n++
		}

		tags := memory.NormalizeTags(c.Tags)
		if len(tags) == 0 {
			tags = a.memory.Tags
		}
		for _, name := range []string{source, target} {
			if err := a.tagEntity(ctx, name, tags); err != nil {
				errs = append(errs, err)
			}
		}

		if a.r.mirror != nil {
			if err := a.r.mirror.MergeEdge(ctx, source, relation, target); err != nil {
				mirrorErrs = append(mirrorErrs, err)
			}
		}
	}
	a.record(DestKnowledge, n, errors.Join(errs...))
	if len(mirrorErrs) > 0 {
		a.record(DestKnowledgeMirror, 0, errors.Join(mirrorErrs...))
	}
}

func (a *applyRun) edge(ctx context.Context, source, relation, target string) (bool, error) {
	store := a.r.store
	if err := store.EnsureKnowledgeEntity(ctx, source, a.memory.ID, a.now); err != nil {
		return false, err
	}
	if err := store.EnsureKnowledgeEntity(ctx, target, a.memory.ID, a.now); err != nil {
		return false, err
	}
	return store.AddKnowledgeEdge(ctx, source, relation, target, a.now)
}

func (a *applyRun) tagEntity(ctx context.Context, name string, tags []string) error {
	added, err := a.r.store.AddKnowledgeTags(ctx, name, tags)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		return nil
	}
	if err := a.r.tags.RecordTagUsage(ctx, added, tagscore.KindKnowledge); err != nil {
		return fmt.Errorf("record knowledge tags for %q: %w", name, err)
	}
	return nil
}

func (a *applyRun) interactions(ctx context.Context, evs []intel.InteractionUpdate) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, ev := range evs {
		participants := ev.Participants
		if participants == nil {
			participants = []string{}
		}
		created, err := a.r.store.UpsertInteraction(ctx, intel.InteractionEvent{
			ID:           interactionID(a.memory.ID, ev),
			MemoryID:     a.memory.ID,
			Kind:         ev.Kind,
			Summary:      ev.Summary,
			Participants: participants,
			Sentiment:    ev.Sentiment,
			Intrigue:     memory.ClampRelevance(ev.Intrigue),
			Date:         ev.Date,
			CreatedAt:    a.now,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if created {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// relevance overwrites the memory's relevance with the reranked value.
func (a *applyRun) relevance(ctx context.Context, reranked float64) (int, error) {
	reranked = memory.ClampRelevance(reranked)
	if err := a.r.store.SetRelevance(ctx, a.memory.ID, reranked); err != nil {
		return 0, err
	}
	a.report.Relevance = reranked
	if reranked == a.memory.Relevance {
		return 0, nil
	}
	return 1, nil
}

// notify emits one event per changed store that pages display.
func (r *Router) notify(ctx context.Context, rep Report) {
	if rep.Applied[DestClients] > 0 {
		r.events.Publish(ctx, events.ClientDataUpdated)
	}
	if rep.Applied[DestBrand] > 0 {
		r.events.Publish(ctx, events.BrandDataUpdated)
	}
	if rep.Applied[DestRelevance] > 0 {
		r.events.Publish(ctx, events.MemoriesUpdated)
	}
}

func (r *Router) writeAudit(ctx context.Context, rep Report, reasoning string) {
	if !r.audit {
		return
	}
	rec := intel.AuditRecord{
		ID:                uuid.NewString(),
		MemoryID:          rep.MemoryID,
		CreatedAt:         r.now().UTC(),
		PreviousRelevance: rep.PreviousRelevance,
		Relevance:         rep.Relevance,
		Reasoning:         reasoning,
		Applied:           rep.Applied,
		Failures:          rep.FailureMessages(),
	}
	if err := r.store.InsertAudit(ctx, rec); err != nil {
		r.logger.Warn(ctx, "audit record not written", zap.Error(err))
		return
	}
	r.events.Publish(ctx, events.IntelligenceFeedUpdated)
}

func entityName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func relationName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}
