package router

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/events"
	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	db     *store.DB
	index  *tagscore.Index
	events *events.Recorder
	router *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "memoryd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:     db,
		index:  tagscore.NewIndex(tagscore.NewMemoryStore(), memory.NormalizeTag),
		events: &events.Recorder{},
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	f.router = New(db, f.index, f.events, nil, opts...)

	require.NoError(t, db.InsertMemory(context.Background(), memory.Memory{
		ID:        "m1",
		Timestamp: fixedNow.Add(-time.Hour),
		Summary:   "Agreed Q3 pricing with Dana",
		Tags:      []string{"pricing", "q3"},
		Relevance: 5,
	}))
	return f
}

func fullResult() intel.ProcessingResult {
	return intel.ProcessingResult{
		ClientUpdates: []intel.ClientUpdate{
			{Name: "Dana Reyes", Company: "Acme", PainPoints: []string{"churn"}},
		},
		BrandUpdates: &intel.BrandUpdate{Voice: "warm"},
		CalendarEntries: []intel.CalendarEntry{
			{Date: "2024-07-01", Title: "Q3 kickoff", Time: "10:00"},
		},
		KnowledgeConnections: []intel.KnowledgeConnection{
			{Source: "Acme", Relation: "Mentions", Target: "Globex"},
		},
		InteractionEvents: []intel.InteractionUpdate{
			{Kind: "call", Summary: "pricing call", Sentiment: "positive", Intrigue: 7},
		},
		RerankedRelevance: 8,
		Reasoning:         "contains a pricing decision",
	}
}

func TestApply_AllDestinations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rep, err := f.router.Apply(ctx, "m1", fullResult())
	require.NoError(t, err)

	assert.Equal(t, intel.StatusApplied, rep.Status())
	assert.Equal(t, map[string]int{
		DestClients:      1,
		DestBrand:        1,
		DestJournal:      1,
		DestKnowledge:    1,
		DestInteractions: 1,
		DestRelevance:    1,
	}, rep.Applied)
	assert.InDelta(t, 5.0, rep.PreviousRelevance, 1e-9)

	clients, err := f.db.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Acme", clients[0].Company)
	assert.True(t, fixedNow.Equal(clients[0].CreatedAt))

	brand, err := f.db.GetBrand(ctx)
	require.NoError(t, err)
	assert.Equal(t, "warm", brand.Voice)

	journal, err := f.db.ListJournal(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "m1", journal[0].SourceMemoryID)

	entity, err := f.db.GetKnowledgeEntity(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"Globex"}, entity.Relationships["mentions"])
	assert.ElementsMatch(t, []string{"pricing", "q3"}, entity.SourceTags)
	assert.Equal(t, "m1", entity.LastSeenConversationID)

	interactions, err := f.db.ListInteractions(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, "positive", interactions[0].Sentiment)

	audit, err := f.db.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "contains a pricing decision", audit[0].Reasoning)
	assert.Equal(t, 1, audit[0].Applied[DestKnowledge])

	assert.Equal(t, 1, f.events.Count(events.ClientDataUpdated))
	assert.Equal(t, 1, f.events.Count(events.BrandDataUpdated))
	assert.Equal(t, 1, f.events.Count(events.MemoriesUpdated))
	assert.Equal(t, 1, f.events.Count(events.IntelligenceFeedUpdated))
}

func TestApply_RelevanceRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		reranked float64
		want     float64
	}{
		{"raise", 9.25, 9.25},
		{"lower", 1.5, 1.5},
		{"zero", 0, 0},
		{"unchanged", 5, 5},
		{"clamped", 14, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)

			rep, err := f.router.Apply(ctx, "m1", intel.ProcessingResult{RerankedRelevance: tt.reranked})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rep.Relevance)

			m, err := f.db.GetMemory(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Relevance)
		})
	}
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := fullResult()

	_, err := f.router.Apply(ctx, "m1", res)
	require.NoError(t, err)
	scoresBefore, err := f.index.TagScores(ctx)
	require.NoError(t, err)

	rep, err := f.router.Apply(ctx, "m1", res)
	require.NoError(t, err)
	assert.Empty(t, rep.Applied, "second apply changes nothing")

	clients, err := f.db.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)

	journal, err := f.db.ListJournal(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, journal, 1)

	interactions, err := f.db.ListInteractions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, interactions, 1)

	entity, err := f.db.GetKnowledgeEntity(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"Globex"}, entity.Relationships["mentions"])

	scoresAfter, err := f.index.TagScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, scoresBefore, scoresAfter, "knowledge tags are counted once")

	assert.Equal(t, 1, f.events.Count(events.ClientDataUpdated))
	assert.Equal(t, 2, f.events.Count(events.IntelligenceFeedUpdated))
}

func TestApply_ConcurrentSameEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	results := []intel.ProcessingResult{
		{KnowledgeConnections: []intel.KnowledgeConnection{{Source: "A", Relation: "mentions", Target: "B"}}, RerankedRelevance: 6},
		{KnowledgeConnections: []intel.KnowledgeConnection{{Source: "A", Relation: "mentions", Target: "B"}, {Source: "A", Relation: "uses", Target: "C"}}, RerankedRelevance: 7},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(results))
	for i, res := range results {
		wg.Add(1)
		go func(i int, res intel.ProcessingResult) {
			defer wg.Done()
			_, errs[i] = f.router.Apply(ctx, "m1", res)
		}(i, res)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	entity, err := f.db.GetKnowledgeEntity(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, entity.Relationships["mentions"])
	assert.Equal(t, []string{"C"}, entity.Relationships["uses"])
}

func TestApply_MissingPerformerUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := fullResult()
	res.PerformerUpdates = nil

	rep, err := f.router.Apply(ctx, "m1", res)
	require.NoError(t, err)
	assert.NotContains(t, rep.Applied, DestPerformers)
	for _, dest := range []string{DestClients, DestBrand, DestJournal, DestKnowledge, DestInteractions} {
		assert.Equal(t, 1, rep.Applied[dest], dest)
	}
}

func TestApply_MissingMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.router.Apply(ctx, "nope", fullResult())
	require.Error(t, err)

	var aerr *ApplicationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "nope", aerr.MemoryID)
	assert.Empty(t, aerr.Failures)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	clients, err := f.db.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients, "nothing is written for a missing memory")
	audit, err := f.db.ListAudit(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, audit)
	assert.Empty(t, f.events.Events())
}

var errDiskFull = errors.New("disk full")

type failingJournal struct {
	*store.DB
}

func (failingJournal) UpsertJournalEntry(context.Context, intel.JournalEntry) (bool, error) {
	return false, errDiskFull
}

func TestApply_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := New(failingJournal{f.db}, f.index, f.events, nil)

	rep, err := r.Apply(ctx, "m1", fullResult())
	require.Error(t, err)
	assert.True(t, IsApplicationError(err))
	assert.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, intel.StatusPartial, rep.Status())
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, DestJournal, rep.Failures[0].Destination)

	// Later destinations are still written.
	assert.Equal(t, 1, rep.Applied[DestKnowledge])
	assert.Equal(t, 1, rep.Applied[DestInteractions])
	m, err := f.db.GetMemory(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 8.0, m.Relevance)

	audit, err := f.db.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].Failures[DestJournal], "disk full")
}

type fakeMirror struct {
	mu    sync.Mutex
	edges [][3]string
	err   error
}

func (m *fakeMirror) MergeEdge(_ context.Context, source, relation, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.edges = append(m.edges, [3]string{source, relation, target})
	return nil
}

func TestApply_Mirror(t *testing.T) {
	ctx := context.Background()

	t.Run("edges are mirrored", func(t *testing.T) {
		mirror := &fakeMirror{}
		f := newFixture(t, WithMirror(mirror))

		_, err := f.router.Apply(ctx, "m1", fullResult())
		require.NoError(t, err)
		assert.Equal(t, [][3]string{{"Acme", "mentions", "Globex"}}, mirror.edges)
	})

	t.Run("mirror failure is its own destination", func(t *testing.T) {
		mirror := &fakeMirror{err: errors.New("neo4j unavailable")}
		f := newFixture(t, WithMirror(mirror))

		rep, err := f.router.Apply(ctx, "m1", fullResult())
		require.Error(t, err)
		require.Len(t, rep.Failures, 1)
		assert.Equal(t, DestKnowledgeMirror, rep.Failures[0].Destination)
		assert.Equal(t, 1, rep.Applied[DestKnowledge])
	})
}

func TestApply_ClientMatching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.db.SaveClient(ctx, intel.ClientProfile{
		ID:          "c1",
		Name:        "Dana Reyes",
		Role:        "CFO",
		PainPoints:  []string{"Churn"},
		Personality: "direct",
		CreatedAt:   fixedNow.Add(-48 * time.Hour),
	}))

	_, err := f.router.Apply(ctx, "m1", intel.ProcessingResult{
		ClientUpdates: []intel.ClientUpdate{
			{Name: "dana  reyes", PainPoints: []string{"churn", "onboarding"}, Goals: []string{"expand"}},
			{ID: "c1", Company: "Acme"},
			{ID: "ghost"},
		},
		RerankedRelevance: 5,
	})
	require.NoError(t, err)

	clients, err := f.db.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)

	c := clients[0]
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "Dana Reyes", c.Name, "a case-only difference keeps the stored name")
	assert.Equal(t, "CFO", c.Role, "fields absent from the update are kept")
	assert.Equal(t, "direct", c.Personality)
	assert.Equal(t, "Acme", c.Company)
	assert.Equal(t, []string{"Churn", "onboarding"}, c.PainPoints)
	assert.Equal(t, []string{"expand"}, c.Goals)
	assert.True(t, fixedNow.Add(-48*time.Hour).Equal(c.CreatedAt), "created_at is kept")
}

func TestApply_BrandNeverCleared(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.db.SaveBrand(ctx, intel.Brand{Name: "Acme", Voice: "warm", Values: []string{"care"}}))

	rep, err := f.router.Apply(ctx, "m1", intel.ProcessingResult{
		BrandUpdates:      &intel.BrandUpdate{Audience: "SMB", Values: []string{"speed"}},
		RerankedRelevance: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied[DestBrand])

	b, err := f.db.GetBrand(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme", b.Name)
	assert.Equal(t, "warm", b.Voice)
	assert.Equal(t, "SMB", b.Audience)
	assert.Equal(t, []string{"care", "speed"}, b.Values)
}

func TestApply_Performers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.db.SavePerformer(ctx, intel.Performer{ID: "p1", Name: "Nova", Role: "host"}))

	rep, err := f.router.Apply(ctx, "m1", intel.ProcessingResult{
		PerformerUpdates: []intel.PerformerUpdate{
			{PerformerID: "p1", Description: "closes every show"},
			{PerformerID: "unknown", Role: "guest"},
		},
		RerankedRelevance: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied[DestPerformers])

	p, err := f.db.GetPerformer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "host", p.Role)
	assert.Equal(t, "closes every show", p.Description)

	_, err = f.db.GetPerformer(ctx, "unknown")
	assert.ErrorIs(t, err, intel.ErrNotFound)
}

func TestApply_InvalidJournalDateSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rep, err := f.router.Apply(ctx, "m1", intel.ProcessingResult{
		CalendarEntries: []intel.CalendarEntry{
			{Date: "next tuesday", Title: "follow up"},
			{Date: "2024-06-04", Title: "follow up"},
		},
		RerankedRelevance: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied[DestJournal])
}

func TestApply_Span(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	f := newFixture(t, WithTracer(tel.Tracer("test")))

	_, err := f.router.Apply(context.Background(), "m1", fullResult())
	require.NoError(t, err)

	tel.AssertSpanExists(t, "router.Apply")
	tel.AssertSpanAttribute(t, "router.Apply", "memory.id", "m1")
	tel.AssertSpanAttribute(t, "router.Apply", "failures", int64(0))
}

func TestStableIDs(t *testing.T) {
	a := journalID("2024-07-01", "m1", "Kickoff")
	assert.Equal(t, a, journalID("2024-07-01", "m1", "kickoff"))
	assert.NotEqual(t, a, journalID("2024-07-01", "m2", "Kickoff"))
	assert.NotEqual(t, a, journalID("2024-07-02", "m1", "Kickoff"))

	ev := intel.InteractionUpdate{Kind: "call", Summary: "pricing call"}
	assert.Equal(t, interactionID("m1", ev), interactionID("m1", ev))
	assert.NotEqual(t, interactionID("m1", ev), interactionID("m2", ev))
}

func TestKeyLock(t *testing.T) {
	k := newKeyLock()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("m1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, k.locks)
}
