package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/events"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	memories   map[string]Memory
	performers map[string]PerformerMemory
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: map[string]Memory{}, performers: map[string]PerformerMemory{}}
}

func (f *fakeStore) InsertMemory(_ context.Context, m Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories[m.ID] = m
	return nil
}

func (f *fakeStore) GetMemory(_ context.Context, id string) (Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memories[id]
	if !ok {
		return Memory{}, ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) ListMemories(_ context.Context, _ ListOptions) ([]Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Memory, 0, len(f.memories))
	for _, m := range f.memories {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (f *fakeStore) ReplaceMemory(_ context.Context, m Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[m.ID]; !ok {
		return ErrNotFound
	}
	f.memories[m.ID] = m
	return nil
}

func (f *fakeStore) DeleteMemory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[id]; !ok {
		return ErrNotFound
	}
	delete(f.memories, id)
	return nil
}

func (f *fakeStore) InsertPerformerMemory(_ context.Context, m PerformerMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.performers[m.ID] = m
	return nil
}

func (f *fakeStore) ListPerformerMemories(_ context.Context, performerID string, _ ListOptions) ([]PerformerMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PerformerMemory
	for _, m := range f.performers {
		if m.PerformerID == performerID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePerformerMemory(_ context.Context, performerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.performers[id]
	if !ok || m.PerformerID != performerID {
		return ErrNotFound
	}
	delete(f.performers, id)
	return nil
}

type fakeIndexer struct {
	indexed map[string]string
	removed []string
}

func (f *fakeIndexer) IndexMemory(_ context.Context, m Memory) error {
	f.indexed[m.ID] = m.Summary
	return nil
}

func (f *fakeIndexer) RemoveMemory(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	index   *tagscore.Index
	events  *events.Recorder
	indexer *fakeIndexer
}

func newFixture() *fixture {
	f := &fixture{
		store:   newFakeStore(),
		index:   tagscore.NewIndex(tagscore.NewMemoryStore(), NormalizeTag),
		events:  &events.Recorder{},
		indexer: &fakeIndexer{indexed: map[string]string{}},
	}
	clock := func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	f.svc = NewService(f.store, f.index, f.events, nil, WithIndexer(f.indexer), WithClock(clock))
	return f
}

func (f *fixture) count(t *testing.T, tag string) int {
	t.Helper()
	scores, err := f.index.TagScores(context.Background())
	require.NoError(t, err)
	for _, s := range scores {
		if s.Tag == tag {
			return s.MemoryCount
		}
	}
	return 0
}

func TestService_AddMemory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	m, err := f.svc.AddMemory(ctx, Memory{Summary: "Client wants Q3 pricing", Tags: []string{"#Pricing", "Q3"}, Relevance: 6})
	require.NoError(t, err)

	assert.Equal(t, []string{"pricing", "q3"}, m.Tags)
	assert.Equal(t, 1, f.count(t, "pricing"))
	assert.Equal(t, 1, f.count(t, "q3"))
	assert.Equal(t, []events.Event{events.MemoriesUpdated}, f.events.Events())
	assert.Equal(t, "Client wants Q3 pricing", f.indexer.indexed[m.ID])

	stored, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m, stored)
}

func TestService_AddMemory_ValidationErrorIsNotSwallowed(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AddMemory(context.Background(), Memory{Summary: "no tags"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Empty(t, f.events.Events())
	assert.Empty(t, f.store.memories)
}

type flakyRecorder struct {
	fails int
	next  TagRecorder
}

func (r *flakyRecorder) RecordTagUsage(ctx context.Context, tags []string, kind tagscore.Kind) error {
	if r.fails > 0 {
		r.fails--
		return errors.New("tag index unavailable")
	}
	return r.next.RecordTagUsage(ctx, tags, kind)
}

func TestService_AddMemory_TagFailureRollsBack(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.svc.tags = &flakyRecorder{fails: 1, next: f.index}

	in := Memory{ID: "m-1", Summary: "Venue confirmed for June", Tags: []string{"events"}}
	_, err := f.svc.AddMemory(ctx, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag index unavailable")
	assert.Empty(t, f.store.memories)
	assert.Empty(t, f.events.Events())
	assert.Equal(t, 0, f.count(t, "events"))

	m, err := f.svc.AddMemory(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, 1, f.count(t, "events"))
}

func TestService_AddPerformerMemory_TagFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.svc.tags = &flakyRecorder{fails: 1, next: f.index}

	_, err := f.svc.AddPerformerMemory(context.Background(), PerformerMemory{
		PerformerID: "perf-1",
		Summary:     "Prefers morning shoots",
		Tags:        []string{"scheduling"},
	})
	require.Error(t, err)
	assert.Empty(t, f.store.performers)
	assert.Empty(t, f.events.Events())
}

func TestService_AddPerformerMemory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pm, err := f.svc.AddPerformerMemory(ctx, PerformerMemory{
		PerformerID:       "perf-1",
		Summary:           "Prefers morning shoots",
		Tags:              []string{"scheduling"},
		TranscriptSnippet: "I like mornings",
		Relevance:         4,
	})
	require.NoError(t, err)
	assert.Equal(t, "perf-1", pm.PerformerID)
	assert.Equal(t, 1, f.count(t, "scheduling"))
	assert.Equal(t, []events.Event{events.PerformerMemoriesUpdated}, f.events.Events())

	list, err := f.svc.ListPerformer(ctx, "perf-2", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list, "performer memories are isolated per performer")
}

func TestService_UpdateRecordsOnlyNewTags(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	m, err := f.svc.AddMemory(ctx, Memory{Summary: "Launch plan", Tags: []string{"launch", "q3"}, Relevance: 5})
	require.NoError(t, err)

	summary := "Launch plan v2"
	rel := 8.0
	updated, err := f.svc.Update(ctx, m.ID, Patch{Summary: &summary, Tags: []string{"launch", "press"}, Relevance: &rel})
	require.NoError(t, err)

	assert.Equal(t, "Launch plan v2", updated.Summary)
	assert.Equal(t, 8.0, updated.Relevance)
	assert.Equal(t, m.Timestamp, updated.Timestamp)
	assert.Equal(t, 1, f.count(t, "launch"))
	assert.Equal(t, 1, f.count(t, "press"))
	assert.Equal(t, 2, f.events.Count(events.MemoriesUpdated))
}

func TestService_UpdateRejectsInvalidPatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	m, err := f.svc.AddMemory(ctx, Memory{Summary: "Launch plan", Tags: []string{"launch"}, Relevance: 5})
	require.NoError(t, err)

	rel := 11.0
	_, err = f.svc.Update(ctx, m.ID, Patch{Relevance: &rel})
	assert.True(t, IsValidation(err))

	stored, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, stored.Relevance)
}

func TestService_Delete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	m, err := f.svc.AddMemory(ctx, Memory{Summary: "Old note", Tags: []string{"misc"}, Relevance: 1})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, m.ID))
	assert.Equal(t, []string{m.ID}, f.indexer.removed)
	assert.Equal(t, 1, f.count(t, "misc"), "deletes do not decrement the tag index")

	_, err = f.svc.Get(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, m.ID), ErrNotFound)
}

func TestService_DeletePerformerMemoryScoped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pm, err := f.svc.AddPerformerMemory(ctx, PerformerMemory{PerformerID: "p1", Summary: "x", Tags: []string{"a"}})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeletePerformerMemory(ctx, "p2", pm.ID), ErrNotFound)
	require.NoError(t, f.svc.DeletePerformerMemory(ctx, "p1", pm.ID))
}
