// Package tagscore maintains per-tag usage counts across memories and
// knowledge entities, and the priority score derived from them.
package tagscore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind identifies what kind of record used a tag.
type Kind string

const (
	KindMemory    Kind = "memory"
	KindKnowledge Kind = "knowledge"
)

// Weights of the score formula.
const (
	MemoryWeight    = 1.0
	KnowledgeWeight = 1.5
)

// TagScore is the usage summary of a single tag.
type TagScore struct {
	Tag            string    `json:"tag"`
	MemoryCount    int       `json:"memoryCount"`
	KnowledgeCount int       `json:"knowledgeCount"`
	LastUpdated    time.Time `json:"lastUpdated"`
	Score          float64   `json:"score"`
}

// Score is non-decreasing in both counts.
func Score(memoryCount, knowledgeCount int) float64 {
	return float64(memoryCount)*MemoryWeight + float64(knowledgeCount)*KnowledgeWeight
}

// Store persists tag counts. Increment must add one usage of kind to every
// tag in tags; List returns raw counts and need not fill Score.
type Store interface {
	IncrementTagUsage(ctx context.Context, tags []string, kind Kind, at time.Time) error
	ListTagUsage(ctx context.Context) ([]TagScore, error)
}

// Normalizer maps a raw tag to its indexed form. Empty results are dropped.
type Normalizer func(string) string

// Index records tag usage and serves scores. Reads observe every write that
// returned before them.
type Index struct {
	store     Store
	normalize Normalizer
	now       func() time.Time

	// mu serializes multi-tag increments.
	mu sync.Mutex
}

// NewIndex creates an index over store. normalize may be nil.
func NewIndex(store Store, normalize Normalizer) *Index {
	if normalize == nil {
		normalize = func(s string) string { return s }
	}
	return &Index{store: store, normalize: normalize, now: time.Now}
}

// RecordTagUsage adds one usage of kind to each distinct tag. Callers invoke
// it once per memory or knowledge write.
func (i *Index) RecordTagUsage(ctx context.Context, tags []string, kind Kind) error {
	if kind != KindMemory && kind != KindKnowledge {
		return fmt.Errorf("unknown tag usage kind %q", kind)
	}

	distinct := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		n := i.normalize(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		distinct = append(distinct, n)
	}
	if len(distinct) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.store.IncrementTagUsage(ctx, distinct, kind, i.now().UTC()); err != nil {
		return fmt.Errorf("record tag usage: %w", err)
	}
	return nil
}

// TagScores returns every tag ordered by score descending, then tag.
func (i *Index) TagScores(ctx context.Context) ([]TagScore, error) {
	scores, err := i.store.ListTagUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tag scores: %w", err)
	}
	for n := range scores {
		scores[n].Score = Score(scores[n].MemoryCount, scores[n].KnowledgeCount)
	}
	SortByScore(scores)
	return scores, nil
}

// SortByScore orders scores by score descending, ties by tag ascending.
func SortByScore(scores []TagScore) {
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].Score != scores[b].Score {
			return scores[a].Score > scores[b].Score
		}
		return scores[a].Tag < scores[b].Tag
	})
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	tags map[string]TagScore
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tags: make(map[string]TagScore)}
}

func (s *MemoryStore) IncrementTagUsage(_ context.Context, tags []string, kind Kind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		ts := s.tags[t]
		ts.Tag = t
		if kind == KindKnowledge {
			ts.KnowledgeCount++
		} else {
			ts.MemoryCount++
		}
		ts.LastUpdated = at
		s.tags[t] = ts
	}
	return nil
}

func (s *MemoryStore) ListTagUsage(_ context.Context) ([]TagScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TagScore, 0, len(s.tags))
	for _, ts := range s.tags {
		out = append(out, ts)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
