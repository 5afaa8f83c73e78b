package tagscore

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoreOf(t *testing.T, idx *Index, tag string) TagScore {
	t.Helper()
	scores, err := idx.TagScores(context.Background())
	require.NoError(t, err)
	for _, s := range scores {
		if s.Tag == tag {
			return s
		}
	}
	return TagScore{Tag: tag}
}

func TestScore_Monotonic(t *testing.T) {
	for m := 0; m < 5; m++ {
		for k := 0; k < 5; k++ {
			assert.GreaterOrEqual(t, Score(m+1, k), Score(m, k))
			assert.GreaterOrEqual(t, Score(m, k+1), Score(m, k))
		}
	}
	assert.InDelta(t, 5.0, Score(2, 2), 1e-9)
}

func TestIndex_RecordTagUsage(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(NewMemoryStore(), strings.ToLower)

	require.NoError(t, idx.RecordTagUsage(ctx, []string{"Pricing", "q3", "pricing"}, KindMemory))
	require.NoError(t, idx.RecordTagUsage(ctx, []string{"pricing"}, KindKnowledge))

	pricing := scoreOf(t, idx, "pricing")
	assert.Equal(t, 1, pricing.MemoryCount, "duplicate tags in one write count once")
	assert.Equal(t, 1, pricing.KnowledgeCount)
	assert.InDelta(t, 2.5, pricing.Score, 1e-9)
	assert.False(t, pricing.LastUpdated.IsZero())

	q3 := scoreOf(t, idx, "q3")
	assert.InDelta(t, 1.0, q3.Score, 1e-9)
}

func TestIndex_ScoreNeverDecreases(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(NewMemoryStore(), nil)

	prev := 0.0
	kinds := []Kind{KindMemory, KindKnowledge, KindMemory, KindMemory, KindKnowledge}
	for _, k := range kinds {
		require.NoError(t, idx.RecordTagUsage(ctx, []string{"growth"}, k))
		cur := scoreOf(t, idx, "growth").Score
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestIndex_Ordering(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(NewMemoryStore(), nil)

	require.NoError(t, idx.RecordTagUsage(ctx, []string{"b", "a", "c"}, KindMemory))
	require.NoError(t, idx.RecordTagUsage(ctx, []string{"c"}, KindMemory))

	scores, err := idx.TagScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{scores[0].Tag, scores[1].Tag, scores[2].Tag})
}

func TestIndex_RejectsUnknownKind(t *testing.T) {
	idx := NewIndex(NewMemoryStore(), nil)
	assert.Error(t, idx.RecordTagUsage(context.Background(), []string{"x"}, Kind("journal")))
}

func TestIndex_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(NewMemoryStore(), nil)

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, idx.RecordTagUsage(ctx, []string{"busy"}, KindMemory))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, scoreOf(t, idx, "busy").MemoryCount)
}
