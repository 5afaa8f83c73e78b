package selector

import (
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func mem(id string, relevance float64, tags ...string) memory.Memory {
	return memory.Memory{ID: id, Timestamp: day, Summary: "summary " + id, Tags: tags, Relevance: relevance}
}

func ids(ms []memory.Memory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestSelect_PricingScenario(t *testing.T) {
	s := New(DefaultConfig())
	memories := []memory.Memory{
		mem("weather", 9, "weather"),
		mem("pricing", 6, "pricing", "q3"),
	}
	scores := []tagscore.TagScore{{Tag: "pricing", MemoryCount: 5, Score: 5}}

	sel := s.Select("What did we decide about pricing?", nil, memories, scores, 10)

	assert.Equal(t, []string{"pricing"}, sel.PrioritizedTags)
	assert.Equal(t, []string{"pricing", "weather"}, ids(sel.Memories))

	kw := sel.Keywords
	assert.InDelta(t, 23.0, s.Score([]string{"pricing", "q3"}, 6, kw, sel.PrioritizedTags, scores), 1e-9)
	assert.InDelta(t, 18.0, s.Score([]string{"weather"}, 9, kw, sel.PrioritizedTags, scores), 1e-9)
}

func TestSelect_EmptyMemories(t *testing.T) {
	s := New(DefaultConfig())
	sel := s.Select("anything at all", nil, nil, []tagscore.TagScore{{Tag: "x", Score: 1}}, 10)

	assert.NotNil(t, sel.Memories)
	assert.Empty(t, sel.Memories)
	assert.Equal(t, []string{"x"}, sel.PrioritizedTags)
}

func TestSelect_NoScoresOrdersByRawScore(t *testing.T) {
	s := New(DefaultConfig())
	memories := []memory.Memory{
		mem("low", 1, "budget"),
		mem("high", 8, "misc"),
		mem("kw", 5, "budget"),
	}

	sel := s.Select("budget review", nil, memories, nil, 0)

	assert.Empty(t, sel.PrioritizedTags)
	// high: 16; kw: 10+2; low: 2+2
	assert.Equal(t, []string{"high", "kw", "low"}, ids(sel.Memories))
}

func TestSelect_PrioritizedTagDominance(t *testing.T) {
	s := New(DefaultConfig())
	memories := []memory.Memory{
		mem("loud", 10, "keynote", "launch", "budget"),
		mem("quiet", 0, "roadmap"),
	}
	scores := []tagscore.TagScore{{Tag: "roadmap", Score: 0.5}}

	sel := s.Select("roadmap keynote launch budget", nil, memories, scores, 10)

	require.Equal(t, []string{"roadmap"}, sel.PrioritizedTags)
	assert.Equal(t, []string{"quiet", "loud"}, ids(sel.Memories))
}

func TestSelect_DeterministicTies(t *testing.T) {
	s := New(DefaultConfig())
	var memories []memory.Memory
	for i := 0; i < 8; i++ {
		memories = append(memories, mem(fmt.Sprintf("m%d", i), 5, "same"))
	}

	first := s.Select("same thing", nil, memories, nil, 5)
	second := s.Select("same thing", nil, memories, nil, 5)

	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, ids(first.Memories))
	assert.Equal(t, ids(first.Memories), ids(second.Memories))
}

func TestSelect_LimitDefaultsToConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limit = 2
	s := New(cfg)

	memories := []memory.Memory{mem("a", 1, "x"), mem("b", 2, "x"), mem("c", 3, "x")}
	assert.Len(t, s.Select("", nil, memories, nil, 0).Memories, 2)
	assert.Len(t, s.Select("", nil, memories, nil, 10).Memories, 3)
}

func TestScore_Monotonic(t *testing.T) {
	s := New(DefaultConfig())
	scores := []tagscore.TagScore{{Tag: "pricing", Score: 2}}
	kw := []string{"pricing", "budget"}
	pr := []string{"pricing"}

	tests := []struct {
		name   string
		lower  float64
		higher float64
	}{
		{"relevance", s.Score([]string{"misc"}, 3, kw, pr, scores), s.Score([]string{"misc"}, 4, kw, pr, scores)},
		{"keyword tag", s.Score([]string{"misc"}, 3, kw, pr, scores), s.Score([]string{"misc", "budget"}, 3, kw, pr, scores)},
		{"prioritized over keyword", s.Score([]string{"budget"}, 3, kw, pr, scores), s.Score([]string{"pricing"}, 3, kw, pr, scores)},
		{
			"tag score",
			s.Score([]string{"pricing"}, 3, kw, pr, scores),
			s.Score([]string{"pricing"}, 3, kw, pr, []tagscore.TagScore{{Tag: "pricing", Score: 3}}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Greater(t, tt.higher, tt.lower)
		})
	}
}

func TestKeywords(t *testing.T) {
	s := New(DefaultConfig())

	t.Run("length and dedupe", func(t *testing.T) {
		kw := s.Keywords("The Q3 pricing, PRICING and follow_up plan!", nil)
		assert.Equal(t, []string{"pricing", "follow-up", "plan"}, kw)
	})

	t.Run("utterance capped", func(t *testing.T) {
		utterance := ""
		for i := 0; i < 20; i++ {
			utterance += fmt.Sprintf("word%02d ", i)
		}
		assert.Len(t, s.Keywords(utterance, nil), 12)
	})

	t.Run("history tags most recent first", func(t *testing.T) {
		history := make([]Turn, 0, 14)
		for i := 0; i < 14; i++ {
			history = append(history, Turn{Role: "user", MemoryTags: []string{fmt.Sprintf("t%02d", i)}})
		}
		kw := s.Keywords("", history)
		require.Len(t, kw, 12)
		assert.Equal(t, "t13", kw[0])
		assert.Equal(t, "t02", kw[11])
		assert.NotContains(t, kw, "t01")
	})

	t.Run("history tags union with utterance", func(t *testing.T) {
		kw := s.Keywords("pricing update", []Turn{{MemoryTags: []string{"Pricing", "Q3"}}})
		assert.Equal(t, []string{"pricing", "update", "q3"}, kw)
	})
}

func TestPrioritizedTags(t *testing.T) {
	scores := []tagscore.TagScore{
		{Tag: "alpha", Score: 1},
		{Tag: "beta", Score: 9},
		{Tag: "gamma", Score: 4},
		{Tag: "delta", Score: 7},
	}

	t.Run("matches ranked by score", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxPrioritizedTags = 2
		s := New(cfg)
		assert.Equal(t, []string{"gamma", "alpha"}, s.PrioritizedTags([]string{"alpha", "gamma", "unknown"}, scores))
	})

	t.Run("filled from global ranking", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxPrioritizedTags = 3
		s := New(cfg)
		assert.Equal(t, []string{"alpha", "beta", "delta"}, s.PrioritizedTags([]string{"alpha"}, scores))
	})

	t.Run("empty index", func(t *testing.T) {
		s := New(DefaultConfig())
		assert.Empty(t, s.PrioritizedTags([]string{"alpha"}, nil))
	})
}

func TestSelectPerformer_Isolation(t *testing.T) {
	s := New(DefaultConfig())
	memories := []memory.PerformerMemory{
		{ID: "a", PerformerID: "p1", Timestamp: day, Summary: "warmup", Tags: []string{"stage"}, Relevance: 3},
		{ID: "b", PerformerID: "p2", Timestamp: day, Summary: "other", Tags: []string{"stage"}, Relevance: 9},
		{ID: "c", PerformerID: "p1", Timestamp: day, Summary: "encore", Tags: []string{"stage"}, Relevance: 5},
	}

	sel := s.SelectPerformer("p1", "stage notes", nil, memories, nil, 10)

	require.Len(t, sel.Memories, 2)
	assert.Equal(t, "c", sel.Memories[0].ID)
	assert.Equal(t, "a", sel.Memories[1].ID)

	none := s.SelectPerformer("p3", "stage", nil, memories, nil, 10)
	assert.Empty(t, none.Memories)
}

func TestFormatPrimer(t *testing.T) {
	s := New(DefaultConfig())
	local := time.FixedZone("UTC-8", -8*3600)

	tests := []struct {
		name string
		mem  memory.Memory
		want string
	}{
		{
			name: "tags capped at four",
			mem:  memory.Memory{Timestamp: day, Summary: "Discussed pricing", Tags: []string{"a", "b", "c", "d", "e"}},
			want: "- 2024-05-01 • Discussed pricing (#a #b #c #d)\n",
		},
		{
			name: "no tags",
			mem:  memory.Memory{Timestamp: day, Summary: "Bare"},
			want: "- 2024-05-01 • Bare\n",
		},
		{
			name: "newlines collapse and date is utc",
			mem:  memory.Memory{Timestamp: time.Date(2024, 4, 30, 20, 0, 0, 0, local), Summary: "line one\nline two", Tags: []string{"x"}},
			want: "- 2024-05-01 • line one line two (#x)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.FormatPrimer([]memory.Memory{tt.mem}))
		})
	}

	assert.Equal(t, "", s.FormatPrimer(nil))
}
