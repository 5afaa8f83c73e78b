// Package selector picks the memories worth priming an AI prompt with.
//
// Selection is keyword and tag driven. Keywords come from the current
// utterance and from the tags attached to recent conversation turns. Keywords
// that are also known, well-scored tags become prioritized tags, and memories
// carrying a prioritized tag are ranked ahead of everything else.
//
// The Selector is pure: it holds no state beyond its Config and never blocks.
package selector

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
)

// Turn is one exchange of the recent conversation. MemoryTags are the tags
// of the memories that were attached to the turn.
type Turn struct {
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	MemoryTags []string `json:"memoryTags,omitempty"`
}

// Selection is the outcome of Select.
type Selection struct {
	Memories        []memory.Memory `json:"memories"`
	PrioritizedTags []string        `json:"prioritizedTags"`
	Keywords        []string        `json:"keywords"`
}

// Selector ranks memories against a conversation.
type Selector struct {
	cfg Config
}

// New creates a Selector.
func New(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// Config returns the selector configuration.
func (s *Selector) Config() Config {
	return s.cfg
}

// Select returns at most limit memories ordered for inclusion in a prompt,
// along with the prioritized tags that drove the ordering. limit <= 0 uses
// Config.Limit. Memories with equal scores keep their input order.
func (s *Selector) Select(utterance string, history []Turn, memories []memory.Memory, scores []tagscore.TagScore, limit int) Selection {
	keywords := s.Keywords(utterance, history)
	prioritized := s.PrioritizedTags(keywords, scores)

	sel := Selection{
		Memories:        []memory.Memory{},
		PrioritizedTags: prioritized,
		Keywords:        keywords,
	}
	if len(memories) == 0 {
		return sel
	}

	ranked := rank(s, memories, func(m memory.Memory) ([]string, float64) { return m.Tags, m.Relevance },
		keywords, prioritized, scores)

	n := s.limit(limit, len(ranked))
	sel.Memories = make([]memory.Memory, n)
	for i := 0; i < n; i++ {
		sel.Memories[i] = memories[ranked[i].index]
	}
	return sel
}

// Keywords returns the union of utterance keywords and recent history tags,
// utterance keywords first.
func (s *Selector) Keywords(utterance string, history []Turn) []string {
	seen := map[string]bool{}
	out := []string{}

	n := 0
	for _, tok := range tokenize(utterance) {
		if n >= s.cfg.MaxKeywords {
			break
		}
		kw := memory.NormalizeTag(tok)
		if utf8.RuneCountInString(kw) < s.cfg.MinKeywordLength || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		n++
	}

	historySeen := map[string]bool{}
	n = 0
	start := len(history) - s.cfg.HistoryTurns
	if start < 0 {
		start = 0
	}
	for i := len(history) - 1; i >= start && n < s.cfg.MaxHistoryTags; i-- {
		for _, tag := range history[i].MemoryTags {
			if n >= s.cfg.MaxHistoryTags {
				break
			}
			t := memory.NormalizeTag(tag)
			if t == "" || historySeen[t] {
				continue
			}
			historySeen[t] = true
			n++
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// PrioritizedTags ranks the keywords known to the tag index by score and
// keeps the top MaxPrioritizedTags, filling any remaining slots with the
// globally highest-scoring tags. The result is empty only when scores is.
func (s *Selector) PrioritizedTags(keywords []string, scores []tagscore.TagScore) []string {
	global := make([]tagscore.TagScore, len(scores))
	copy(global, scores)
	tagscore.SortByScore(global)

	byTag := make(map[string]float64, len(global))
	for _, ts := range global {
		byTag[ts.Tag] = ts.Score
	}

	matched := make([]tagscore.TagScore, 0, len(keywords))
	for _, kw := range keywords {
		if score, ok := byTag[kw]; ok {
			matched = append(matched, tagscore.TagScore{Tag: kw, Score: score})
		}
	}
	tagscore.SortByScore(matched)

	out := make([]string, 0, s.cfg.MaxPrioritizedTags)
	chosen := map[string]bool{}
	for _, ts := range matched {
		if len(out) >= s.cfg.MaxPrioritizedTags {
			break
		}
		out = append(out, ts.Tag)
		chosen[ts.Tag] = true
	}
	for _, ts := range global {
		if len(out) >= s.cfg.MaxPrioritizedTags {
			break
		}
		if chosen[ts.Tag] {
			continue
		}
		out = append(out, ts.Tag)
		chosen[ts.Tag] = true
	}
	return out
}

// Score computes the selection score of a memory with the given tags and
// relevance. Each tag earns the prioritized bonus or the keyword bonus, never
// both.
func (s *Selector) Score(tags []string, relevance float64, keywords, prioritized []string, scores []tagscore.TagScore) float64 {
	return s.score(tags, relevance, toSet(keywords), toSet(prioritized), scoreMap(scores))
}

func (s *Selector) score(tags []string, relevance float64, keywords, prioritized map[string]bool, tagScores map[string]float64) float64 {
	total := relevance * s.cfg.RelevanceWeight
	for _, tag := range tags {
		switch {
		case prioritized[tag]:
			total += s.cfg.PrioritizedBonus + s.cfg.TagScoreWeight*tagScores[tag]
		case keywords[tag]:
			total += s.cfg.KeywordBonus
		}
	}
	return total
}

type rankedItem struct {
	index    int
	score    float64
	priority bool
}

// rank orders item indexes: prioritized-tag carriers first, then by score
// descending, stable on input order.
func rank[T any](s *Selector, items []T, attrs func(T) ([]string, float64), keywords, prioritized []string, scores []tagscore.TagScore) []rankedItem {
	kwSet := toSet(keywords)
	prSet := toSet(prioritized)
	tagScores := scoreMap(scores)

	ranked := make([]rankedItem, len(items))
	for i, it := range items {
		tags, relevance := attrs(it)
		ranked[i] = rankedItem{
			index:    i,
			score:    s.score(tags, relevance, kwSet, prSet, tagScores),
			priority: hasAny(tags, prSet),
		}
	}
	sortRanked(ranked)
	return ranked
}

func sortRanked(ranked []rankedItem) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority
		}
		return ranked[i].score > ranked[j].score
	})
}

func (s *Selector) limit(limit, n int) int {
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	if limit > n {
		return n
	}
	return limit
}

// tokenize splits on every rune that is not a letter, digit, hyphen or
// underscore.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func scoreMap(scores []tagscore.TagScore) map[string]float64 {
	m := make(map[string]float64, len(scores))
	for _, ts := range scores {
		m[ts.Tag] = ts.Score
	}
	return m
}

func hasAny(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
