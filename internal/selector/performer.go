package selector

import (
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
)

// PerformerSelection is the outcome of SelectPerformer.
type PerformerSelection struct {
	PerformerID     string                   `json:"performerId"`
	Memories        []memory.PerformerMemory `json:"memories"`
	PrioritizedTags []string                 `json:"prioritizedTags"`
	Keywords        []string                 `json:"keywords"`
}

// SelectPerformer ranks the memories of one performer with the same rules as
// Select. Records belonging to any other performer are ignored.
func (s *Selector) SelectPerformer(performerID, utterance string, history []Turn, memories []memory.PerformerMemory, scores []tagscore.TagScore, limit int) PerformerSelection {
	keywords := s.Keywords(utterance, history)
	prioritized := s.PrioritizedTags(keywords, scores)

	sel := PerformerSelection{
		PerformerID:     performerID,
		Memories:        []memory.PerformerMemory{},
		PrioritizedTags: prioritized,
		Keywords:        keywords,
	}

	own := make([]memory.PerformerMemory, 0, len(memories))
	for _, m := range memories {
		if m.PerformerID == performerID {
			own = append(own, m)
		}
	}
	if len(own) == 0 {
		return sel
	}

	ranked := rank(s, own, func(m memory.PerformerMemory) ([]string, float64) { return m.Tags, m.Relevance },
		keywords, prioritized, scores)

	n := s.limit(limit, len(ranked))
	sel.Memories = make([]memory.PerformerMemory, n)
	for i := 0; i < n; i++ {
		sel.Memories[i] = own[ranked[i].index]
	}
	return sel
}
