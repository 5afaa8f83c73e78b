package memory

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

func validateTags(tags []string) ([]string, error) {
	normalized := NormalizeTags(tags)
	if len(normalized) < MinTags || len(normalized) > MaxTags {
		return nil, invalid("tags", "need %d-%d distinct tags, got %d", MinTags, MaxTags, len(normalized))
	}
	return normalized, nil
}

func validateRelevance(r float64) error {
	if math.IsNaN(r) || r < 0 || r > MaxRelevance {
		return invalid("relevance", "must be within 0-%g, got %v", MaxRelevance, r)
	}
	return nil
}

// Prepare validates m and fills defaults: a new id, the current time, and
// normalized tags. The returned copy is what gets stored.
func Prepare(m Memory, now time.Time) (Memory, error) {
	m.Summary = strings.TrimSpace(m.Summary)
	if m.Summary == "" {
		return Memory{}, invalid("summary", "must not be empty")
	}
	tags, err := validateTags(m.Tags)
	if err != nil {
		return Memory{}, err
	}
	m.Tags = tags
	if err := validateRelevance(m.Relevance); err != nil {
		return Memory{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.MetaTags = NormalizeTags(m.MetaTags)
	return m, nil
}

// PreparePerformer is Prepare for performer-scoped memories.
func PreparePerformer(m PerformerMemory, now time.Time) (PerformerMemory, error) {
	m.PerformerID = strings.TrimSpace(m.PerformerID)
	if m.PerformerID == "" {
		return PerformerMemory{}, invalid("performerId", "must not be empty")
	}
	m.Summary = strings.TrimSpace(m.Summary)
	if m.Summary == "" {
		return PerformerMemory{}, invalid("summary", "must not be empty")
	}
	tags, err := validateTags(m.Tags)
	if err != nil {
		return PerformerMemory{}, err
	}
	m.Tags = tags
	if err := validateRelevance(m.Relevance); err != nil {
		return PerformerMemory{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.MetaTags = NormalizeTags(m.MetaTags)
	return m, nil
}

// ClampRelevance bounds r to 0..MaxRelevance. NaN becomes 0.
func ClampRelevance(r float64) float64 {
	switch {
	case math.IsNaN(r) || r < 0:
		return 0
	case r > MaxRelevance:
		return MaxRelevance
	default:
		return r
	}
}
