package selector

import "github.com/fyrsmithlabs/memoryd/internal/config"

// Config tunes keyword extraction, tag prioritization and scoring.
type Config struct {
	// Limit is the default number of memories returned.
	Limit int

	// MaxKeywords caps utterance keywords; MaxHistoryTags caps tags taken
	// from the last HistoryTurns turns.
	MaxKeywords    int
	MaxHistoryTags int
	HistoryTurns   int

	// MinKeywordLength is the minimum rune length of an utterance keyword.
	MinKeywordLength int

	MaxPrioritizedTags int
	PrimerTagsPerLine  int

	RelevanceWeight  float64
	PrioritizedBonus float64
	TagScoreWeight   float64
	KeywordBonus     float64
}

// DefaultConfig returns the standard selection parameters.
func DefaultConfig() Config {
	return Config{
		Limit:              10,
		MaxKeywords:        12,
		MaxHistoryTags:     12,
		HistoryTurns:       12,
		MinKeywordLength:   4,
		MaxPrioritizedTags: 10,
		PrimerTagsPerLine:  4,
		RelevanceWeight:    2,
		PrioritizedBonus:   8,
		TagScoreWeight:     0.6,
		KeywordBonus:       2,
	}
}

// FromConfig builds a Config from the selector section. Zero values fall back
// to DefaultConfig.
func FromConfig(c config.SelectorConfig) Config {
	cfg := DefaultConfig()
	setInt(&cfg.Limit, c.Limit)
	setInt(&cfg.MaxKeywords, c.MaxKeywords)
	setInt(&cfg.MaxHistoryTags, c.MaxHistoryTags)
	setInt(&cfg.HistoryTurns, c.HistoryTurns)
	setInt(&cfg.MinKeywordLength, c.MinKeywordLength)
	setInt(&cfg.MaxPrioritizedTags, c.MaxPrioritizedTags)
	setInt(&cfg.PrimerTagsPerLine, c.PrimerTagsPerLine)
	setFloat(&cfg.RelevanceWeight, c.RelevanceWeight)
	setFloat(&cfg.PrioritizedBonus, c.PrioritizedBonus)
	setFloat(&cfg.TagScoreWeight, c.TagScoreWeight)
	setFloat(&cfg.KeywordBonus, c.KeywordBonus)
	return cfg
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}
