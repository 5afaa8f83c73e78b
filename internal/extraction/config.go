package extraction

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 2
	defaultBaseBackoff = 1 * time.Second
	defaultMaxTokens   = 2048
	defaultTemperature = 0.2

	// 50 requests per minute per credential.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5

	defaultMaxSnippetChars = 4000
	defaultMaxClients      = 25
	defaultMaxPerformers   = 25
	defaultMaxKnowledge    = 40
)

// Config tunes providers and prompt construction.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	RateLimit   float64
	RateBurst   int
	MaxTokens   int
	Temperature float32

	// Prompt bounds.
	MaxSnippetChars int
	MaxClients      int
	MaxPerformers   int
	MaxKnowledge    int

	ScrubSecrets bool
}

// DefaultConfig returns the standard extraction settings.
func DefaultConfig() Config {
	return Config{
		Timeout:         defaultTimeout,
		MaxRetries:      defaultMaxRetries,
		BaseBackoff:     defaultBaseBackoff,
		RateLimit:       defaultRateLimit,
		RateBurst:       defaultBurst,
		MaxTokens:       defaultMaxTokens,
		Temperature:     defaultTemperature,
		MaxSnippetChars: defaultMaxSnippetChars,
		MaxClients:      defaultMaxClients,
		MaxPerformers:   defaultMaxPerformers,
		MaxKnowledge:    defaultMaxKnowledge,
		ScrubSecrets:    true,
	}
}

// FromConfig maps the extraction config section onto a Config. MaxRetries is
// taken as is so that an explicit zero disables retries.
func FromConfig(c config.ExtractionConfig) Config {
	cfg := DefaultConfig()
	if d := c.Timeout.Duration(); d > 0 {
		cfg.Timeout = d
	}
	if c.MaxRetries >= 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.RateLimit > 0 {
		cfg.RateLimit = c.RateLimit
	}
	if c.RateBurst > 0 {
		cfg.RateBurst = c.RateBurst
	}
	if c.MaxTokens > 0 {
		cfg.MaxTokens = c.MaxTokens
	}
	if c.MaxSnippetChars > 0 {
		cfg.MaxSnippetChars = c.MaxSnippetChars
	}
	if c.MaxClients > 0 {
		cfg.MaxClients = c.MaxClients
	}
	if c.MaxPerformers > 0 {
		cfg.MaxPerformers = c.MaxPerformers
	}
	if c.MaxKnowledge > 0 {
		cfg.MaxKnowledge = c.MaxKnowledge
	}
	cfg.ScrubSecrets = c.ScrubSecrets
	return cfg
}
