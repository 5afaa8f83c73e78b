// Package config provides configuration loading for memoryd.
//
// Configuration is assembled from a YAML or TOML file, overridden by
// MEMORYD_* environment variables, then completed with defaults and validated.
// Every component receives its section explicitly; nothing reads ambient state.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Selector   SelectorConfig   `koanf:"selector"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Router     RouterConfig     `koanf:"router"`
	Events     EventsConfig     `koanf:"events"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"`
	Recall     RecallConfig     `koanf:"recall"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds the sqlite database location.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// SelectorConfig tunes context selection.
type SelectorConfig struct {
	Limit              int     `koanf:"limit"`
	MaxKeywords        int     `koanf:"max_keywords"`
	MaxHistoryTags     int     `koanf:"max_history_tags"`
	HistoryTurns       int     `koanf:"history_turns"`
	MinKeywordLength   int     `koanf:"min_keyword_length"`
	MaxPrioritizedTags int     `koanf:"max_prioritized_tags"`
	PrimerTagsPerLine  int     `koanf:"primer_tags_per_line"`
	RelevanceWeight    float64 `koanf:"relevance_weight"`
	PrioritizedBonus   float64 `koanf:"prioritized_bonus"`
	TagScoreWeight     float64 `koanf:"tag_score_weight"`
	KeywordBonus       float64 `koanf:"keyword_bonus"`
}

// Credential is one API credential for an AI backend.
type Credential struct {
	Provider string `koanf:"provider"`
	APIKey   Secret `koanf:"api_key"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
}

// ExtractionConfig configures the extraction engine and its providers.
//
// Provider/APIKey/Model are a shorthand for a single credential, convenient
// for environment configuration (MEMORYD_EXTRACTION_API_KEY).
type ExtractionConfig struct {
	Enabled           bool         `koanf:"enabled"`
	Provider          string       `koanf:"provider"`
	APIKey            Secret       `koanf:"api_key"`
	Model             string       `koanf:"model"`
	BaseURL           string       `koanf:"base_url"`
	Credentials       []Credential `koanf:"credentials"`
	Timeout           Duration     `koanf:"timeout"`
	MaxRetries        int          `koanf:"max_retries"`
	RateLimit         float64      `koanf:"rate_limit"`
	RateBurst         int          `koanf:"rate_burst"`
	MaxTokens         int          `koanf:"max_tokens"`
	MaxSnippetChars   int          `koanf:"max_snippet_chars"`
	MaxClients        int          `koanf:"max_clients"`
	MaxPerformers     int          `koanf:"max_performers"`
	MaxKnowledge      int          `koanf:"max_knowledge"`
	ScrubSecrets      bool         `koanf:"scrub_secrets"`
	Gitleaks          bool         `koanf:"gitleaks"`
	ProcessingTimeout Duration     `koanf:"processing_timeout"`
}

// AllCredentials returns the configured credentials, including the shorthand one.
func (e ExtractionConfig) AllCredentials() []Credential {
	creds := make([]Credential, 0, len(e.Credentials)+1)
	if e.APIKey.IsSet() {
		creds = append(creds, Credential{
			Provider: e.Provider,
			APIKey:   e.APIKey,
			Model:    e.Model,
			BaseURL:  e.BaseURL,
		})
	}
	creds = append(creds, e.Credentials...)
	return creds
}

// RouterConfig configures the application router.
type RouterConfig struct {
	AuditEnabled bool `koanf:"audit_enabled"`
}

// EventsConfig configures the NATS bridge for change notifications.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Relay         bool   `koanf:"relay"`
}

// KnowledgeConfig configures the optional Neo4j knowledge graph mirror.
type KnowledgeConfig struct {
	Neo4jURI      string `koanf:"neo4j_uri"`
	Neo4jUser     string `koanf:"neo4j_user"`
	Neo4jPassword Secret `koanf:"neo4j_password"`
	Neo4jDatabase string `koanf:"neo4j_database"`
}

// RecallConfig configures the similarity recall index.
type RecallConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Path           string `koanf:"path"`
	Collection     string `koanf:"collection"`
	EmbeddingModel string `koanf:"embedding_model"`
	OllamaURL      string `koanf:"ollama_url"`
	OpenAIKey      Secret `koanf:"openai_key"`
}

// SchedulerConfig configures periodic batch processing of pending memories.
type SchedulerConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Spec      string `koanf:"spec"`
	BatchSize int    `koanf:"batch_size"`

	// MaxAttempts stops retrying a memory after this many failed runs.
	// Zero means no limit.
	MaxAttempts int `koanf:"max_attempts"`
}

// IngestConfig configures the bulk ingestion drop directory.
type IngestConfig struct {
	Dir string `koanf:"dir"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of telemetry settings exposed to users.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	SampleRate     float64 `koanf:"sample_rate"`
}

var validProviders = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"google":     true,
	"anthropic":  true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}

	if c.Selector.Limit <= 0 {
		return fmt.Errorf("selector limit must be positive, got %d", c.Selector.Limit)
	}
	if c.Selector.MaxPrioritizedTags <= 0 {
		return fmt.Errorf("selector max_prioritized_tags must be positive, got %d", c.Selector.MaxPrioritizedTags)
	}

	if c.Extraction.Enabled {
		creds := c.Extraction.AllCredentials()
		if len(creds) == 0 {
			return errors.New("extraction enabled but no credentials configured")
		}
		for i, cred := range creds {
			if !validProviders[strings.ToLower(cred.Provider)] {
				return fmt.Errorf("credential %d: unknown provider %q", i, cred.Provider)
			}
			if !cred.APIKey.IsSet() {
				return fmt.Errorf("credential %d: api_key is required", i)
			}
		}
		if c.Extraction.MaxRetries < 0 {
			return fmt.Errorf("extraction max_retries must be >= 0, got %d", c.Extraction.MaxRetries)
		}
	}

	if c.Scheduler.Enabled {
		if !c.Extraction.Enabled {
			return errors.New("scheduler requires extraction to be enabled")
		}
		if c.Scheduler.Spec == "" {
			return errors.New("scheduler spec is required when scheduler is enabled")
		}
	}

	if c.Knowledge.Neo4jURI != "" && c.Knowledge.Neo4jUser == "" {
		return errors.New("knowledge neo4j_user is required when neo4j_uri is set")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	return nil
}
