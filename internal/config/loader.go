package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping them to keys.
	EnvPrefix = "MEMORYD_"

	appDirName = "memoryd"
)

// Load loads configuration from the file at configPath (YAML, or TOML when
// the extension is .toml), then applies MEMORYD_* environment overrides,
// defaults and validation.
//
// Precedence, highest first:
//  1. Environment variables (MEMORYD_SERVER_HTTP_PORT, MEMORYD_EXTRACTION_API_KEY, ...)
//  2. Config file (default ~/.config/memoryd/config.yaml)
//  3. Defaults
//
// The config file must live under ~/.config/memoryd/ or /etc/memoryd/, have
// 0600 or 0400 permissions and be at most 1MB. A missing file is not an error.
//
// Environment variables map onto keys by splitting on the first underscore
// after the prefix:
//
//	MEMORYD_SERVER_HTTP_PORT     -> server.http_port
//	MEMORYD_EXTRACTION_API_KEY   -> extraction.api_key
//	MEMORYD_EVENTS_NATS_URL      -> events.nats_url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", appDirName, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}

		var parser koanf.Parser = yaml.Parser()
		if strings.EqualFold(filepath.Ext(configPath), ".toml") {
			parser = TOMLParser()
		}
		if err := k.Load(rawbytes.Provider(content), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg, k)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps MEMORYD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates the open descriptor to
// avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/memoryd with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", appDirName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// The file may not exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", appDirName),
		filepath.Join("/etc", appDirName),
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDirName, appDirName)
}

// validateConfigFileProperties checks permissions and size of an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills unset fields. Booleans whose default is true are only
// defaulted when the key was absent from every source.
func applyDefaults(cfg *Config, k *koanf.Koanf) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", appDirName)

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Storage
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dataDir, "memoryd.db")
	}

	// Selector
	s := &cfg.Selector
	if s.Limit == 0 {
		s.Limit = 10
	}
	if s.MaxKeywords == 0 {
		s.MaxKeywords = 12
	}
	if s.MaxHistoryTags == 0 {
		s.MaxHistoryTags = 12
	}
	if s.HistoryTurns == 0 {
		s.HistoryTurns = 12
	}
	if s.MinKeywordLength == 0 {
		s.MinKeywordLength = 4
	}
	if s.MaxPrioritizedTags == 0 {
		s.MaxPrioritizedTags = 10
	}
	if s.PrimerTagsPerLine == 0 {
		s.PrimerTagsPerLine = 4
	}
	if s.RelevanceWeight == 0 {
		s.RelevanceWeight = 2
	}
	if s.PrioritizedBonus == 0 {
		s.PrioritizedBonus = 8
	}
	if s.TagScoreWeight == 0 {
		s.TagScoreWeight = 0.6
	}
	if s.KeywordBonus == 0 {
		s.KeywordBonus = 2
	}

	// Extraction
	e := &cfg.Extraction
	if !k.Exists("extraction.enabled") {
		e.Enabled = len(e.AllCredentials()) > 0
	}
	if e.Provider == "" {
		e.Provider = "openai"
	}
	if e.Timeout == 0 {
		e.Timeout = Duration(60 * time.Second)
	}
	if !k.Exists("extraction.max_retries") {
		e.MaxRetries = 2
	}
	if e.RateLimit == 0 {
		e.RateLimit = 50.0 / 60.0
	}
	if e.RateBurst == 0 {
		e.RateBurst = 5
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 2048
	}
	if e.MaxSnippetChars == 0 {
		e.MaxSnippetChars = 4000
	}
	if e.MaxClients == 0 {
		e.MaxClients = 25
	}
	if e.MaxPerformers == 0 {
		e.MaxPerformers = 25
	}
	if e.MaxKnowledge == 0 {
		e.MaxKnowledge = 40
	}
	if !k.Exists("extraction.scrub_secrets") {
		e.ScrubSecrets = true
	}
	if e.ProcessingTimeout == 0 {
		e.ProcessingTimeout = Duration(2 * time.Minute)
	}

	// Router
	if !k.Exists("router.audit_enabled") {
		cfg.Router.AuditEnabled = true
	}

	// Events
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "memoryd.events"
	}

	// Knowledge
	if cfg.Knowledge.Neo4jDatabase == "" {
		cfg.Knowledge.Neo4jDatabase = "neo4j"
	}

	// Recall
	if cfg.Recall.Path == "" {
		cfg.Recall.Path = filepath.Join(dataDir, "recall")
	}
	if cfg.Recall.Collection == "" {
		cfg.Recall.Collection = "memories"
	}
	if cfg.Recall.EmbeddingModel == "" {
		cfg.Recall.EmbeddingModel = "nomic-embed-text"
	}

	// Scheduler
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "*/15 * * * *"
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 20
	}
	if !k.Exists("scheduler.max_attempts") {
		cfg.Scheduler.MaxAttempts = 3
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if !k.Exists("logging.sampling") {
		cfg.Logging.Sampling = true
	}

	// Telemetry
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = appDirName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if !k.Exists("telemetry.sample_rate") {
		cfg.Telemetry.SampleRate = 1.0
	}
	if !k.Exists("telemetry.insecure") {
		cfg.Telemetry.Insecure = true
	}
}
