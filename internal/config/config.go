// Package config provides configuration loading and structs for the Kiji server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names for secrets and overrides.
const (
	EnvConfigPath   = "KIJI_CONFIG"
	EnvOpenAIKey    = "KIJI_OPENAI_API_KEY"
	EnvQdrantKey    = "KIJI_QDRANT_API_KEY"
	EnvQdrantURL    = "KIJI_QDRANT_URL"
	EnvDatabasePath = "KIJI_DATABASE_PATH"
)

// Duration wraps time.Duration so YAML values like "24h" or "1500ms" parse directly.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Chat      ChatConfig      `yaml:"chat"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the article archive and the ingest spool directory.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	SpoolDir     string `yaml:"spool_dir"`
}

// EmbeddingConfig holds settings for the remote embedding provider.
type EmbeddingConfig struct {
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"-"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	BatchSize  int      `yaml:"batch_size"`
	BatchDelay Duration `yaml:"batch_delay"`
}

// LLMConfig holds settings for the generative model provider.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"-"`
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     Duration `yaml:"timeout"`
}

// QdrantConfig holds vector index service settings.
type QdrantConfig struct {
	URL        string   `yaml:"url"`
	APIKey     string   `yaml:"-"`
	Collection string   `yaml:"collection"`
	Timeout    Duration `yaml:"timeout"`
}

// ChatConfig holds retrieval and conversation settings.
type ChatConfig struct {
	TopK           int      `yaml:"top_k"`
	ScoreThreshold float64  `yaml:"score_threshold"`
	HistoryLimit   int      `yaml:"history_limit"`
	SessionTTL     Duration `yaml:"session_ttl"`
	MessageTTL     Duration `yaml:"message_ttl"`
}

// IngestConfig holds article acquisition settings.
type IngestConfig struct {
	Feeds            []string `yaml:"feeds"`
	SitemapPageLimit int      `yaml:"sitemap_page_limit"`
	PayloadMaxChars  int      `yaml:"payload_max_chars"`
}

// Load reads and parses the config file at path, applies defaults, expands
// paths, and applies environment overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Storage.SpoolDir != "" {
		cfg.Storage.SpoolDir = expandPath(cfg.Storage.SpoolDir, configDir)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

// Default returns a configuration with all defaults and environment
// overrides applied, for running without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.applyEnvOverrides()
	return &cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.Embedding.APIKey = v
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvQdrantKey); v != "" {
		c.Qdrant.APIKey = v
	}
	if v := os.Getenv(EnvQdrantURL); v != "" {
		c.Qdrant.URL = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Storage.DatabasePath = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
