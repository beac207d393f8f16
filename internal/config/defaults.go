package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kiji/data/kiji.db"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.BaseDelay == 0 {
		cfg.Embedding.BaseDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 5
	}
	if cfg.Embedding.BatchDelay == 0 {
		cfg.Embedding.BatchDelay = Duration(2 * time.Second)
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(120 * time.Second)
	}
	if cfg.Qdrant.URL == "" {
		cfg.Qdrant.URL = "http://localhost:6333"
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "news_articles"
	}
	if cfg.Qdrant.Timeout == 0 {
		cfg.Qdrant.Timeout = Duration(15 * time.Second)
	}
	if cfg.Chat.TopK == 0 {
		cfg.Chat.TopK = 5
	}
	if cfg.Chat.ScoreThreshold == 0 {
		cfg.Chat.ScoreThreshold = 0.7
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 10
	}
	if cfg.Chat.SessionTTL == 0 {
		cfg.Chat.SessionTTL = Duration(24 * time.Hour)
	}
	if cfg.Chat.MessageTTL == 0 {
		cfg.Chat.MessageTTL = Duration(1 * time.Hour)
	}
	if cfg.Ingest.SitemapPageLimit == 0 {
		cfg.Ingest.SitemapPageLimit = 20
	}
	if cfg.Ingest.PayloadMaxChars == 0 {
		cfg.Ingest.PayloadMaxChars = 1000
	}
}
