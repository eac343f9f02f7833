package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port      int
	DBPath    string
	ImageDir  string
	LogLevel  string
	APIKey    string
	BlockFile string
	// Capture
	CaptureEnabled     bool
	CaptureIntervalMs  int
	IdleThresholdMs    int64
	DedupThreshold     int
	// AI endpoints (OpenAI-compatible)
	VisionEndpoint  string
	VisionModel     string
	VisionAPIKey    string
	ChatEndpoint    string
	ChatModel       string
	ChatAPIKey      string
	EmbedEndpoint   string
	EmbedModel      string
	EmbedAPIKey     string
	EmbeddingDim    int
	// Analysis scheduler
	AnalysisIntervalSec int
	AnalysisBatchSize   int
	AnalysisConcurrency int
	AnalysisMaxAttempts int
	// Session clustering
	SessionGapMs           int64
	SessionSimThreshold    float64
	SessionMaxActive       int
	SessionContextMaxBytes int
	// Summarizer
	SummaryIntervalMin int
	SummaryMinTraces   int
	DailyRollupHour    int
	// Search
	SearchCandidates  int
	DefaultMaxResults int
	// Chat
	ChatContextTokens int
	ChatHistoryLimit  int
	// Retention
	HotDataDays          int
	WarmDataDays         int
	RetentionIntervalMin int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:      envInt("PORT", 8674),
		DBPath:    envStr("ENGRAM_DB_PATH", "/data/engram.db"),
		ImageDir:  envStr("ENGRAM_IMAGE_DIR", "/data/screenshots"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		APIKey:    envStr("API_KEY", ""),
		BlockFile: envStr("BLOCKLIST_FILE", ""),

		CaptureEnabled:    envBool("CAPTURE_ENABLED", true),
		CaptureIntervalMs: envInt("CAPTURE_INTERVAL_MS", 2000),
		IdleThresholdMs:   int64(envInt("IDLE_THRESHOLD_MS", 30000)),
		DedupThreshold:    envInt("DEDUP_THRESHOLD", 5),

		VisionEndpoint: envStr("VISION_ENDPOINT", "http://localhost:11434/v1"),
		VisionModel:    envStr("VISION_MODEL", "qwen2.5vl:3b"),
		VisionAPIKey:   envStr("VISION_API_KEY", ""),
		ChatEndpoint:   envStr("CHAT_ENDPOINT", "http://localhost:11434/v1"),
		ChatModel:      envStr("CHAT_MODEL", "qwen2.5:3b"),
		ChatAPIKey:     envStr("CHAT_API_KEY", ""),
		EmbedEndpoint:  envStr("EMBED_ENDPOINT", "http://localhost:11434/v1"),
		EmbedModel:     envStr("EMBED_MODEL", "all-minilm"),
		EmbedAPIKey:    envStr("EMBED_API_KEY", ""),
		EmbeddingDim:   envInt("EMBEDDING_DIM", 384),

		AnalysisIntervalSec: envInt("ANALYSIS_INTERVAL_SEC", 30),
		AnalysisBatchSize:   envInt("ANALYSIS_BATCH_SIZE", 4),
		AnalysisConcurrency: envInt("ANALYSIS_CONCURRENCY", 2),
		AnalysisMaxAttempts: envInt("ANALYSIS_MAX_ATTEMPTS", 3),

		SessionGapMs:           int64(envInt("SESSION_GAP_MS", 300000)),
		SessionSimThreshold:    envFloat("SESSION_SIM_THRESHOLD", 0.6),
		SessionMaxActive:       envInt("SESSION_MAX_ACTIVE", 8),
		SessionContextMaxBytes: envInt("SESSION_CONTEXT_MAX_BYTES", 2000),

		SummaryIntervalMin: envInt("SUMMARY_INTERVAL_MIN", 15),
		SummaryMinTraces:   envInt("SUMMARY_MIN_TRACES", 3),
		DailyRollupHour:    envInt("DAILY_ROLLUP_HOUR", 23),

		SearchCandidates:  envInt("SEARCH_CANDIDATES", 50),
		DefaultMaxResults: envInt("DEFAULT_MAX_RESULTS", 20),

		ChatContextTokens: envInt("CHAT_CONTEXT_TOKENS", 2000),
		ChatHistoryLimit:  envInt("CHAT_HISTORY_LIMIT", 10),

		HotDataDays:          envInt("HOT_DATA_DAYS", 7),
		WarmDataDays:         envInt("WARM_DATA_DAYS", 30),
		RetentionIntervalMin: envInt("RETENTION_INTERVAL_MIN", 60),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("ENGRAM_DB_PATH must not be empty")
	}
	if c.CaptureIntervalMs < 100 {
		return fmt.Errorf("CAPTURE_INTERVAL_MS must be at least 100, got %d", c.CaptureIntervalMs)
	}
	if c.DedupThreshold < 0 || c.DedupThreshold > 64 {
		return fmt.Errorf("DEDUP_THRESHOLD must be between 0 and 64, got %d", c.DedupThreshold)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.AnalysisBatchSize < 1 {
		return fmt.Errorf("ANALYSIS_BATCH_SIZE must be positive, got %d", c.AnalysisBatchSize)
	}
	if c.AnalysisConcurrency < 1 {
		return fmt.Errorf("ANALYSIS_CONCURRENCY must be positive, got %d", c.AnalysisConcurrency)
	}
	if c.SessionSimThreshold < 0 || c.SessionSimThreshold > 1 {
		return fmt.Errorf("SESSION_SIM_THRESHOLD must be in [0,1], got %f", c.SessionSimThreshold)
	}
	if c.SessionMaxActive < 1 {
		return fmt.Errorf("SESSION_MAX_ACTIVE must be positive, got %d", c.SessionMaxActive)
	}
	if c.DailyRollupHour < 0 || c.DailyRollupHour > 23 {
		return fmt.Errorf("DAILY_ROLLUP_HOUR must be in [0,23], got %d", c.DailyRollupHour)
	}
	if c.WarmDataDays < c.HotDataDays {
		return fmt.Errorf("WARM_DATA_DAYS (%d) must be >= HOT_DATA_DAYS (%d)", c.WarmDataDays, c.HotDataDays)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}
