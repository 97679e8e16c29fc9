package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Ledger database
	DBPath string

	// Auth
	APIKey string

	// Enrichment service (OpenAI-compatible)
	EnrichBaseURL string
	EnrichAPIKey  string
	EnrichModel   string

	// Enrichment pool
	EnrichWorkers           int
	EnrichRequestsPerSecond float64
	EnrichMaxAttempts       int
	EnrichCallTimeout       time.Duration

	// Jobs
	JobTimeout time.Duration

	// Artifact cache
	CacheMaxEntries int
	CacheTTL        time.Duration

	// Upload limits
	MaxUploadBytes int64
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		DBPath: envOr("DB_PATH", "bookforge.db"),

		APIKey: os.Getenv("BOOKFORGE_API_KEY"),

		EnrichBaseURL: envOr("ENRICH_BASE_URL", "https://api.openai.com"),
		EnrichAPIKey:  os.Getenv("ENRICH_API_KEY"),
		EnrichModel:   envOr("ENRICH_MODEL", "gpt-4o-mini"),

		EnrichWorkers:           envInt("ENRICH_WORKERS", 4),
		EnrichRequestsPerSecond: envFloat("ENRICH_REQUESTS_PER_SECOND", 2),
		EnrichMaxAttempts:       envInt("ENRICH_MAX_ATTEMPTS", 4),
		EnrichCallTimeout:       envDuration("ENRICH_CALL_TIMEOUT", 2*time.Minute),

		JobTimeout: envDuration("JOB_TIMEOUT", 1*time.Hour),

		CacheMaxEntries: envInt("CACHE_MAX_ENTRIES", 1024),
		CacheTTL:        envDuration("CACHE_TTL", 24*time.Hour),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB
	}

	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 4
	}
	if cfg.EnrichRequestsPerSecond <= 0 {
		cfg.EnrichRequestsPerSecond = 2
	}
	if cfg.EnrichMaxAttempts <= 0 {
		cfg.EnrichMaxAttempts = 4
	}
	if cfg.EnrichCallTimeout <= 0 {
		cfg.EnrichCallTimeout = 2 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 1 * time.Hour
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("BOOKFORGE_API_KEY is required")
	}
	if c.EnrichAPIKey == "" {
		return fmt.Errorf("ENRICH_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
