package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8090" {
		t.Errorf("expected default port 8090, got %q", cfg.Port)
	}
	if cfg.EnrichWorkers != 4 {
		t.Errorf("expected 4 enrich workers, got %d", cfg.EnrichWorkers)
	}
	if cfg.JobTimeout != time.Hour {
		t.Errorf("expected 1h job timeout, got %v", cfg.JobTimeout)
	}
	if cfg.CacheMaxEntries != 1024 {
		t.Errorf("expected 1024 cache entries, got %d", cfg.CacheMaxEntries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENRICH_WORKERS", "8")
	t.Setenv("ENRICH_REQUESTS_PER_SECOND", "0.5")
	t.Setenv("JOB_TIMEOUT", "30m")
	t.Setenv("ENRICH_MAX_ATTEMPTS", "-2")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("expected port 9000, got %q", cfg.Port)
	}
	if cfg.EnrichWorkers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.EnrichWorkers)
	}
	if cfg.EnrichRequestsPerSecond != 0.5 {
		t.Errorf("expected 0.5 rps, got %f", cfg.EnrichRequestsPerSecond)
	}
	if cfg.JobTimeout != 30*time.Minute {
		t.Errorf("expected 30m timeout, got %v", cfg.JobTimeout)
	}
	if cfg.EnrichMaxAttempts != 4 {
		t.Errorf("expected nonpositive attempts to fall back to 4, got %d", cfg.EnrichMaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing API keys")
	}
	cfg.APIKey = "a"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing enrichment key")
	}
	cfg.EnrichAPIKey = "b"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
