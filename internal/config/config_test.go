package config

import (
	"testing"
	"time"
)

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg := &Config{MockUpstream: true, UpstreamRetryAttempts: 3}
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty JWT secret accepted")
	}
}

func TestValidateRequiresAPIKeyWithoutMock(t *testing.T) {
	cfg := &Config{JWTSecret: "secret", UpstreamRetryAttempts: 3}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing API key accepted without mock upstream")
	}

	cfg.MockUpstream = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("mock upstream config rejected: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MOCK_UPSTREAM", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("default port = %s", cfg.Port)
	}
	if cfg.UpstreamRetryAttempts != 3 {
		t.Errorf("default retry attempts = %d", cfg.UpstreamRetryAttempts)
	}
	if cfg.UpstreamRetryBase != 500*time.Millisecond {
		t.Errorf("default retry base = %s", cfg.UpstreamRetryBase)
	}
	if cfg.MongoDatabase != "storyteller" {
		t.Errorf("default database = %s", cfg.MongoDatabase)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MOCK_UPSTREAM", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("UPSTREAM_RETRY_ATTEMPTS", "5")
	t.Setenv("UPSTREAM_RETRY_BASE", "250ms")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.UpstreamRetryAttempts != 5 || cfg.RedisDB != 2 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.UpstreamRetryBase != 250*time.Millisecond {
		t.Errorf("retry base = %s", cfg.UpstreamRetryBase)
	}
}
