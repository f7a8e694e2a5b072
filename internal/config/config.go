// Package config loads the typed server configuration from environment
// variables, with an optional .env file for development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the server needs at startup. Built once in main
// and passed down; components never read the environment themselves.
type Config struct {
	Port      string
	JWTSecret string

	// Upstream conversation service. MockUpstream swaps in the in-process
	// mock for development without an API key.
	OpenAIAPIKey  string
	RealtimeModel string
	RealtimeURL   string
	MockUpstream  bool

	// Empty MongoURI runs on in-memory stores and the seeded catalog.
	MongoURI      string
	MongoDatabase string

	// Empty RedisAddr falls back to the in-process session cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UpstreamRetryAttempts int
	UpstreamRetryBase     time.Duration
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		RealtimeModel:         os.Getenv("OPENAI_REALTIME_MODEL"),
		RealtimeURL:           os.Getenv("OPENAI_REALTIME_URL"),
		MockUpstream:          getEnvBool("MOCK_UPSTREAM", false),
		MongoURI:              os.Getenv("MONGODB_URI"),
		MongoDatabase:         getEnv("MONGODB_DATABASE", "storyteller"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		UpstreamRetryAttempts: getEnvInt("UPSTREAM_RETRY_ATTEMPTS", 3),
		UpstreamRetryBase:     getEnvDuration("UPSTREAM_RETRY_BASE", 500*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the required fields at startup rather than at use.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if !c.MockUpstream && c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required unless MOCK_UPSTREAM=true")
	}
	if c.UpstreamRetryAttempts < 1 {
		return fmt.Errorf("UPSTREAM_RETRY_ATTEMPTS must be at least 1, got %d", c.UpstreamRetryAttempts)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
