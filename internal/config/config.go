// Package config provides configuration for the assistant service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Inference backend
	LiteLLMURL    string
	LiteLLMAPIKey string
	Mode          string
	LLMTimeout    time.Duration

	// Runs
	RequiresActionTimeout time.Duration
	ExpirySweepInterval   time.Duration
	StreamBufferSize      int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:           getEnv("DATABASE_URL", "file:assistant.db?cache=shared&mode=rwc"),
		LiteLLMURL:            getEnv("LITELLM_URL", "http://localhost:4000"),
		LiteLLMAPIKey:         getEnv("LITELLM_API_KEY", ""),
		Mode:                  getEnv("GOGO_MODE", ""),
		LLMTimeout:            time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		RequiresActionTimeout: time.Duration(getEnvInt("REQUIRES_ACTION_TIMEOUT_MS", 600000)) * time.Millisecond,
		ExpirySweepInterval:   time.Duration(getEnvInt("EXPIRY_SWEEP_INTERVAL_MS", 1000)) * time.Millisecond,
		StreamBufferSize:      getEnvInt("STREAM_BUFFER_SIZE", 64),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}
	if cfg.StreamBufferSize < 1 {
		cfg.StreamBufferSize = 1
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
