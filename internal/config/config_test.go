package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "HEALTH_PORT", "LOG_LEVEL", "LOG_FORMAT", "UPLOAD_DIR", "CHUNK_SIZE",
		"FETCH_TIMEOUT", "ARTICLE_MAX_CHARS", "SESSION_PROVIDER", "SESSION_TTL", "QUEUE_PROVIDER",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"HealthPort", cfg.HealthPort, 8081},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"UploadDir", cfg.UploadDir, "uploads"},
		{"ChunkSize", cfg.ChunkSize, 5000},
		{"FetchTimeout", cfg.FetchTimeout, 10 * time.Second},
		{"ArticleMaxChars", cfg.ArticleMaxChars, 8000},
		{"SessionProvider", cfg.SessionProvider, "memory"},
		{"SessionTTL", cfg.SessionTTL, 336 * time.Hour},
		{"QueueProvider", cfg.QueueProvider, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("FETCH_TIMEOUT", "3s")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.ChunkSize != 100 {
		t.Errorf("expected chunk size 100, got %d", cfg.ChunkSize)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Errorf("expected fetch timeout 3s, got %s", cfg.FetchTimeout)
	}
}

func TestLoadProviderOverrides(t *testing.T) {
	t.Setenv("SESSION_PROVIDER", "redis")
	t.Setenv("QUEUE_PROVIDER", "nats")

	cfg := Load()

	if cfg.SessionProvider != "redis" {
		t.Errorf("expected session provider 'redis', got %s", cfg.SessionProvider)
	}
	if cfg.QueueProvider != "nats" {
		t.Errorf("expected queue provider 'nats', got %s", cfg.QueueProvider)
	}
}
