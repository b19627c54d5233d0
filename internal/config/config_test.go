package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/formsync/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/formsync")
	t.Setenv("PROVIDER_API_KEY", "abc123-us6")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueBackend != config.BackendPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.QueueBackend)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.MaxBatchOperations != 500 {
		t.Fatalf("expected MaxBatchOperations=500, got %d", cfg.MaxBatchOperations)
	}
	if cfg.PollDelay != 60*time.Second {
		t.Fatalf("expected PollDelay=60s, got %s", cfg.PollDelay)
	}
	if cfg.RetentionWindow != 30*24*time.Hour {
		t.Fatalf("expected 30 day retention, got %s", cfg.RetentionWindow)
	}
	if cfg.DrainSchedule != "@every 5m" {
		t.Fatalf("expected 5 minute drain schedule, got %q", cfg.DrainSchedule)
	}
	if cfg.MaxResultBytes != 256<<20 {
		t.Fatalf("expected 256 MiB result ceiling, got %d", cfg.MaxResultBytes)
	}
	if cfg.ProviderBaseURL != "https://us6.api.mailchimp.com/3.0" {
		t.Fatalf("unexpected derived base URL %q", cfg.ProviderBaseURL)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUEUE_BACKEND", "postgres")

	_, err := config.Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoad_MemoryBackendNeedsNoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUEUE_BACKEND", "memory")

	if _, err := config.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"batch size above provider limit", "MAX_BATCH_OPERATIONS", "501"},
		{"zero attempts", "MAX_ATTEMPTS", "0"},
		{"unknown backend", "QUEUE_BACKEND", "sqlite"},
		{"unknown rate limit backend", "RATE_LIMIT_BACKEND", "memcached"},
		{"negative poll cap", "MAX_POLL_DURATION", "-1s"},
		{"zero result ceiling", "MAX_RESULT_BYTES", "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("QUEUE_BACKEND", "memory")
			t.Setenv(tc.key, tc.value)
			if _, err := config.Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestBaseURLFromAPIKey(t *testing.T) {
	tests := map[string]string{
		"0123456789abcdef-us21": "https://us21.api.mailchimp.com/3.0",
		"nodatacenter":          "https://us1.api.mailchimp.com/3.0",
		"trailing-":             "https://us1.api.mailchimp.com/3.0",
	}
	for key, want := range tests {
		if got := config.BaseURLFromAPIKey(key); got != want {
			t.Fatalf("%q: expected %q, got %q", key, want, got)
		}
	}
}
