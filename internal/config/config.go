package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/notifyhub/formsync/internal/domain"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	RateLimitLocal = "local"
	RateLimitRedis = "redis"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is required only for the
// postgres queue backend.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Queue store
	QueueBackend     string
	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	MigrationsSource string

	// External provider
	ProviderAPIKey  string
	ProviderBaseURL string
	ProviderTimeout time.Duration
	MaxResultBytes  int64

	// Rate limiting shared by submission and status polling
	RateLimitBackend string
	RateLimitPerSec  float64
	RateLimitBurst   int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Dispatch pipeline
	DrainSchedule      string
	DrainPageSize      int
	SubmitConcurrency  int
	MaxBatchOperations int
	MaxAttempts        int
	PollDelay          time.Duration
	MaxPollDuration    time.Duration
	RetentionWindow    time.Duration

	// Raw batch result archive; disabled when ResultsBucket is empty
	ResultsBucket    string
	ResultsPrefix    string
	ResultsRegion    string
	ResultsEndpoint  string
	ResultsPathStyle bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		QueueBackend:     strings.ToLower(getEnv("QUEUE_BACKEND", BackendPostgres)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:       int32(getInt("DB_MIN_CONNS", 2)),
		MigrationsSource: getEnv("MIGRATIONS_SOURCE", "file://migrations"),

		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		ProviderBaseURL: os.Getenv("PROVIDER_BASE_URL"),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		MaxResultBytes:  int64(getInt("MAX_RESULT_BYTES", 256<<20)),

		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", RateLimitLocal)),
		RateLimitPerSec:  getFloat("RATE_LIMIT_PER_SEC", 5),
		RateLimitBurst:   getInt("RATE_LIMIT_BURST", 5),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getInt("REDIS_DB", 0),

		DrainSchedule:      getEnv("DRAIN_SCHEDULE", "@every 5m"),
		DrainPageSize:      getInt("DRAIN_PAGE_SIZE", 1000),
		SubmitConcurrency:  getInt("SUBMIT_CONCURRENCY", 4),
		MaxBatchOperations: getInt("MAX_BATCH_OPERATIONS", domain.MaxBatchOperations),
		MaxAttempts:        getInt("MAX_ATTEMPTS", domain.MaxAttempts),
		PollDelay:          getDuration("POLL_DELAY", 60*time.Second),
		MaxPollDuration:    getDuration("MAX_POLL_DURATION", 0),
		RetentionWindow:    getDuration("RETENTION_WINDOW", 30*24*time.Hour),

		ResultsBucket:    os.Getenv("RESULTS_BUCKET"),
		ResultsPrefix:    getEnv("RESULTS_PREFIX", "batch-results"),
		ResultsRegion:    getEnv("RESULTS_REGION", "us-east-1"),
		ResultsEndpoint:  os.Getenv("RESULTS_ENDPOINT"),
		ResultsPathStyle: getBool("RESULTS_PATH_STYLE", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ProviderBaseURL == "" {
		cfg.ProviderBaseURL = BaseURLFromAPIKey(cfg.ProviderAPIKey)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.QueueBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s queue backend", BackendPostgres)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.QueueBackend)
	}

	switch c.RateLimitBackend {
	case RateLimitLocal, RateLimitRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", RateLimitLocal, RateLimitRedis, c.RateLimitBackend)
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC and RATE_LIMIT_BURST must be positive")
	}

	if c.MaxBatchOperations < 1 || c.MaxBatchOperations > domain.MaxBatchOperations {
		return fmt.Errorf("MAX_BATCH_OPERATIONS must be between 1 and %d", domain.MaxBatchOperations)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	if c.DrainPageSize < 1 || c.SubmitConcurrency < 1 {
		return fmt.Errorf("DRAIN_PAGE_SIZE and SUBMIT_CONCURRENCY must be positive")
	}
	if c.MaxResultBytes < 1 {
		return fmt.Errorf("MAX_RESULT_BYTES must be positive")
	}
	if c.PollDelay <= 0 {
		return fmt.Errorf("POLL_DELAY must be positive")
	}
	if c.MaxPollDuration < 0 || c.RetentionWindow <= 0 {
		return fmt.Errorf("MAX_POLL_DURATION must not be negative and RETENTION_WINDOW must be positive")
	}
	return nil
}

// BaseURLFromAPIKey derives the data-center specific API root from a key of
// the form "<secret>-<dc>". Keys without a suffix fall back to us1.
func BaseURLFromAPIKey(apiKey string) string {
	dc := "us1"
	if i := strings.LastIndex(apiKey, "-"); i >= 0 && i < len(apiKey)-1 {
		dc = apiKey[i+1:]
	}
	return fmt.Sprintf("https://%s.api.mailchimp.com/3.0", dc)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
