// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Resolver    ResolverConfig
	Batch       BatchConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	History     HistoryConfig
	ObjectStore ObjectStoreConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the optional run history database.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty keeps history in memory.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a history database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// ResolverConfig points at the country resolution service.
type ResolverConfig struct {
	// BaseURL is the service root, e.g. http://localhost:8081 (required)
	BaseURL string `env:"RESOLVER_BASE_URL" required:"true"`

	// Timeout bounds a single HTTP attempt (default: 10s)
	Timeout time.Duration `env:"RESOLVER_TIMEOUT" default:"10s"`

	// RetryMax is retries after the first attempt on 429, 5xx and connection errors (default: 3)
	RetryMax int `env:"RESOLVER_RETRY_MAX" default:"3"`

	RetryWaitMin time.Duration `env:"RESOLVER_RETRY_WAIT_MIN" default:"200ms"`
	RetryWaitMax time.Duration `env:"RESOLVER_RETRY_WAIT_MAX" default:"5s"`

	// RequestsPerSecond throttles calls across all runs; 0 disables (default: 50)
	RequestsPerSecond float64 `env:"RESOLVER_REQUESTS_PER_SECOND" default:"50"`

	// Burst is the throttle's bucket size (default: 10)
	Burst int `env:"RESOLVER_BURST" default:"10"`
}

// BatchConfig holds run processing settings.
type BatchConfig struct {
	// Workers is concurrent resolver calls per run (default: 4)
	Workers int `env:"BATCH_WORKERS" default:"4"`

	// ProgressInterval is completed rows between progress updates (default: 10)
	ProgressInterval int `env:"BATCH_PROGRESS_INTERVAL" default:"10"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"BATCH_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrent is the maximum number of parallel runs (default: 3)
	MaxConcurrent int `env:"BATCH_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"BATCH_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single run (default: 30m)
	Timeout time.Duration `env:"BATCH_TIMEOUT" default:"30m"`

	// ResultTTL is how long finished runs stay in memory (default: 30m)
	ResultTTL time.Duration `env:"BATCH_RESULT_TTL" default:"30m"`

	// DefaultColumn is the query column when a request names none (default: name)
	DefaultColumn string `env:"BATCH_DEFAULT_COLUMN" default:"name"`

	// FallbackColumns are tried in order when the query column is absent
	FallbackColumns []string `env:"BATCH_FALLBACK_COLUMNS" default:"country,Country,country_name,Country Name"`

	// LegacyQuoting writes embedded quotes unescaped in exports (default: false)
	LegacyQuoting bool `env:"BATCH_LEGACY_QUOTING" default:"false"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// RunLimit is requests per minute for run creation (default: 10)
	RunLimit int `env:"RATE_LIMIT_RUNS" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// HistoryConfig holds run history retention settings.
type HistoryConfig struct {
	// RetentionDays is days to keep run records (default: 30)
	RetentionDays int `env:"HISTORY_RETENTION_DAYS" default:"30"`

	// CheckInterval is how often to purge old records (default: 24h)
	CheckInterval time.Duration `env:"HISTORY_CHECK_INTERVAL" default:"24h"`

	// ListLimit caps GET /api/runs (default: 50)
	ListLimit int `env:"HISTORY_LIST_LIMIT" default:"50"`
}

// ObjectStoreConfig holds the optional S3-compatible export store.
type ObjectStoreConfig struct {
	Enabled bool `env:"OBJECT_STORE_ENABLED" default:"false"`

	// Endpoint is host:port without scheme, e.g. localhost:9000
	Endpoint  string `env:"OBJECT_STORE_ENDPOINT"`
	AccessKey string `env:"OBJECT_STORE_ACCESS_KEY"`
	SecretKey string `env:"OBJECT_STORE_SECRET_KEY"`
	Region    string `env:"OBJECT_STORE_REGION" default:"us-east-1"`
	UseSSL    bool   `env:"OBJECT_STORE_USE_SSL" default:"false"`
	Bucket    string `env:"OBJECT_STORE_BUCKET" default:"country-exports"`

	// PresignTTL is how long export links stay valid (default: 15m)
	PresignTTL time.Duration `env:"OBJECT_STORE_PRESIGN_TTL" default:"15m"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
