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
	Server   ServerConfig
	Database DatabaseConfig
	Loader   LoaderConfig
	Export   ExportConfig
	History  HistoryConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings. Persistence is
// disabled when URL is empty.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// LoaderConfig holds patient CSV loading settings.
type LoaderConfig struct {
	// MaxFileSize is the maximum accepted request body in bytes (default: 100MB)
	MaxFileSize int64 `env:"LOADER_MAX_FILE_SIZE" default:"104857600"`

	// Workers > 1 maps rows in parallel (default: 1)
	Workers int `env:"LOADER_WORKERS" default:"1"`

	// ChunkSize is the number of rows per parallel batch (default: 1000)
	ChunkSize int `env:"LOADER_CHUNK_SIZE" default:"1000"`

	// FailFast aborts a load on the first malformed row (default: false)
	FailFast bool `env:"LOADER_FAIL_FAST" default:"false"`

	// DateMode is calendar or legacy-minutes (default: calendar)
	DateMode string `env:"LOADER_DATE_MODE" default:"calendar"`

	// Codec is json or r4 (default: json)
	Codec string `env:"LOADER_CODEC" default:"json"`

	// MaxConcurrent is the maximum number of loads processed at once (default: 5)
	MaxConcurrent int `env:"LOADER_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a load slot (default: 30s)
	MaxWaitTime time.Duration `env:"LOADER_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single load (default: 5m)
	Timeout time.Duration `env:"LOADER_TIMEOUT" default:"5m"`
}

// ExportConfig holds settings for pushing patients to a FHIR server.
// Export is disabled when ServerURL is empty.
type ExportConfig struct {
	// ServerURL is the FHIR base URL, e.g. https://fhir.example.org/fhir
	ServerURL string `env:"FHIR_SERVER_URL"`

	// RetryMax is the number of retries per request (default: 3)
	RetryMax int `env:"FHIR_EXPORT_RETRIES" default:"3"`

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration `env:"FHIR_EXPORT_TIMEOUT" default:"30s"`

	// BatchSize is the number of patients per transaction bundle (default: 100)
	BatchSize int `env:"FHIR_EXPORT_BATCH_SIZE" default:"100"`

	// BearerToken is sent as the Authorization header when set
	BearerToken string `env:"FHIR_SERVER_TOKEN"`
}

// Enabled reports whether a FHIR server is configured.
func (c ExportConfig) Enabled() bool { return c.ServerURL != "" }

// HistoryConfig holds load history retention settings.
type HistoryConfig struct {
	// Retention is how long load history is kept; 0 keeps it forever (default: 720h)
	Retention time.Duration `env:"LOAD_HISTORY_RETENTION" default:"720h"`

	// PruneInterval is how often old history is pruned (default: 24h)
	PruneInterval time.Duration `env:"LOAD_HISTORY_PRUNE_INTERVAL" default:"24h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// LoadLimit is requests per minute for the load endpoint (default: 10)
	LoadLimit int `env:"RATE_LIMIT_LOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
