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
	Server         ServerConfig
	Database       DatabaseConfig
	Rate           RateLimitConfig
	Security       SecurityConfig
	Logging        LoggingConfig
	AutoCollection AutoCollectionConfig
	RealTimeSync   RealTimeSyncConfig
	SmartMapping   SmartMappingConfig
	Workflows      WorkflowConfig
	Sources        SourcesConfig
	ObjectStore    ObjectStoreConfig
	Sync           SyncConfig
	Redis          RedisConfig
	PubSub         PubSubConfig
	Tracing        TracingConfig
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

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty keeps the pending-sync
	// queue in memory. Supports both DATABASE_URL and DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// WorkflowLimit is requests per minute for workflow endpoints (default: 20)
	WorkflowLimit int `env:"RATE_LIMIT_WORKFLOW" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// AutoCollectionConfig selects the sources polled for new documents.
type AutoCollectionConfig struct {
	// Sources is a comma-separated list of source types (default: none)
	Sources []string `env:"AUTO_COLLECTION_SOURCES"`

	// PollInterval is how often watched sources are listed (default: 30s)
	PollInterval time.Duration `env:"AUTO_COLLECTION_POLL_INTERVAL" default:"30s"`
}

// RealTimeSyncConfig configures the reconciliation loop.
type RealTimeSyncConfig struct {
	Enabled            bool          `env:"REALTIME_SYNC_ENABLED" default:"true"`
	Interval           time.Duration `env:"REALTIME_SYNC_INTERVAL" default:"30s"`
	BatchSize          int           `env:"REALTIME_SYNC_BATCH_SIZE" default:"50"`
	RetryAttempts      int           `env:"REALTIME_SYNC_RETRY_ATTEMPTS" default:"3"`
	ConflictResolution string        `env:"REALTIME_SYNC_CONFLICT_RESOLUTION" default:"smart"`
}

// SmartMappingConfig holds the mapping accuracy target.
type SmartMappingConfig struct {
	Accuracy float64 `env:"SMART_MAPPING_ACCURACY" default:"0.95"`
}

// WorkflowConfig holds workflow toggles and per-run defaults.
type WorkflowConfig struct {
	AutoCollection  bool          `env:"WORKFLOW_AUTO_COLLECTION" default:"true"`
	DataEntry       bool          `env:"WORKFLOW_DATA_ENTRY" default:"true"`
	Reconciliation  bool          `env:"WORKFLOW_RECONCILIATION" default:"true"`
	BatchSize       int           `env:"WORKFLOW_BATCH_SIZE" default:"25"`
	ValidationLevel string        `env:"WORKFLOW_VALIDATION_LEVEL" default:"strict"`
	MaxConcurrent   int           `env:"WORKFLOW_MAX_CONCURRENT" default:"5"`
	BatchPause      time.Duration `env:"WORKFLOW_BATCH_PAUSE" default:"100ms"`
	HistorySize     int           `env:"WORKFLOW_HISTORY_SIZE" default:"100"`

	// RuleCheckInterval is how often automation rules are checked (default: 10s)
	RuleCheckInterval time.Duration `env:"WORKFLOW_RULE_CHECK_INTERVAL" default:"10s"`
}

// SourcesConfig configures the folder document sources. Each directory is
// registered under the source type named in its variable; empty skips it.
type SourcesConfig struct {
	EmailDir  string `env:"SOURCE_EMAIL_DIR"`
	FolderDir string `env:"SOURCE_FOLDER_DIR"`
	BankDir   string `env:"SOURCE_BANK_DIR"`
}

// ObjectStoreConfig configures the S3-compatible document inbox.
// An empty endpoint disables it.
type ObjectStoreConfig struct {
	Endpoint   string `env:"OBJECT_STORE_ENDPOINT" envAlt:"MINIO_ENDPOINT"`
	AccessKey  string `env:"OBJECT_STORE_ACCESS_KEY" envAlt:"MINIO_ACCESS_KEY"`
	SecretKey  string `env:"OBJECT_STORE_SECRET_KEY" envAlt:"MINIO_SECRET_KEY"`
	Bucket     string `env:"OBJECT_STORE_BUCKET" default:"ledger-inbox"`
	Prefix     string `env:"OBJECT_STORE_PREFIX" default:"inbox/"`
	UseSSL     bool   `env:"OBJECT_STORE_USE_SSL" default:"false"`
	SourceType string `env:"OBJECT_STORE_SOURCE_TYPE" default:"api"`
}

// SyncConfig configures the destination ledger client.
type SyncConfig struct {
	// BaseURL of the ledger bridge service (required)
	BaseURL      string        `env:"SYNC_BASE_URL" required:"true"`
	APIKey       string        `env:"SYNC_API_KEY"`
	APIKeyHeader string        `env:"SYNC_API_KEY_HEADER" default:"X-API-Key"`
	Company      string        `env:"SYNC_COMPANY"`
	Timeout      time.Duration `env:"SYNC_TIMEOUT" default:"30s"`
	RatePerMin   int           `env:"SYNC_RATE_PER_MINUTE" default:"0"`
}

// RedisConfig enables the distributed reconciliation lock.
// An empty address keeps the lock in process.
type RedisConfig struct {
	Address  string        `env:"REDIS_ADDRESS"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" default:"0"`
	LockKey  string        `env:"REDIS_LOCK_KEY" default:"ledgersync:reconcile"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" default:"2m"`
}

// PubSubConfig configures event forwarding to Google Cloud Pub/Sub.
// An empty topic disables it.
type PubSubConfig struct {
	ProjectID       string   `env:"PUBSUB_PROJECT_ID" envAlt:"GOOGLE_CLOUD_PROJECT"`
	Topic           string   `env:"PUBSUB_TOPIC"`
	CredentialsJSON string   `env:"PUBSUB_CREDENTIALS_JSON"`
	CreateTopic     bool     `env:"PUBSUB_CREATE_TOPIC" default:"false"`
	Events          []string `env:"PUBSUB_EVENTS"`
}

// TracingConfig configures OpenTelemetry export. Endpoint settings come
// from the standard OTEL_EXPORTER_OTLP_* variables.
type TracingConfig struct {
	Enabled     bool   `env:"TRACING_ENABLED" default:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" default:"ledgersync"`
	Protocol    string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" default:"grpc"`
	Sampler     string `env:"OTEL_TRACES_SAMPLER" default:"parentbased_traceidratio"`
	SamplerArg  string `env:"OTEL_TRACES_SAMPLER_ARG" default:"1.0"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
