package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL != "" {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Automation validation
	if c.AutoCollection.PollInterval <= 0 {
		errs = append(errs, "AUTO_COLLECTION_POLL_INTERVAL must be positive")
	}
	if c.RealTimeSync.Interval <= 0 {
		errs = append(errs, "REALTIME_SYNC_INTERVAL must be positive")
	}
	if c.RealTimeSync.BatchSize <= 0 {
		errs = append(errs, "REALTIME_SYNC_BATCH_SIZE must be positive")
	}
	if c.RealTimeSync.RetryAttempts <= 0 {
		errs = append(errs, "REALTIME_SYNC_RETRY_ATTEMPTS must be positive")
	}
	if !model.ConflictStrategy(c.RealTimeSync.ConflictResolution).Valid() {
		errs = append(errs, fmt.Sprintf("REALTIME_SYNC_CONFLICT_RESOLUTION (%q) must be one of: smart, timestamp, manual",
			c.RealTimeSync.ConflictResolution))
	}
	if c.SmartMapping.Accuracy < 0 || c.SmartMapping.Accuracy > 1 {
		errs = append(errs, fmt.Sprintf("SMART_MAPPING_ACCURACY (%v) must be between 0 and 1", c.SmartMapping.Accuracy))
	}
	if c.Workflows.BatchSize <= 0 || c.Workflows.BatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("WORKFLOW_BATCH_SIZE (%d) must be 1-1000", c.Workflows.BatchSize))
	}
	if !core.ValidationLevel(c.Workflows.ValidationLevel).Valid() {
		errs = append(errs, fmt.Sprintf("WORKFLOW_VALIDATION_LEVEL (%q) must be one of: strict, lenient",
			c.Workflows.ValidationLevel))
	}
	if c.Workflows.MaxConcurrent <= 0 {
		errs = append(errs, "WORKFLOW_MAX_CONCURRENT must be positive")
	}
	if c.Workflows.HistorySize <= 0 {
		errs = append(errs, "WORKFLOW_HISTORY_SIZE must be positive")
	}

	// Sync validation
	if c.Sync.BaseURL == "" {
		errs = append(errs, "SYNC_BASE_URL is required")
	}
	if c.Sync.RatePerMin < 0 {
		errs = append(errs, "SYNC_RATE_PER_MINUTE must be non-negative")
	}

	// Integrations
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, "PUBSUB_TOPIC is set but PUBSUB_PROJECT_ID is empty")
	}
	if c.ObjectStore.Endpoint != "" && c.ObjectStore.Bucket == "" {
		errs = append(errs, "OBJECT_STORE_BUCKET is required when OBJECT_STORE_ENDPOINT is set")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// EngineSettings converts the automation sections into engine settings.
func (c *Config) EngineSettings() core.Settings {
	return core.Settings{
		AutoCollection: core.AutoCollectionSettings{
			Sources:      c.AutoCollection.Sources,
			PollInterval: c.AutoCollection.PollInterval,
		},
		RealTimeSync: core.RealTimeSyncSettings{
			Enabled:            c.RealTimeSync.Enabled,
			Interval:           c.RealTimeSync.Interval,
			BatchSize:          c.RealTimeSync.BatchSize,
			RetryAttempts:      c.RealTimeSync.RetryAttempts,
			ConflictResolution: model.ConflictStrategy(c.RealTimeSync.ConflictResolution),
		},
		SmartMapping: core.SmartMappingSettings{Accuracy: c.SmartMapping.Accuracy},
		Workflows: core.WorkflowSettings{
			AutoCollection:  c.Workflows.AutoCollection,
			DataEntry:       c.Workflows.DataEntry,
			Reconciliation:  c.Workflows.Reconciliation,
			BatchSize:       c.Workflows.BatchSize,
			ValidationLevel: core.ValidationLevel(c.Workflows.ValidationLevel),
			MaxConcurrent:   c.Workflows.MaxConcurrent,
			BatchPause:      c.Workflows.BatchPause,
			HistorySize:     c.Workflows.HistorySize,
		},
	}
}

// String returns a safe string representation of the config for logging.
// Database URLs, API keys and credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	if c.Database.URL != "" {
		b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
			c.Database.MaxConns, c.Database.MinConns))
	} else {
		b.WriteString("Database: {in-memory}, ")
	}
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("RealTimeSync: {Enabled: %v, Interval: %s, BatchSize: %d, RetryAttempts: %d, ConflictResolution: %q}, ",
		c.RealTimeSync.Enabled, c.RealTimeSync.Interval, c.RealTimeSync.BatchSize,
		c.RealTimeSync.RetryAttempts, c.RealTimeSync.ConflictResolution))
	b.WriteString(fmt.Sprintf("Workflows: {BatchSize: %d, ValidationLevel: %q, MaxConcurrent: %d}, ",
		c.Workflows.BatchSize, c.Workflows.ValidationLevel, c.Workflows.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Sync: {BaseURL: %q, APIKey: %s}, ", c.Sync.BaseURL, mask(c.Sync.APIKey)))
	b.WriteString(fmt.Sprintf("ObjectStore: {Endpoint: %q, Bucket: %q, SecretKey: %s}, ",
		c.ObjectStore.Endpoint, c.ObjectStore.Bucket, mask(c.ObjectStore.SecretKey)))
	b.WriteString(fmt.Sprintf("Redis: {Address: %q, Password: %s}, ", c.Redis.Address, mask(c.Redis.Password)))
	b.WriteString(fmt.Sprintf("PubSub: {ProjectID: %q, Topic: %q}, ", c.PubSub.ProjectID, c.PubSub.Topic))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
