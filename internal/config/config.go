// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.kestrel/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Provider: conversation service endpoint and credentials
//   - Storage: PostgreSQL connection (see storage.go)
//   - Blob: object store endpoint and bucket
//   - Run: polling cadence for asynchronous runs
//   - Sweep: placeholder reconciliation cadence
//   - Telemetry: OTLP trace export
//
// Security: sensitive data (API keys, passwords) are never logged; the
// config directory uses 0750 permissions.
//
// Error handling uses sentinel errors checkable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIBaseURL indicates the provider base URL is invalid.
	ErrInvalidAPIBaseURL = errors.New("invalid API base URL")

	// ErrInvalidPollInterval indicates the run poll interval is out of range.
	ErrInvalidPollInterval = errors.New("invalid poll interval")

	// ErrInvalidMaxPolls indicates the run poll ceiling is out of range.
	ErrInvalidMaxPolls = errors.New("invalid max polls")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBlobEndpoint indicates the blob store endpoint is invalid.
	ErrInvalidBlobEndpoint = errors.New("invalid blob endpoint")

	// ErrInvalidBlobBucket indicates the blob bucket name is invalid.
	ErrInvalidBlobBucket = errors.New("invalid blob bucket")

	// ErrMissingBlobCredentials indicates the blob store credentials are missing.
	ErrMissingBlobCredentials = errors.New("missing blob credentials")
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Provider configuration
	APIBaseURL string  `mapstructure:"api_base_url" json:"api_base_url"`
	APIKey     string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	RateLimit  float64 `mapstructure:"rate_limit" json:"rate_limit"`

	// Run polling configuration
	PollIntervalMS int `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	MaxPolls       int `mapstructure:"max_polls" json:"max_polls"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Blob store configuration
	BlobEndpoint      string `mapstructure:"blob_endpoint" json:"blob_endpoint"`
	BlobAccessKey     string `mapstructure:"blob_access_key" json:"blob_access_key"`
	BlobSecretKey     string `mapstructure:"blob_secret_key" json:"blob_secret_key"` // SENSITIVE: masked in MarshalJSON
	BlobBucket        string `mapstructure:"blob_bucket" json:"blob_bucket"`
	BlobUseSSL        bool   `mapstructure:"blob_use_ssl" json:"blob_use_ssl"`
	BlobPublicBaseURL string `mapstructure:"blob_public_base_url" json:"blob_public_base_url"`

	// Sweep configuration
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes" json:"sweep_interval_minutes"`
	SweepGraceMinutes    int `mapstructure:"sweep_grace_minutes" json:"sweep_grace_minutes"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".kestrel")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Provider defaults
	viper.SetDefault("api_base_url", "https://api.openai.com")
	viper.SetDefault("rate_limit", 5.0)

	// Run polling defaults: two minute ceiling at one poll per second
	viper.SetDefault("poll_interval_ms", 1000)
	viper.SetDefault("max_polls", 120)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "kestrel")
	viper.SetDefault("postgres_password", "kestrel_dev_password")
	viper.SetDefault("postgres_db_name", "kestrel")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Blob store defaults (matching docker-compose.yml MinIO)
	viper.SetDefault("blob_endpoint", "localhost:9000")
	viper.SetDefault("blob_bucket", "kestrel-artifacts")
	viper.SetDefault("blob_use_ssl", false)

	// Sweep defaults
	viper.SetDefault("sweep_interval_minutes", 5)
	viper.SetDefault("sweep_grace_minutes", 15)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.environment", "dev")
	viper.SetDefault("telemetry.service_name", "kestrel")

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds sensitive environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a bug in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "KESTREL_API_KEY")
	mustBind("api_base_url", "KESTREL_API_BASE_URL")
	mustBind("blob_access_key", "KESTREL_BLOB_ACCESS_KEY")
	mustBind("blob_secret_key", "KESTREL_BLOB_SECRET_KEY")
	mustBind("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("log_level", "KESTREL_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked; longer ones keep the first and last two
// characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is not cryptographically secure; if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - APIKey
//   - PostgresPassword
//   - BlobSecretKey
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.BlobSecretKey = maskSecret(a.BlobSecretKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
