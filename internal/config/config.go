// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (ATLAS_* overrides, DATABASE_URL)
//  2. Config file (~/.atlas/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (the database password) are never logged. Validation
// uses sentinel errors so callers can branch with errors.Is.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

const (
	// DefaultModel is the conversational model driving the Archivist.
	DefaultModel = "googleai/gemini-2.5-flash"

	// DefaultEmbedderModel produces catalogue embeddings. Output is
	// truncated to 768 dimensions to match the pgvector schema.
	DefaultEmbedderModel = "gemini-embedding-001"
)

// Config stores application configuration.
type Config struct {
	// Model configuration.
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature"`

	// Archivist behavior.
	MaxToolRounds      int     `mapstructure:"max_tool_rounds"`
	ToolTimeoutSeconds int     `mapstructure:"tool_timeout_seconds"`
	CommitThreshold    float64 `mapstructure:"commit_threshold"`
	RetentionHours     int     `mapstructure:"retention_hours"`

	// Storage configuration.
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP server.
	ListenAddr string `mapstructure:"listen_addr"`

	// Tracing (OTLP over HTTP).
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	Environment    string `mapstructure:"environment"`

	// Maintenance.
	CleanupLockFile string `mapstructure:"cleanup_lock_file"`
}

// Load reads configuration from defaults, an optional config file, and
// environment overrides, then validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".atlas")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModel)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.8)

	v.SetDefault("max_tool_rounds", 3)
	v.SetDefault("tool_timeout_seconds", 15)
	v.SetDefault("commit_threshold", 0.7)
	v.SetDefault("retention_hours", 7*24)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "atlas")
	v.SetDefault("postgres_password", "atlas_dev_password")
	v.SetDefault("postgres_db_name", "atlas")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("service_name", "atlas")
	v.SetDefault("environment", "dev")

	v.SetDefault("cleanup_lock_file", filepath.Join(os.TempDir(), "atlas-cleanup.lock"))
}

// bindEnvVariables binds the environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not through Viper.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "ATLAS_MODEL_NAME")
	mustBind("embedder_model", "ATLAS_EMBEDDER_MODEL")
	mustBind("listen_addr", "ATLAS_LISTEN_ADDR")
	mustBind("tracing_enabled", "ATLAS_TRACING_ENABLED")
	mustBind("otlp_endpoint", "ATLAS_OTLP_ENDPOINT")
	mustBind("environment", "ATLAS_ENVIRONMENT")
	mustBind("postgres_password", "ATLAS_POSTGRES_PASSWORD")
}

// PostgresURL returns the connection URL used by both pgx and the
// migration runner. url.URL handles encoding of special characters in
// credentials.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL lets DATABASE_URL override the individual postgres
// settings. The single-URL form is the common cloud deployment shape.
func (c *Config) parseDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", parsed.Scheme)
	}

	if host := parsed.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
		c.PostgresPort = port
	}
	if parsed.User != nil {
		if user := parsed.User.Username(); user != "" {
			c.PostgresUser = user
		}
		if password, ok := parsed.User.Password(); ok {
			c.PostgresPassword = password
		}
	}
	if len(parsed.Path) > 1 {
		c.PostgresDBName = parsed.Path[1:]
	}
	if sslMode := parsed.Query().Get("sslmode"); sslMode != "" {
		c.PostgresSSLMode = sslMode
	}
	return nil
}
