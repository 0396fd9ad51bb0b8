// Package config loads process configuration: secrets and endpoints from the
// environment (optionally merged with a .env file) and the project file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment keys
const (
	EnvSignerPrivateKey = "SIGNER_PRIV_KEY"
	EnvRPCURL           = "RPC_URL"
	EnvExplorerAPIKey   = "ETHERSCAN_API_KEY"
)

// Config holds all configuration for a contradeploy process
type Config struct {
	Env          Environment
	Logging      LoggingConfig
	Journal      JournalConfig
	Confirmation ConfirmationConfig
	Verification VerificationConfig
	Metrics      MetricsConfig
	Server       ServerConfig
}

// Environment holds the secrets and endpoints read from the process
// environment. It is loaded once and never mutated.
type Environment struct {
	SignerPrivateKey Secret
	RPCURL           Secret
	ExplorerAPIKey   Secret
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// JournalConfig selects where run records are written
type JournalConfig struct {
	Type        string // "sqlite", "postgres" or "none"
	SQLitePath  string
	PostgresURL string
}

// ConfirmationConfig bounds the wait for a deployment to be mined
type ConfirmationConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// VerificationConfig holds explorer submission settings
type VerificationConfig struct {
	StatusAttempts    int
	RequestsPerSecond float64
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled        bool
	PushgatewayURL string
}

// ServerConfig holds HTTP server configuration for serve mode
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds

	// RateLimitPerMin caps requests per client; 0 disables the limit
	RateLimitPerMin int
	RateLimitBurst  int
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// EnvFile is an optional .env file. Keys in the process environment
	// take precedence over keys in the file.
	EnvFile string
	// Lookup replaces os.LookupEnv, mainly for tests
	Lookup func(key string) (string, bool)
}

// Load reads configuration once. A missing signing key is not an error
// here; it is checked when a network that needs it is selected.
func Load(opts LoadOptions) (*Config, error) {
	src := source{lookup: opts.Lookup}
	if src.lookup == nil {
		src.lookup = os.LookupEnv
	}

	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", opts.EnvFile, err)
		}
		src.file = values
	}

	cfg := &Config{
		Env: Environment{
			SignerPrivateKey: src.secret(EnvSignerPrivateKey),
			RPCURL:           src.secret(EnvRPCURL),
			ExplorerAPIKey:   src.secret(EnvExplorerAPIKey),
		},
		Logging: LoggingConfig{
			Level:  src.getEnv("LOG_LEVEL", "info"),
			Format: src.getEnv("LOG_FORMAT", "text"),
		},
		Journal: JournalConfig{
			Type:        src.getEnv("JOURNAL_TYPE", "sqlite"),
			SQLitePath:  src.getEnv("SQLITE_PATH", "./.contradeploy/runs.db"),
			PostgresURL: src.getEnv("DATABASE_URL", ""),
		},
		Confirmation: ConfirmationConfig{
			Timeout:      time.Duration(src.getEnvInt("CONFIRMATION_TIMEOUT_SECONDS", 600)) * time.Second,
			PollInterval: time.Duration(src.getEnvInt("CONFIRMATION_POLL_SECONDS", 2)) * time.Second,
		},
		Verification: VerificationConfig{
			StatusAttempts:    src.getEnvInt("VERIFY_ATTEMPTS", 10),
			RequestsPerSecond: src.getEnvFloat("VERIFY_RPS", 4),
		},
		Metrics: MetricsConfig{
			Enabled:        src.getEnvBool("METRICS_ENABLED", false),
			PushgatewayURL: src.getEnv("METRICS_PUSHGATEWAY_URL", ""),
		},
		Server: ServerConfig{
			Port:         src.getEnvInt("PORT", 8080),
			Host:         src.getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  src.getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: src.getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  src.getEnvInt("SERVER_IDLE_TIMEOUT", 120),

			RateLimitPerMin: src.getEnvInt("RATE_LIMIT_RPM", 0),
			RateLimitBurst:  src.getEnvInt("RATE_LIMIT_BURST", 20),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Journal.PostgresURL != "" && cfg.Journal.Type == "sqlite" && !src.has("JOURNAL_TYPE") {
		cfg.Journal.Type = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Journal.Type {
	case "sqlite", "none":
	case "postgres":
		if c.Journal.PostgresURL == "" {
			return errors.New("JOURNAL_TYPE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown JOURNAL_TYPE %q (want sqlite, postgres or none)", c.Journal.Type)
	}
	if c.Confirmation.Timeout <= 0 {
		return errors.New("CONFIRMATION_TIMEOUT_SECONDS must be positive")
	}
	if c.Confirmation.PollInterval <= 0 {
		return errors.New("CONFIRMATION_POLL_SECONDS must be positive")
	}
	return nil
}

// source reads keys from the process environment first, then the .env file
type source struct {
	lookup func(string) (string, bool)
	file   map[string]string
}

func (s source) get(key string) (string, bool) {
	if v, ok := s.lookup(key); ok {
		return v, true
	}
	v, ok := s.file[key]
	return v, ok
}

func (s source) has(key string) bool {
	_, ok := s.get(key)
	return ok
}

func (s source) secret(key string) Secret {
	if v, ok := s.get(key); ok {
		return NewSecret(v)
	}
	return Secret{}
}

func (s source) getEnv(key, defaultValue string) string {
	if value, _ := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getEnvInt(key string, defaultValue int) int {
	if value, _ := s.get(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getEnvFloat(key string, defaultValue float64) float64 {
	if value, _ := s.get(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (s source) getEnvBool(key string, defaultValue bool) bool {
	if value, _ := s.get(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
