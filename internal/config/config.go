package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete server configuration.
//
// Environment variable names derive from the field path under the
// KEYGATE_ prefix (KEYGATE_SERVER_PORT, KEYGATE_DATABASE_PATH, ...).
// Fields carry no envconfig alt names on purpose: an alt name lets
// envconfig fall back to the bare, unprefixed variable, and names like
// PATH or PORT are almost always set in a shell for unrelated reasons.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Guard    GuardConfig    `yaml:"guard"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true"`
}

// DatabaseConfig contains SQLite store configuration.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size" split_words:"true"`
}

// SecurityConfig contains transport-level protections.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// RateLimitConfig configures the per-client-IP token buckets applied
// ahead of all handlers.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute" split_words:"true"`
	PerSecond int  `yaml:"per_second" split_words:"true"`
}

// GuardConfig configures the abuse guard: failed-attempt accounting,
// IP blocking and nonce replay protection.
type GuardConfig struct {
	MaxFailedAttempts int           `yaml:"max_failed_attempts" split_words:"true"`
	BlockWindow       time.Duration `yaml:"block_window" split_words:"true"`
	NonceTTL          time.Duration `yaml:"nonce_ttl" split_words:"true"`
	TimestampDrift    time.Duration `yaml:"timestamp_drift" split_words:"true"`
}

// AuthConfig configures administrative authentication.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" split_words:"true"`
	TokenTTL   time.Duration `yaml:"token_ttl" split_words:"true"`
	BcryptCost int           `yaml:"bcrypt_cost" split_words:"true"`
	AdminUser  string        `yaml:"admin_user" split_words:"true"`
	AdminPass  string        `yaml:"admin_pass" split_words:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration defaults. Load layers the optional
// YAML file and then the environment on top of these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/keygate.db",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:   true,
				PerMinute: 200,
				PerSecond: 10,
			},
		},
		Guard: GuardConfig{
			MaxFailedAttempts: DefaultMaxFailedAttempts,
			BlockWindow:       DefaultBlockWindowSecs * time.Second,
			NonceTTL:          DefaultNonceTTLSecs * time.Second,
			TimestampDrift:    DefaultNonceTTLSecs * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
			AdminUser:  "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
	}
}

// Load loads configuration: defaults, then an optional YAML file, then
// environment variables with the KEYGATE_ prefix. Later layers win.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("KEYGATE", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func configFilePath() string {
	if path := os.Getenv("KEYGATE_CONFIG"); path != "" {
		return path
	}
	return "keygate.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Guard.MaxFailedAttempts < 1 {
		return fmt.Errorf("guard max_failed_attempts must be positive, got %d", c.Guard.MaxFailedAttempts)
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.PerMinute < 1 || c.Security.RateLimit.PerSecond < 1 {
			return fmt.Errorf("rate limits must be positive")
		}
	}
	return nil
}
