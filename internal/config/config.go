package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the application. Values come from
// defaults, then the optional TOML file named by CONFIG_FILE, then
// environment variables.
type Config struct {
	// Database
	DatabaseURL    string `toml:"database_url"`
	DatabaseDriver string `toml:"database_driver"`

	// Server ports
	APIPort int `toml:"api_port"`

	// Logging
	LogLevel string `toml:"log_level"`

	// Security
	APIKey           string `toml:"api_key"`
	AllowedOrigins   string `toml:"allowed_origins"`
	AppEnv           string `toml:"app_env"`
	CredentialSecret string `toml:"credential_secret"`

	// Rate Limiting
	RateLimitRequests float64 `toml:"rate_limit_requests"`
	RateLimitBurst    int     `toml:"rate_limit_burst"`
	SyncRatePerMinute int     `toml:"sync_rate_per_minute"`

	// Mail sessions
	IMAPFetchLimit  int           `toml:"imap_fetch_limit"`
	MailDialTimeout time.Duration `toml:"mail_dial_timeout"`
	MailIOTimeout   time.Duration `toml:"mail_io_timeout"`
	SMTPHeloHost    string        `toml:"smtp_helo_host"`

	// Background sync; zero disables the scheduler
	SyncInterval time.Duration `toml:"sync_interval"`

	// Directory for raw message sources; empty disables archiving
	MailArchivePath string `toml:"mail_archive_path"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DatabaseDriver:    "postgres",
		APIPort:           8080,
		LogLevel:          "info",
		AppEnv:            "development",
		RateLimitRequests: 10.0,
		RateLimitBurst:    20,
		SyncRatePerMinute: 6,
		IMAPFetchLimit:    50,
		MailDialTimeout:   15 * time.Second,
		MailIOTimeout:     30 * time.Second,
		SMTPHeloHost:      "localhost",
	}
}

// Load reads configuration from the optional config file and environment
// variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Required: DATABASE_URL
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("DATABASE_DRIVER", &c.DatabaseDriver)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("API_KEY", &c.APIKey)
	setString("ALLOWED_ORIGINS", &c.AllowedOrigins)
	setString("APP_ENV", &c.AppEnv)
	setString("CREDENTIAL_SECRET", &c.CredentialSecret)
	setString("SMTP_HELO_HOST", &c.SMTPHeloHost)
	setString("MAIL_ARCHIVE_PATH", &c.MailArchivePath)

	ints := []struct {
		key string
		dst *int
	}{
		{"API_PORT", &c.APIPort},
		{"RATE_LIMIT_BURST", &c.RateLimitBurst},
		{"SYNC_RATE_PER_MINUTE", &c.SyncRatePerMinute},
		{"IMAP_FETCH_LIMIT", &c.IMAPFetchLimit},
	}
	for _, v := range ints {
		if err := setInt(v.key, v.dst); err != nil {
			return err
		}
	}

	if rps := os.Getenv("RATE_LIMIT_REQUESTS"); rps != "" {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be a valid number: %w", err)
		}
		c.RateLimitRequests = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MAIL_DIAL_TIMEOUT", &c.MailDialTimeout},
		{"MAIL_IO_TIMEOUT", &c.MailIOTimeout},
		{"SYNC_INTERVAL", &c.SyncInterval},
	}
	for _, v := range durations {
		if err := setDuration(v.key, v.dst); err != nil {
			return err
		}
	}
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	*dst = d
	return nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.IsProduction() {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.CredentialSecret == "" {
		return fmt.Errorf("CREDENTIAL_SECRET is required")
	}
	if c.IMAPFetchLimit <= 0 {
		return fmt.Errorf("IMAP_FETCH_LIMIT must be positive")
	}
	if c.MailDialTimeout <= 0 || c.MailIOTimeout <= 0 {
		return fmt.Errorf("MAIL_DIAL_TIMEOUT and MAIL_IO_TIMEOUT must be positive")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL cannot be negative")
	}
	if strings.ContainsAny(c.SMTPHeloHost, " \r\n") || c.SMTPHeloHost == "" {
		return fmt.Errorf("SMTP_HELO_HOST must be a single host name")
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	// Check for wildcard in production
	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	if c.DatabaseDriver == "sqlite" {
		return fmt.Errorf("sqlite is not allowed in production")
	}

	// Check for sslmode=disable in database URL
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	if len(c.CredentialSecret) < 32 {
		return fmt.Errorf("CREDENTIAL_SECRET must be at least 32 characters in production")
	}

	return nil
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.String("database_driver", c.DatabaseDriver),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Bool("allowed_origins_set", c.AllowedOrigins != ""),
		slog.Float64("rate_limit_rps", c.RateLimitRequests),
		slog.Int("rate_limit_burst", c.RateLimitBurst),
		slog.Int("sync_rate_per_minute", c.SyncRatePerMinute),
		slog.Int("imap_fetch_limit", c.IMAPFetchLimit),
		slog.Duration("mail_dial_timeout", c.MailDialTimeout),
		slog.Duration("mail_io_timeout", c.MailIOTimeout),
		slog.Duration("sync_interval", c.SyncInterval),
		slog.String("smtp_helo_host", c.SMTPHeloHost),
		slog.String("mail_archive_path", c.MailArchivePath),
	)
}
