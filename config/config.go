package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds the application configuration.
type Config struct {
	Addr            string
	DatabaseURL     string
	SessionLifetime time.Duration
	// CookieSecure marks the session cookie Secure. Turn it off only for
	// plain-HTTP development.
	CookieSecure    bool
	BcryptCost      int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	SessionCleanup  time.Duration
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	var (
		cfg = &Config{
			Addr:        getEnv("FORUM_ADDR", ":8080"),
			DatabaseURL: getEnv("DATABASE_URL", "sqlite://forum.db"),
			LogLevel:    getEnv("FORUM_LOG_LEVEL", "info"),
			LogFormat:   getEnv("FORUM_LOG_FORMAT", "console"),
		}
		err error
	)
	if cfg.SessionLifetime, err = getDuration("FORUM_SESSION_LIFETIME", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("FORUM_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionCleanup, err = getDuration("FORUM_SESSION_CLEANUP", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getBool("FORUM_COOKIE_SECURE", true); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getInt("FORUM_BCRYPT_COST", bcrypt.DefaultCost); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url is empty")
	}
	if c.SessionLifetime <= 0 {
		return fmt.Errorf("session lifetime must be positive, got %s", c.SessionLifetime)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
