package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var envKeys = []string{
	"FORUM_ADDR",
	"DATABASE_URL",
	"FORUM_SESSION_LIFETIME",
	"FORUM_COOKIE_SECURE",
	"FORUM_BCRYPT_COST",
	"FORUM_LOG_LEVEL",
	"FORUM_LOG_FORMAT",
	"FORUM_SHUTDOWN_TIMEOUT",
	"FORUM_SESSION_CLEANUP",
}

// clearEnv unsets every key Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite://forum.db", cfg.DatabaseURL)
	assert.Equal(t, 30*time.Minute, cfg.SessionLifetime)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, bcrypt.DefaultCost, cfg.BcryptCost)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionCleanup)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORUM_ADDR", "127.0.0.1:9000")
	t.Setenv("DATABASE_URL", "postgres://forum@localhost/forum")
	t.Setenv("FORUM_SESSION_LIFETIME", "10m")
	t.Setenv("FORUM_COOKIE_SECURE", "false")
	t.Setenv("FORUM_BCRYPT_COST", "12")
	t.Setenv("FORUM_LOG_FORMAT", "json")
	t.Setenv("FORUM_SESSION_CLEANUP", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "postgres://forum@localhost/forum", cfg.DatabaseURL)
	assert.Equal(t, 10*time.Minute, cfg.SessionLifetime)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Zero(t, cfg.SessionCleanup)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FORUM_SESSION_LIFETIME", "forever"},
		{"FORUM_SESSION_LIFETIME", "-1m"},
		{"FORUM_COOKIE_SECURE", "maybe"},
		{"FORUM_BCRYPT_COST", "two"},
		{"FORUM_BCRYPT_COST", "99"},
		{"FORUM_LOG_FORMAT", "xml"},
		{"FORUM_SHUTDOWN_TIMEOUT", "soon"},
		{"FORUM_ADDR", ""},
		{"DATABASE_URL", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
