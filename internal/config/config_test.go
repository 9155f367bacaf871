package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", "/nonexistent/keygate.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "data/keygate.db", cfg.Database.Path)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, 200, cfg.Security.RateLimit.PerMinute)
	assert.Equal(t, 10, cfg.Security.RateLimit.PerSecond)
	assert.Equal(t, 10, cfg.Guard.MaxFailedAttempts)
	assert.Equal(t, time.Hour, cfg.Guard.BlockWindow)
	assert.Equal(t, 5*time.Minute, cfg.Guard.NonceTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", "/nonexistent/keygate.yaml")
	t.Setenv("KEYGATE_SERVER_PORT", "9090")
	t.Setenv("KEYGATE_GUARD_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("KEYGATE_DATABASE_PATH", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Guard.MaxFailedAttempts)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoad_IgnoresUnprefixedEnv(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", "/nonexistent/keygate.yaml")
	// Bare variable names a shell commonly sets must never feed the
	// config; only KEYGATE_-prefixed names do.
	t.Setenv("PATH", "/usr/local/bin:/usr/bin:/bin")
	t.Setenv("PORT", "9999")
	t.Setenv("LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/keygate.db", cfg.Database.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/keygate.yaml"
	content := []byte("server:\n  port: 7070\nlogging:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("KEYGATE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Fields absent from the file still get envconfig defaults.
	assert.Equal(t, "data/keygate.db", cfg.Database.Path)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", "/nonexistent/keygate.yaml")
	t.Setenv("KEYGATE_SERVER_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}
