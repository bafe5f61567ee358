package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env

	cfg := Load()

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.NoSandbox)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 720, cfg.Browser.ViewportHeight)
	assert.Equal(t, DefaultUserAgent, cfg.Extractor.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.Extractor.NavigationTimeout)
	assert.Equal(t, 2*time.Second, cfg.Extractor.SettleDelay)
	assert.Equal(t, []string{"Image", "Font", "Media"}, cfg.Extractor.IdleExemptResourceTypes)
	assert.Equal(t, "./scraped_data.db", cfg.Store.Path)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PLUCK_PORT", "9090")
	t.Setenv("PLUCK_NO_SANDBOX", "false")
	t.Setenv("PLUCK_SETTLE_DELAY", "500ms")
	t.Setenv("PLUCK_API_KEYS", " a , ,b ")
	t.Setenv("PLUCK_RATE_RPS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Browser.NoSandbox)
	assert.Equal(t, 500*time.Millisecond, cfg.Extractor.SettleDelay)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.APIKeys)
	assert.InDelta(t, 100.0/(15*60), cfg.RateLimit.RequestsPerSecond, 1e-9)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PLUCK_LOG_FORMAT=text\n"), 0o600))
	// Setenv restores the prior value afterwards; the variable must be unset
	// for .env to apply.
	t.Setenv("PLUCK_LOG_FORMAT", "")
	require.NoError(t, os.Unsetenv("PLUCK_LOG_FORMAT"))

	cfg := Load()

	assert.Equal(t, "text", cfg.Log.Format)
}
