package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "localhost:8080", cfg.Global.ListenAddress)
	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.Equal(t, 10000, cfg.Metrics.Capacity)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Health.DatabaseWarnAfter)
	assert.Equal(t, 3*time.Second, cfg.Health.ProviderWarnAfter)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
global:
  listen_address: "0.0.0.0:9090"
  log_level: "DEBUG"
retry:
  max_retries: 3
  base_delay: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "0.0.0.0:9090", cfg.Global.ListenAddress)
	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	// Untouched sections keep defaults.
	assert.Equal(t, 10000, cfg.Metrics.Capacity)
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CLOUDGATE_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("CLOUDGATE_STORAGE_SECRET", "env-secret")
	t.Setenv("CLOUDGATE_RETRY_BASE_DELAY", "250ms")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "0.0.0.0:7000", cfg.Global.ListenAddress)
	assert.Equal(t, "env-secret", cfg.Security.StorageSecret)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestValidate(t *testing.T) {
	valid := func() *Configuration {
		cfg := NewDefault()
		cfg.Security.StorageSecret = "secret"
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing secret", func(t *testing.T) {
		cfg := valid()
		cfg.Security.StorageSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "storage_secret")
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid()
		cfg.Global.LogLevel = "LOUD"
		assert.ErrorContains(t, cfg.Validate(), "invalid log_level")
	})

	t.Run("zero metrics capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Metrics.Capacity = 0
		assert.ErrorContains(t, cfg.Validate(), "capacity")
	})
}

func TestResolveCredentials(t *testing.T) {
	t.Run("all fields present", func(t *testing.T) {
		t.Setenv("MEGA_EMAIL", "ops@example.com")
		t.Setenv("MEGA_PASSWORD", "hunter2")

		creds, err := ResolveCredentials("mega")
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", creds["MEGA_EMAIL"])
		assert.Equal(t, "hunter2", creds["MEGA_PASSWORD"])
	})

	t.Run("missing field aborts before any network call", func(t *testing.T) {
		t.Setenv("MEGA_EMAIL", "ops@example.com")
		t.Setenv("MEGA_PASSWORD", "")

		_, err := ResolveCredentials("mega")
		require.Error(t, err)
		assert.True(t, gwerrors.IsConfiguration(err))
		assert.Contains(t, err.Error(), "MEGA_PASSWORD")
	})

	t.Run("optional fields picked up when present", func(t *testing.T) {
		t.Setenv("DROPBOX_ACCESS_TOKEN", "sl.token")
		t.Setenv("DROPBOX_REFRESH_TOKEN", "rt.token")

		creds, err := ResolveCredentials("dropbox")
		require.NoError(t, err)
		assert.Equal(t, "rt.token", creds["DROPBOX_REFRESH_TOKEN"])
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := ResolveCredentials("ftp")
		require.Error(t, err)
		assert.True(t, gwerrors.IsConfiguration(err))
	})
}
