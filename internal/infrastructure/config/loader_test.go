package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithoutAnyFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9001, cfg.Gateway.Port)
	assert.Equal(t, 65536, cfg.Gateway.MaxFrameBytes)
	assert.Equal(t, 4096, cfg.Engine.QueueDepth)
	assert.Equal(t, uint64(1), cfg.Engine.Validation.MinQuantity)
	assert.Equal(t, uint64(1_000_000), cfg.Engine.Validation.MaxQuantity)
	assert.False(t, cfg.Engine.Validation.EnforceCancelOwner)
	assert.Equal(t, 256, cfg.Feed.ReplayDepth)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "config/contracts.yaml", cfg.ContractsPath)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
environment: production
log:
  level: warn
server:
  port: 8443
  read_timeout: 30s
engine:
  partitions: 4
  queue_depth: 128
  validation:
    max_quantity: 500
    allowed_symbols: [ESZ5, NQZ5]
journal:
  enabled: true
  path: /var/lib/tickmatch/wal.jsonl
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 4, cfg.Engine.Partitions)
	assert.Equal(t, 128, cfg.Engine.QueueDepth)
	assert.Equal(t, uint64(500), cfg.Engine.Validation.MaxQuantity)
	assert.Equal(t, []string{"ESZ5", "NQZ5"}, cfg.Engine.Validation.AllowedSymbols)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/var/lib/tickmatch/wal.jsonl", cfg.Journal.Path)

	// Untouched keys keep their defaults.
	assert.Equal(t, 9001, cfg.Gateway.Port)
	assert.Equal(t, uint64(1), cfg.Engine.Validation.MinQuantity)
}

func TestLoad_EnvironmentVariablesWin(t *testing.T) {
	t.Setenv("TICKMATCH_SERVER_PORT", "9999")
	t.Setenv("TICKMATCH_ENGINE_QUEUE_DEPTH", "64")
	t.Setenv("TICKMATCH_LOG_LEVEL", "debug")

	path := writeFile(t, "config.yaml", `
server:
  port: 8443
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port, "env beats file")
	assert.Equal(t, 64, cfg.Engine.QueueDepth)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Run("bad environment", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "environment: prod\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate config")
	})

	t.Run("bad log level", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "log:\n  level: loud\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("port out of range", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "server:\n  port: 70000\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "server: [\n")
		_, err := Load(path)
		require.Error(t, err)
	})
}
