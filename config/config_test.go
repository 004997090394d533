package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, 300*time.Second, cfg.Storage.GCPeriod())
	assert.Equal(t, "default", cfg.TTL.Tree)
	assert.Equal(t, time.Minute, cfg.TTL.Duration)
	assert.Equal(t, time.Second, cfg.TTL.SweepInterval)
	assert.Equal(t, 512, cfg.TTL.SweepBatch)
	assert.False(t, cfg.TTL.Reactive)
	assert.True(t, cfg.TTL.ReconcileOnOpen)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  in_memory: true
ttl:
  tree: salut
  duration: 3s
  sweep_interval: 250ms
  reactive: true
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "salut", cfg.TTL.Tree)
	assert.Equal(t, 3*time.Second, cfg.TTL.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.TTL.SweepInterval)
	assert.True(t, cfg.TTL.Reactive)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "ttl:\n  tree: salut\n")
	t.Setenv("TTLTREE_TTL_DURATION", "5s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.TTL.Duration)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"zero ttl":       "ttl:\n  duration: 0s\n",
		"empty tree":     "ttl:\n  tree: \"\"\n",
		"bad level":      "logging:\n  level: loud\n",
		"bad format":     "logging:\n  format: xml\n",
		"negative gc":    "storage:\n  gc_interval: -1\n",
		"zero sweep":     "ttl:\n  sweep_interval: 0s\n",
		"negative batch": "ttl:\n  sweep_batch: -3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttltree.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)

	logger.Info("hello", "tree", "salut")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "tree=salut")
}
