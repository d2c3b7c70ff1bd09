package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 20, cfg.RateDefaults.BenchmarksPerHour)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
rate_defaults:
  benchmarks_per_hour: 50
  max_concurrent: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 50, cfg.RateDefaults.BenchmarksPerHour)
	assert.Equal(t, 3, cfg.RateDefaults.MaxConcurrent)
	// Untouched defaults survive the merge.
	assert.Equal(t, "benchstudio.db", cfg.DBPath)
}

func TestJWTSecretReadsEnv(t *testing.T) {
	cfg := defaults()
	t.Setenv(cfg.JWTSecretEnv, "shh")
	assert.Equal(t, "shh", cfg.JWTSecret())
}
