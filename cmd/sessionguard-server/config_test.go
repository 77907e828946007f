package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, found, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Window)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
log_format: json
window: 1h
storage:
  driver: memory
projects:
  demo:
    mode: allowlist
    daily_budget: 1000
    allowed_contracts: ["0x5555555555555555555555555555555555555555"]
    allowed_methods: ["transfer(address,uint256)"]
gas_estimate:
  default: 50000
  overrides:
    "0x5555555555555555555555555555555555555555": 80000
`), 0o600))

	cfg, found, err := loadConfig(path, envMap(map[string]string{
		"DATABASE_URL":                "postgres://localhost/sessionguard",
		"SESSIONGUARD_API_KEY_HASHES": "aa,bb",
	}))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, time.Hour, cfg.Window)
	assert.Equal(t, "postgres", cfg.Storage.Driver, "DATABASE_URL switches the memory driver to postgres")
	assert.Equal(t, []string{"aa", "bb"}, cfg.APIKeyHashes)
	require.Contains(t, cfg.Projects, "demo")
	require.NotNil(t, cfg.Projects["demo"].DailyBudget)
	assert.Equal(t, uint64(1000), *cfg.Projects["demo"].DailyBudget)
	assert.Equal(t, uint64(80000), cfg.GasEstimate.Overrides["0x5555555555555555555555555555555555555555"])
}

func TestLoadConfigValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0o600))
	_, _, err := loadConfig(path, envMap(nil))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: sqlite\n"), 0o600))
	_, _, err = loadConfig(path, envMap(nil))
	assert.Error(t, err)
}
