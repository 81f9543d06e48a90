package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":"9090"},"database":{"type":"postgres","host":"db"}}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 20, cfg.Server.RateLimit)
	require.Equal(t, "postgres", cfg.Database.Type)
	require.Equal(t, "db", cfg.Database.Host)
	require.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SIGNINGROOM_LNBITS_KEY", "secret")
	t.Setenv("SIGNINGROOM_PORT", "7000")
	t.Setenv("SIGNINGROOM_RATE_LIMIT", "5")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.Payment.LNbitsKey)
	require.Equal(t, "7000", cfg.Server.Port)
	require.Equal(t, 5, cfg.Server.RateLimit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SIGNINGROOM_TEST_ENV_VALUE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SIGNINGROOM_TEST_ENV_VALUE") })

	require.NoError(t, LoadEnvFile(path))
	require.Equal(t, "loaded", os.Getenv("SIGNINGROOM_TEST_ENV_VALUE"))
}
