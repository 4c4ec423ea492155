package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, "", cfg.Database.DSN)
	require.True(t, cfg.Database.MigrateOnStart)
	require.Equal(t, "baobab.mlm.events", cfg.Redis.Channel)
	require.Equal(t, "info", cfg.Logging.Level)
	require.True(t, cfg.Reconcile.Enabled)
	require.Equal(t, "*/5 * * * *", cfg.Reconcile.Schedule)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/baobab")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RECONCILE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "postgres://localhost/baobab", cfg.Database.DSN)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.Reconcile.Enabled)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7070"
redis:
  addr: "localhost:6379"
  channel: "custom.events"
logging:
  format: console
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Server.Addr)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "custom.events", cfg.Redis.Channel)
	require.Equal(t, "console", cfg.Logging.Format)
	// Untouched keys keep their defaults.
	require.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
}

func TestEnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7070\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_ADDR", ":6060")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":6060", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Server.Addr = ""
	require.Error(t, bad.Validate())

	bad = Default()
	bad.Server.EventRatePerSec = 0
	require.Error(t, bad.Validate())

	bad = Default()
	bad.Reconcile.Schedule = ""
	require.Error(t, bad.Validate())
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}
