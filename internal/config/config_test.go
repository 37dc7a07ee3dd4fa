package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Dispatcher.PollInterval())
	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)
	assert.Equal(t, []string{"log"}, cfg.Publisher.Drivers)
	assert.Equal(t, "9.99", cfg.Pricing["prod-1"].Amount)
	assert.Equal(t, "USD", cfg.Pricing["prod-3"].Currency)
	assert.Equal(t, 24*time.Hour, cfg.Consumer.DedupeTTL)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: mysql
dispatcher:
  batch_size: 1
`), 0o600))
	t.Setenv("ORDERS_DISPATCHER_POLL_INTERVAL_MS", "250")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 1, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.PollInterval())
	assert.Equal(t, 10, cfg.Database.MaxIdleConns)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Database.Driver = "sqlite"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Dispatcher.PollIntervalMs = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Dispatcher.BatchSize = -1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Publisher.Drivers = []string{"carrier-pigeon"}
	assert.Error(t, bad.Validate())
}
