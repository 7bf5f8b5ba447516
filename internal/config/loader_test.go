package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 60, cfg.Scheduler.IntervalSec)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[log]
level = "debug"

[s3]
enabled = true
bucket = "sigbot-archive"

[scheduler]
interval_sec = 30
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, 30, cfg.Scheduler.IntervalSec)
	assert.Equal(t, 5432, cfg.Postgres.Port, "unset keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesWin(t *testing.T) {
	t.Setenv("SIGBOT_MODE", "trade")
	t.Setenv("SIGBOT_POSTGRES_PASSWORD", "sekret")
	t.Setenv("SIGBOT_REDIS_ADDR", "redis:6379")
	t.Setenv("SIGBOT_SCHEDULER_INTERVAL_SEC", "15")
	t.Setenv("SIGBOT_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sekret", cfg.Postgres.Password)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 15, cfg.Scheduler.IntervalSec)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())

	bad := Defaults()
	bad.Mode = "backtest"
	assert.Error(t, bad.Validate())

	bad = Defaults()
	bad.Log.Level = "verbose"
	assert.Error(t, bad.Validate())

	bad = Defaults()
	bad.Redis.Addr = ""
	assert.Error(t, bad.Validate())

	bad = Defaults()
	bad.Mode = "archive"
	assert.Error(t, bad.Validate(), "archive mode requires s3")

	ok := Defaults()
	ok.Mode = "archive"
	ok.S3.Enabled = true
	ok.S3.Bucket = "bucket"
	assert.NoError(t, ok.Validate())

	bad = Defaults()
	bad.S3.Enabled = true
	assert.Error(t, bad.Validate(), "enabled s3 needs a bucket")
}
