// Package config defines the application configuration: TOML file on
// top of defaults, SIGBOT_* environment overrides, then validation.
package config

import (
	"fmt"
	"strings"
)

// Config is the full application configuration.
type Config struct {
	Mode      string          `toml:"mode"` // trade | archive | full
	Log       LogConfig       `toml:"log"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Archive   ArchiveConfig   `toml:"archive"`
	Bitget    BitgetConfig    `toml:"bitget"`
	Paper     PaperConfig     `toml:"paper"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // json | text
}

type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

type SchedulerConfig struct {
	IntervalSec        int `toml:"interval_sec"`
	MaxConcurrentTicks int `toml:"max_concurrent_ticks"`
	LockTTLSec         int `toml:"lock_ttl_sec"`
}

type ArchiveConfig struct {
	IntervalHours int `toml:"interval_hours"`
	RetentionDays int `toml:"retention_days"`
}

type BitgetConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	Passphrase string `toml:"passphrase"`
}

type PaperConfig struct {
	PredictionCacheTTLSec int `toml:"prediction_cache_ttl_sec"`
}

// Defaults returns the built-in configuration, suitable for a local
// paper-trading run against docker-compose postgres and redis.
func Defaults() Config {
	return Config{
		Mode: "trade",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sigbot",
			User:          "sigbot",
			SSLMode:       "disable",
			MaxConns:      8,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Scheduler: SchedulerConfig{
			IntervalSec:        60,
			MaxConcurrentTicks: 4,
			LockTTLSec:         120,
		},
		Archive: ArchiveConfig{
			IntervalHours: 24,
			RetentionDays: 30,
		},
		Paper: PaperConfig{
			PredictionCacheTTLSec: 15,
		},
	}
}

// Validate rejects configurations the app cannot start with.
func (c *Config) Validate() error {
	switch c.Mode {
	case "trade", "archive", "full":
	default:
		return fmt.Errorf("config: unknown mode %q (want trade, archive, or full)", c.Mode)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres needs a dsn or host/database/user")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis addr is required")
	}
	if c.Scheduler.IntervalSec <= 0 {
		return fmt.Errorf("config: scheduler interval must be positive")
	}

	if c.Mode == "archive" || c.Mode == "full" {
		if !c.S3.Enabled {
			return fmt.Errorf("config: mode %q needs s3 enabled", c.Mode)
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3 bucket is required when s3 is enabled")
	}
	return nil
}
