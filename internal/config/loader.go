package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads an optional TOML file on top of the defaults, then
// applies SIGBOT_* environment overrides. The caller validates.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional; missing is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time
// without touching the TOML file. A variable only wins when set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "SIGBOT_MODE")
	setStr(&cfg.Log.Level, "SIGBOT_LOG_LEVEL")
	setStr(&cfg.Log.Format, "SIGBOT_LOG_FORMAT")

	setStr(&cfg.Postgres.DSN, "SIGBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.MaxConns, "SIGBOT_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "SIGBOT_POSTGRES_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "SIGBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SIGBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "SIGBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SIGBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SIGBOT_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Notify.TelegramToken, "SIGBOT_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGBOT_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGBOT_DISCORD_WEBHOOK_URL")

	setInt(&cfg.Scheduler.IntervalSec, "SIGBOT_SCHEDULER_INTERVAL_SEC")
	setInt(&cfg.Scheduler.MaxConcurrentTicks, "SIGBOT_SCHEDULER_MAX_CONCURRENT_TICKS")
	setInt(&cfg.Scheduler.LockTTLSec, "SIGBOT_SCHEDULER_LOCK_TTL_SEC")

	setInt(&cfg.Archive.IntervalHours, "SIGBOT_ARCHIVE_INTERVAL_HOURS")
	setInt(&cfg.Archive.RetentionDays, "SIGBOT_ARCHIVE_RETENTION_DAYS")

	setStr(&cfg.Bitget.BaseURL, "SIGBOT_BITGET_BASE_URL")
	setStr(&cfg.Bitget.APIKey, "SIGBOT_BITGET_API_KEY")
	setStr(&cfg.Bitget.APISecret, "SIGBOT_BITGET_API_SECRET")
	setStr(&cfg.Bitget.Passphrase, "SIGBOT_BITGET_PASSPHRASE")

	setInt(&cfg.Paper.PredictionCacheTTLSec, "SIGBOT_PREDICTION_CACHE_TTL_SEC")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
