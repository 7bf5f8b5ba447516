package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/quantfold/sigbot/internal/blob/s3"
	"github.com/quantfold/sigbot/internal/botconfig"
	redisc "github.com/quantfold/sigbot/internal/cache/redis"
	"github.com/quantfold/sigbot/internal/config"
	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/exchange"
	"github.com/quantfold/sigbot/internal/exchange/bitget"
	"github.com/quantfold/sigbot/internal/exchange/paper"
	"github.com/quantfold/sigbot/internal/notify"
	"github.com/quantfold/sigbot/internal/reconcile"
	"github.com/quantfold/sigbot/internal/store/postgres"
	"github.com/quantfold/sigbot/internal/tick"
)

// Dependencies holds everything the modes run on.
type Dependencies struct {
	Bots     domain.BotStore
	States   domain.TradeStateStore
	History  domain.TradeHistoryStore
	Events   domain.RiskEventStore
	Locks    domain.LockManager
	Runner   *tick.Runner
	Archiver *s3blob.Archiver // nil unless s3 is enabled
}

// Wire builds the full dependency graph. The returned cleanup closes
// connections in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(err)
		}
	}

	rds, err := redisc.New(ctx, redisc.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = rds.Close() })

	pool := pg.Pool()
	bots := postgres.NewBotStore(pool)
	states := postgres.NewTradeStateStore(pool)
	history := postgres.NewTradeHistoryStore(pool)
	events := postgres.NewRiskEventStore(pool)
	paperLedger := postgres.NewPaperStore(pool)

	var predictions domain.PredictionSource = postgres.NewPredictionStore(pool)
	predictions = redisc.NewPredictionCache(rds, predictions,
		time.Duration(cfg.Paper.PredictionCacheTTLSec)*time.Second)

	kill := redisc.NewKillSwitch(rds)
	locks := redisc.NewLockManager(rds)

	// Public market data for paper fills comes from the bitget ticker;
	// no credentials needed.
	marketData := bitget.NewClient(cfg.Bitget.BaseURL, bitget.Credentials{})
	prices := &bitgetPrices{client: marketData}

	registry := exchange.NewRegistry()
	registry.Register("paper", func(ctx context.Context, bot domain.Bot, bcfg botconfig.Config) (exchange.Adapter, error) {
		return paper.New(ctx, bot.ID, bcfg.AccountID, bcfg.Paper.StartingBalanceUSD, paperLedger, prices, logger)
	})
	registry.Register("bitget", func(ctx context.Context, bot domain.Bot, bcfg botconfig.Config) (exchange.Adapter, error) {
		creds := bitgetCredentials(cfg, bot)
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, fmt.Errorf("app: bot %s: bitget credentials missing", bot.ID)
		}
		return bitget.New(bitget.NewClient(cfg.Bitget.BaseURL, creds), logger), nil
	})

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.New(senders, logger)

	runner := tick.NewRunner(tick.Deps{
		Registry:    registry,
		States:      states,
		History:     history,
		Events:      events,
		Predictions: predictions,
		Kill:        kill,
		Reconciler:  reconcile.New(states, history, events, logger),
		Notifier:    notifier,
	}, logger)

	deps := &Dependencies{
		Bots:    bots,
		States:  states,
		History: history,
		Events:  events,
		Locks:   locks,
		Runner:  runner,
	}

	if cfg.S3.Enabled {
		blob, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(err)
		}
		if err := blob.Health(ctx); err != nil {
			return fail(err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(blob), events, history, logger)
	}

	return deps, cleanup, nil
}

// bitgetCredentials prefers per-bot credentials from the parameter bag
// and falls back to the app-level ones.
func bitgetCredentials(cfg *config.Config, bot domain.Bot) bitget.Credentials {
	creds := bitget.Credentials{
		APIKey:     cfg.Bitget.APIKey,
		APISecret:  cfg.Bitget.APISecret,
		Passphrase: cfg.Bitget.Passphrase,
	}
	raw, ok := bot.Params["bitget"].(map[string]any)
	if !ok {
		return creds
	}
	if v, ok := raw["api_key"].(string); ok && v != "" {
		creds.APIKey = v
	}
	if v, ok := raw["api_secret"].(string); ok && v != "" {
		creds.APISecret = v
	}
	if v, ok := raw["passphrase"].(string); ok && v != "" {
		creds.Passphrase = v
	}
	return creds
}

// bitgetPrices adapts the public ticker to the paper price source.
type bitgetPrices struct {
	client *bitget.Client
}

func (b *bitgetPrices) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if !strings.Contains(symbol, "_") {
		symbol += "_UMCBL"
	}
	return b.client.Ticker(ctx, symbol)
}
