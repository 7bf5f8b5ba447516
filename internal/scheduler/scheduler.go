// Package scheduler drives the outer cadence: every interval it lists
// the enabled bots and ticks each (bot, symbol) pair through a worker
// pool. A distributed lock per pair upholds the single-in-flight-tick
// invariant the core depends on; a pair whose lock is held is skipped,
// never queued.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/sigbot/internal/cache/redis"
	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/tick"
)

// Config tunes the loop.
type Config struct {
	Interval      time.Duration
	MaxConcurrent int
	LockTTL       time.Duration
}

// Scheduler owns the tick cadence for every configured bot.
type Scheduler struct {
	cfg    Config
	bots   domain.BotStore
	runner *tick.Runner
	locks  domain.LockManager
	logger *slog.Logger
}

func New(cfg Config, bots domain.BotStore, runner *tick.Runner, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Scheduler{
		cfg:    cfg,
		bots:   bots,
		runner: runner,
		locks:  locks,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled. The first cycle starts
// immediately rather than one interval in.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("max_concurrent", s.cfg.MaxConcurrent))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle ticks every (bot, symbol) once. Per-pair failures are logged
// and retried next cycle; they never kill the loop.
func (s *Scheduler) cycle(ctx context.Context) {
	bots, err := s.bots.ListEnabled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list bots failed", slog.Any("error", err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	for _, bot := range bots {
		for _, symbol := range bot.Symbols {
			g.Go(func() error {
				s.tickOne(gctx, bot, symbol)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (s *Scheduler) tickOne(ctx context.Context, bot domain.Bot, symbol string) {
	release, err := s.locks.Acquire(ctx, redis.TickLockKey(bot.ID, symbol), s.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		s.logger.DebugContext(ctx, "tick already in flight, skipping",
			slog.String("bot", bot.ID), slog.String("symbol", symbol))
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "tick lock failed",
			slog.String("bot", bot.ID), slog.String("symbol", symbol), slog.Any("error", err))
		return
	}
	defer release()

	start := time.Now()
	result, err := s.runner.Tick(ctx, bot, symbol)
	if err != nil {
		s.logger.ErrorContext(ctx, "tick failed, will retry next cycle",
			slog.String("bot", bot.ID),
			slog.String("symbol", symbol),
			slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, "tick done",
		slog.String("bot", bot.ID),
		slog.String("symbol", symbol),
		slog.String("status", string(result.Status)),
		slog.String("reason", result.Reason),
		slog.Duration("took", time.Since(start)))
}
