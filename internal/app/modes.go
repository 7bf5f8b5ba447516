package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/sigbot/internal/scheduler"
)

// TradeMode runs the tick scheduler until shutdown.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	sched := scheduler.New(scheduler.Config{
		Interval:      time.Duration(a.cfg.Scheduler.IntervalSec) * time.Second,
		MaxConcurrent: a.cfg.Scheduler.MaxConcurrentTicks,
		LockTTL:       time.Duration(a.cfg.Scheduler.LockTTLSec) * time.Second,
	}, deps.Bots, deps.Runner, deps.Locks, a.logger)
	return sched.Run(ctx)
}

// ArchiveMode runs the archival loop alone, for a dedicated worker.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	return a.archiveLoop(ctx, deps)
}

// FullMode runs trading and archival side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.TradeMode(ctx, deps) })
	g.Go(func() error { return a.archiveLoop(ctx, deps) })
	return g.Wait()
}

// archiveLoop periodically ships old risk events and closed trade
// history to object storage. One failed pass waits for the next.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := time.Duration(a.cfg.Archive.IntervalHours) * time.Hour
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-retention)
		if n, err := deps.Archiver.ArchiveRiskEvents(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "risk event archive failed", slog.Any("error", err))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "risk event archive pass done", slog.Int("count", n))
		}
		if n, err := deps.Archiver.ArchiveTradeHistory(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "trade history archive failed", slog.Any("error", err))
		} else if n > 0 {
			a.logger.InfoContext(ctx, "trade history archive pass done", slog.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
