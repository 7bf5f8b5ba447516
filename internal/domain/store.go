package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BotStore lists and resolves configured bots.
type BotStore interface {
	Get(ctx context.Context, id string) (Bot, error)
	ListEnabled(ctx context.Context) ([]Bot, error)
	Upsert(ctx context.Context, bot Bot) error
}

// TradeStateStore persists per-(bot, symbol) trade state.
type TradeStateStore interface {
	// Load returns the state row, creating the default lazily when the
	// key has never been seen. The daily window is reset against now.
	Load(ctx context.Context, botID, symbol string, now time.Time) (BotTradeState, error)
	Upsert(ctx context.Context, state BotTradeState) error
}

// CloseOpenParams describes a bulk close of open history entries.
type CloseOpenParams struct {
	BotID       string
	Symbol      string
	ExitTs      time.Time
	ExitPrice   float64
	Outcome     CloseOutcome
	CloseReason string
	ExitOrderID string
}

// TradeHistoryStore persists position lifecycles.
type TradeHistoryStore interface {
	Create(ctx context.Context, entry TradeHistoryEntry) error
	// CloseOpen closes every open entry for (bot, symbol) and returns
	// how many rows it closed. Realized PnL is derived per row from the
	// recorded entry price.
	CloseOpen(ctx context.Context, p CloseOpenParams) (int, error)
	CountOpen(ctx context.Context, botID, symbol string) (int, error)
	// LatestOpen returns the newest open entry, or ErrNotFound.
	LatestOpen(ctx context.Context, botID, symbol string) (TradeHistoryEntry, error)
	// DailyTradeCount counts entries opened since the UTC midnight of
	// now, across all of the bot's symbols.
	DailyTradeCount(ctx context.Context, botID string, now time.Time) (int, error)
	// ListClosedBefore returns closed entries with an exit older than
	// the cutoff, for archival.
	ListClosedBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]TradeHistoryEntry, error)
}

// RiskEventStore is the append-only audit log.
type RiskEventStore interface {
	Write(ctx context.Context, ev RiskEvent) error
	ListByBot(ctx context.Context, botID string, opts ListOpts) ([]RiskEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]RiskEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// KillSwitch is the process-wide trading gate, checked once per tick
// after the decision is made and before any order is placed.
type KillSwitch interface {
	IsGlobalTradingEnabled(ctx context.Context) (bool, error)
}

// LockManager hands out per-key mutual exclusion across processes. The
// scheduler uses it to keep at most one in-flight tick per
// (bot, symbol).
type LockManager interface {
	// Acquire returns a release func, or ErrLockHeld when another
	// holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
