package domain

import "time"

// CloseOutcome classifies why a position lifecycle ended.
type CloseOutcome string

const (
	OutcomeTPHit      CloseOutcome = "tp_hit"
	OutcomeSLHit      CloseOutcome = "sl_hit"
	OutcomeTimeStop   CloseOutcome = "time_stop"
	OutcomeSignalExit CloseOutcome = "signal_exit"
	OutcomeUnknown    CloseOutcome = "unknown"
)

// TradeStatus is the lifecycle state of a history entry.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// BotTradeState is the bot's durable belief about one symbol: counters,
// idempotency hash, and the position it thinks is open. One row per
// (bot, symbol), created lazily on first tick. Only the tick
// orchestrator and reconciliation mutate it.
type BotTradeState struct {
	BotID              string
	Symbol             string
	DailyResetUTC      time.Time
	DailyTradeCount    int
	LastTradeTs        time.Time
	LastPredictionHash string
	LastSignal         Signal
	LastSignalTs       time.Time
	OpenSide           PositionSide // "" when no position is believed open
	OpenQty            float64
	OpenEntryPrice     float64
	OpenTs             time.Time
	UpdatedAt          time.Time
}

// NewBotTradeState returns the default state for a key, with the daily
// window anchored at the current UTC midnight.
func NewBotTradeState(botID, symbol string, now time.Time) BotTradeState {
	return BotTradeState{
		BotID:         botID,
		Symbol:        symbol,
		DailyResetUTC: UTCMidnight(now),
	}
}

// HasOpenPosition reports whether the state believes a position is open.
func (s BotTradeState) HasOpenPosition() bool {
	return s.OpenSide != "" && s.OpenQty > 0
}

// ResetDailyWindow zeroes the trade counter when now has crossed a UTC
// day boundary relative to the recorded reset anchor.
func (s *BotTradeState) ResetDailyWindow(now time.Time) {
	midnight := UTCMidnight(now)
	if s.DailyResetUTC.Before(midnight) {
		s.DailyResetUTC = midnight
		s.DailyTradeCount = 0
	}
}

// ClearOpenPosition drops the open-position fields after an exit or a
// reconciled external close.
func (s *BotTradeState) ClearOpenPosition() {
	s.OpenSide = ""
	s.OpenQty = 0
	s.OpenEntryPrice = 0
	s.OpenTs = time.Time{}
}

// UTCMidnight truncates t to the start of its UTC day.
func UTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// TradeHistoryEntry records one position lifecycle. Created on enter,
// closed exactly once, immutable afterwards.
type TradeHistoryEntry struct {
	ID              string
	BotID           string
	Symbol          string
	Side            PositionSide
	EntryTs         time.Time
	EntryPrice      float64
	Qty             float64
	NotionalUSD     float64
	Leverage        int
	StopLossPrice   float64 // 0 when no stop was placed
	TakeProfitPrice float64
	PredictionHash  string
	EntryOrderID    string
	Status          TradeStatus
	ExitTs          time.Time
	ExitPrice       float64
	ExitOrderID     string
	Outcome         CloseOutcome
	CloseReason     string
	RealizedPnLUSD  float64
}

// RealizedPnL computes entry-vs-exit PnL for the entry's side and qty.
func (e TradeHistoryEntry) RealizedPnL(exitPrice float64) float64 {
	return UnrealizedPnLUSD(e.Side, e.Qty, e.EntryPrice, exitPrice)
}

// RiskEvent is one append-only audit record. Write-once, never mutated.
type RiskEvent struct {
	ID      int64
	BotID   string
	Type    string
	Message string
	Meta    map[string]any
	Ts      time.Time
}

// Risk event types emitted by the core.
const (
	EventPredictionUpdate = "prediction_update"
	EventDecision         = "decision"
	EventEntryPlaced      = "entry_placed"
	EventExitPlaced       = "exit_placed"
	EventExternalClose    = "external_close_reconciled"
	EventReconcileError   = "reconcile_error"
	EventBookkeepingError = "bookkeeping_error"
	EventTradingDisabled  = "trading_disabled"
	EventSourceMismatch   = "prediction_source_mismatch"
)
