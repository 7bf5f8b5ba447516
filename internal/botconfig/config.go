// Package botconfig turns a bot's raw parameter bag into a validated,
// clamped, strongly-typed trading configuration. Resolution never
// fails: unusable input degrades to documented defaults so a
// misconfigured bot skips trades instead of crashing the tick loop.
package botconfig

import "github.com/quantfold/sigbot/internal/domain"

// SizingMode selects how the per-trade notional is derived.
type SizingMode string

const (
	SizingFixedUSD  SizingMode = "fixed_usd"
	SizingEquityPct SizingMode = "equity_pct"
	SizingRiskPct   SizingMode = "risk_pct"
)

// OrderType is the entry order style.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Config is the fully resolved per-bot trading configuration. Rebuilt
// from the stored parameter bag on every tick.
type Config struct {
	Exchange   string
	AccountID  string
	Symbols    []string
	MarketType string
	Timeframe  string

	MinConfidence       float64 // percent, 0-100
	MaxPredictionAgeSec int

	SizingMode  SizingMode
	SizingValue float64
	Leverage    int

	Risk      RiskConfig
	Filters   FilterConfig
	Execution ExecConfig
	Exits     ExitConfig
	Paper     PaperConfig

	// PredictionID pins the bot to one upstream prediction row instead
	// of the latest for its key. Empty means latest.
	PredictionID string
}

// RiskConfig bounds exposure and trade frequency.
type RiskConfig struct {
	MaxOpenPositions        int
	MaxDailyTrades          int
	CooldownSecAfterTrade   int
	MaxNotionalPerSymbolUSD float64
	MaxTotalNotionalUSD     float64
	StopLossPct             float64 // 0 = not configured
	TakeProfitPct           float64 // 0 = not configured
	TimeStopMin             int     // 0 = not configured
}

// FilterConfig gates which predictions are tradable at all.
type FilterConfig struct {
	BlockTags          []string
	RequireTags        []string
	AllowSignals       []domain.Signal
	MinExpectedMovePct float64
}

// ExecConfig holds order-placement preferences.
type ExecConfig struct {
	OrderType        OrderType
	LimitOffsetBps   float64
	ReduceOnlyOnExit bool
	MarginMode       string
}

// ExitConfig toggles signal-driven exits of an open position.
type ExitConfig struct {
	OnSignalFlip     bool
	OnConfidenceDrop bool
}

// PaperConfig parametrizes the simulated-ledger adapter.
type PaperConfig struct {
	StartingBalanceUSD float64
}

// HasSymbol reports whether the config trades the given symbol.
func (c Config) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// AllowsSignal reports whether the signal passes the allow-list.
func (c Config) AllowsSignal(sig domain.Signal) bool {
	for _, s := range c.Filters.AllowSignals {
		if s == sig {
			return true
		}
	}
	return false
}
