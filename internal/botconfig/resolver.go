package botconfig

import (
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/quantfold/sigbot/internal/domain"
)

// Documented defaults. Every enum falls back to these on invalid input
// and every numeric is clamped to its range, so Resolve always returns
// a usable Config.
const (
	defaultMinConfidence       = 70.0
	defaultMaxPredictionAgeSec = 900
	defaultSizingValueUSD      = 100.0
	defaultSizingValuePct      = 5.0
	defaultMaxOpenPositions    = 3
	defaultMaxDailyTrades      = 10
	defaultCooldownSec         = 120
	defaultPerSymbolUSD        = 1000.0
	defaultTotalUSD            = 5000.0
	defaultLimitOffsetBps      = 5.0
	defaultPaperBalanceUSD     = 10000.0
)

var defaultBlockTags = []string{"data_gap", "low_liquidity"}

// rawConfig is the first parse stage: loosely typed, pointers where a
// zero value must stay distinguishable from "not provided".
type rawConfig struct {
	Exchange            string   `mapstructure:"exchange"`
	AccountID           string   `mapstructure:"account_id"`
	Symbols             []string `mapstructure:"symbols"`
	MarketType          string   `mapstructure:"market_type"`
	Timeframe           string   `mapstructure:"timeframe"`
	MinConfidence       *float64 `mapstructure:"min_confidence"`
	MaxPredictionAgeSec *int     `mapstructure:"max_prediction_age_sec"`
	SizingMode          string   `mapstructure:"sizing_mode"`
	SizingValue         *float64 `mapstructure:"sizing_value"`
	Leverage            *float64 `mapstructure:"leverage"`
	PredictionID        string   `mapstructure:"prediction_id"`

	Risk struct {
		MaxOpenPositions        *int     `mapstructure:"max_open_positions"`
		MaxDailyTrades          *int     `mapstructure:"max_daily_trades"`
		CooldownSecAfterTrade   *int     `mapstructure:"cooldown_sec_after_trade"`
		MaxNotionalPerSymbolUSD *float64 `mapstructure:"max_notional_per_symbol_usd"`
		MaxTotalNotionalUSD     *float64 `mapstructure:"max_total_notional_usd"`
		StopLossPct             *float64 `mapstructure:"stop_loss_pct"`
		TakeProfitPct           *float64 `mapstructure:"take_profit_pct"`
		TimeStopMin             *int     `mapstructure:"time_stop_min"`
	} `mapstructure:"risk"`

	Filters struct {
		BlockTags          *[]string `mapstructure:"block_tags"`
		RequireTags        []string  `mapstructure:"require_tags"`
		AllowSignals       []string  `mapstructure:"allow_signals"`
		MinExpectedMovePct *float64  `mapstructure:"min_expected_move_pct"`
	} `mapstructure:"filters"`

	Execution struct {
		OrderType        string   `mapstructure:"order_type"`
		LimitOffsetBps   *float64 `mapstructure:"limit_offset_bps"`
		ReduceOnlyOnExit *bool    `mapstructure:"reduce_only_on_exit"`
		MarginMode       string   `mapstructure:"margin_mode"`
	} `mapstructure:"execution"`

	Exits struct {
		OnSignalFlip     *bool `mapstructure:"on_signal_flip"`
		OnConfidenceDrop *bool `mapstructure:"on_confidence_drop"`
	} `mapstructure:"exits"`

	Paper struct {
		StartingBalanceUSD *float64 `mapstructure:"starting_balance_usd"`
	} `mapstructure:"paper"`
}

// Resolve parses a bot's parameter bag into a Config. The bag may keep
// its trading params under a "trading" namespace key; nested values win
// over top-level ones. Resolve never fails and has no side effects.
func Resolve(params map[string]any) Config {
	var raw rawConfig
	decode(flatten(params), &raw)

	cfg := Config{
		Exchange:            strings.ToLower(strings.TrimSpace(raw.Exchange)),
		AccountID:           strings.TrimSpace(raw.AccountID),
		Symbols:             cleanSymbols(raw.Symbols),
		MarketType:          stringOr(raw.MarketType, "futures"),
		Timeframe:           stringOr(raw.Timeframe, "1h"),
		MinConfidence:       clampF(floatOr(raw.MinConfidence, defaultMinConfidence), 0, 100),
		MaxPredictionAgeSec: clampI(intOr(raw.MaxPredictionAgeSec, defaultMaxPredictionAgeSec), 30, 86400),
		SizingMode:          sizingMode(raw.SizingMode),
		PredictionID:        strings.TrimSpace(raw.PredictionID),
	}

	sizingDefault := defaultSizingValueUSD
	if cfg.SizingMode != SizingFixedUSD {
		sizingDefault = defaultSizingValuePct
	}
	cfg.SizingValue = floatOr(raw.SizingValue, sizingDefault)
	if cfg.SizingValue <= 0 {
		cfg.SizingValue = sizingDefault
	}

	lev := floatOr(raw.Leverage, 1)
	cfg.Leverage = clampI(int(math.Floor(lev)), 1, 125)

	cfg.Risk = RiskConfig{
		MaxOpenPositions:        clampI(intOr(raw.Risk.MaxOpenPositions, defaultMaxOpenPositions), 1, 100),
		MaxDailyTrades:          clampI(intOr(raw.Risk.MaxDailyTrades, defaultMaxDailyTrades), 1, 1000),
		CooldownSecAfterTrade:   clampI(intOr(raw.Risk.CooldownSecAfterTrade, defaultCooldownSec), 0, 86400),
		MaxNotionalPerSymbolUSD: clampF(floatOr(raw.Risk.MaxNotionalPerSymbolUSD, defaultPerSymbolUSD), 10, 1e7),
		MaxTotalNotionalUSD:     clampF(floatOr(raw.Risk.MaxTotalNotionalUSD, defaultTotalUSD), 10, 1e8),
		StopLossPct:             clampF(floatOr(raw.Risk.StopLossPct, 0), 0, 90),
		TakeProfitPct:           clampF(floatOr(raw.Risk.TakeProfitPct, 0), 0, 1000),
		TimeStopMin:             clampI(intOr(raw.Risk.TimeStopMin, 0), 0, 10080),
	}
	// The per-symbol cap can never exceed the total cap.
	if cfg.Risk.MaxTotalNotionalUSD < cfg.Risk.MaxNotionalPerSymbolUSD {
		cfg.Risk.MaxTotalNotionalUSD = cfg.Risk.MaxNotionalPerSymbolUSD
	}

	cfg.Filters = FilterConfig{
		BlockTags:          defaultBlockTags,
		RequireTags:        cleanTags(raw.Filters.RequireTags),
		AllowSignals:       allowSignals(raw.Filters.AllowSignals),
		MinExpectedMovePct: clampF(floatOr(raw.Filters.MinExpectedMovePct, 0), 0, 100),
	}
	if raw.Filters.BlockTags != nil {
		cfg.Filters.BlockTags = cleanTags(*raw.Filters.BlockTags)
	}

	cfg.Execution = ExecConfig{
		OrderType:        orderType(raw.Execution.OrderType),
		LimitOffsetBps:   clampF(floatOr(raw.Execution.LimitOffsetBps, defaultLimitOffsetBps), 0, 100),
		ReduceOnlyOnExit: boolOr(raw.Execution.ReduceOnlyOnExit, true),
		MarginMode:       marginMode(raw.Execution.MarginMode),
	}

	cfg.Exits = ExitConfig{
		OnSignalFlip:     boolOr(raw.Exits.OnSignalFlip, true),
		OnConfidenceDrop: boolOr(raw.Exits.OnConfidenceDrop, false),
	}

	cfg.Paper = PaperConfig{
		StartingBalanceUSD: clampF(floatOr(raw.Paper.StartingBalanceUSD, defaultPaperBalanceUSD), 1, 1e9),
	}

	return cfg
}

// flatten merges a nested "trading" namespace over the top-level keys.
func flatten(params map[string]any) map[string]any {
	nested, ok := params["trading"].(map[string]any)
	if !ok {
		return params
	}
	merged := make(map[string]any, len(params)+len(nested))
	for k, v := range params {
		if k != "trading" {
			merged[k] = v
		}
	}
	for k, v := range nested {
		merged[k] = v
	}
	return merged
}

// decode runs the weakly-typed first stage. Decode errors are dropped
// on purpose: fields that fail to coerce keep their zero value and the
// clamp stage substitutes defaults.
func decode(params map[string]any, out *rawConfig) {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return
	}
	_ = dec.Decode(params)
}

func sizingMode(s string) SizingMode {
	switch SizingMode(strings.ToLower(strings.TrimSpace(s))) {
	case SizingEquityPct:
		return SizingEquityPct
	case SizingRiskPct:
		return SizingRiskPct
	default:
		return SizingFixedUSD
	}
}

func orderType(s string) OrderType {
	if OrderType(strings.ToLower(strings.TrimSpace(s))) == OrderLimit {
		return OrderLimit
	}
	return OrderMarket
}

func marginMode(s string) string {
	if strings.ToLower(strings.TrimSpace(s)) == "isolated" {
		return "isolated"
	}
	return "cross"
}

func allowSignals(in []string) []domain.Signal {
	out := make([]domain.Signal, 0, len(in))
	for _, s := range in {
		switch sig := domain.Signal(strings.ToLower(strings.TrimSpace(s))); sig {
		case domain.SignalUp, domain.SignalDown:
			out = append(out, sig)
		}
	}
	if len(out) == 0 {
		return []domain.Signal{domain.SignalUp, domain.SignalDown}
	}
	return out
}

func cleanSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func clampF(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floatOr(p *float64, def float64) float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
