package botconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/sigbot/internal/domain"
)

func TestResolveDefaults(t *testing.T) {
	cfg := Resolve(map[string]any{})

	assert.Equal(t, "futures", cfg.MarketType)
	assert.Equal(t, "1h", cfg.Timeframe)
	assert.Equal(t, 70.0, cfg.MinConfidence)
	assert.Equal(t, 900, cfg.MaxPredictionAgeSec)
	assert.Equal(t, SizingFixedUSD, cfg.SizingMode)
	assert.Equal(t, 100.0, cfg.SizingValue)
	assert.Equal(t, 1, cfg.Leverage)

	assert.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 10, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 120, cfg.Risk.CooldownSecAfterTrade)
	assert.Equal(t, 1000.0, cfg.Risk.MaxNotionalPerSymbolUSD)
	assert.Equal(t, 5000.0, cfg.Risk.MaxTotalNotionalUSD)
	assert.Zero(t, cfg.Risk.StopLossPct)
	assert.Zero(t, cfg.Risk.TakeProfitPct)
	assert.Zero(t, cfg.Risk.TimeStopMin)

	assert.Equal(t, []string{"data_gap", "low_liquidity"}, cfg.Filters.BlockTags)
	assert.Empty(t, cfg.Filters.RequireTags)
	assert.Equal(t, []domain.Signal{domain.SignalUp, domain.SignalDown}, cfg.Filters.AllowSignals)

	assert.Equal(t, OrderMarket, cfg.Execution.OrderType)
	assert.Equal(t, 5.0, cfg.Execution.LimitOffsetBps)
	assert.True(t, cfg.Execution.ReduceOnlyOnExit)
	assert.Equal(t, "cross", cfg.Execution.MarginMode)

	assert.True(t, cfg.Exits.OnSignalFlip)
	assert.False(t, cfg.Exits.OnConfidenceDrop)

	assert.Equal(t, 10000.0, cfg.Paper.StartingBalanceUSD)
}

func TestResolveExplicitValues(t *testing.T) {
	cfg := Resolve(map[string]any{
		"exchange":               "Bitget",
		"account_id":             " main ",
		"symbols":                []string{" btcusdt ", "ETHUSDT", ""},
		"timeframe":              "15m",
		"min_confidence":         82.5,
		"max_prediction_age_sec": 300,
		"sizing_mode":            "equity_pct",
		"sizing_value":           2.5,
		"leverage":               3.9,
		"prediction_id":          "pred-123",
		"risk": map[string]any{
			"max_open_positions": 2,
			"stop_loss_pct":      1.5,
			"take_profit_pct":    3.0,
			"time_stop_min":      240,
		},
		"filters": map[string]any{
			"block_tags":    []string{"EARNINGS", " "},
			"require_tags":  []string{"Momentum"},
			"allow_signals": []string{"up"},
		},
		"execution": map[string]any{
			"order_type":  "limit",
			"margin_mode": "isolated",
		},
	})

	assert.Equal(t, "bitget", cfg.Exchange)
	assert.Equal(t, "main", cfg.AccountID)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, "15m", cfg.Timeframe)
	assert.Equal(t, 82.5, cfg.MinConfidence)
	assert.Equal(t, 300, cfg.MaxPredictionAgeSec)
	assert.Equal(t, SizingEquityPct, cfg.SizingMode)
	assert.Equal(t, 2.5, cfg.SizingValue)
	assert.Equal(t, 3, cfg.Leverage, "fractional leverage floors")
	assert.Equal(t, "pred-123", cfg.PredictionID)

	assert.Equal(t, 2, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 1.5, cfg.Risk.StopLossPct)
	assert.Equal(t, 3.0, cfg.Risk.TakeProfitPct)
	assert.Equal(t, 240, cfg.Risk.TimeStopMin)

	assert.Equal(t, []string{"earnings"}, cfg.Filters.BlockTags)
	assert.Equal(t, []string{"momentum"}, cfg.Filters.RequireTags)
	assert.Equal(t, []domain.Signal{domain.SignalUp}, cfg.Filters.AllowSignals)

	assert.Equal(t, OrderLimit, cfg.Execution.OrderType)
	assert.Equal(t, "isolated", cfg.Execution.MarginMode)
}

func TestResolveClampsOutOfRange(t *testing.T) {
	cfg := Resolve(map[string]any{
		"min_confidence":         150.0,
		"max_prediction_age_sec": 5,
		"leverage":               500,
		"risk": map[string]any{
			"max_open_positions":       0,
			"max_daily_trades":         99999,
			"cooldown_sec_after_trade": -10,
			"stop_loss_pct":            95.0,
		},
	})

	assert.Equal(t, 100.0, cfg.MinConfidence)
	assert.Equal(t, 30, cfg.MaxPredictionAgeSec)
	assert.Equal(t, 125, cfg.Leverage)
	assert.Equal(t, 1, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 1000, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 0, cfg.Risk.CooldownSecAfterTrade)
	assert.Equal(t, 90.0, cfg.Risk.StopLossPct)
}

func TestResolveTotalCapCoversPerSymbolCap(t *testing.T) {
	cfg := Resolve(map[string]any{
		"risk": map[string]any{
			"max_notional_per_symbol_usd": 4000.0,
			"max_total_notional_usd":      2000.0,
		},
	})
	assert.Equal(t, 4000.0, cfg.Risk.MaxNotionalPerSymbolUSD)
	assert.Equal(t, 4000.0, cfg.Risk.MaxTotalNotionalUSD, "total cap raised to the per-symbol cap")
}

func TestResolveTradingNamespaceWins(t *testing.T) {
	cfg := Resolve(map[string]any{
		"min_confidence": 50.0,
		"sizing_mode":    "fixed_usd",
		"trading": map[string]any{
			"min_confidence": 90.0,
			"sizing_mode":    "risk_pct",
		},
	})
	assert.Equal(t, 90.0, cfg.MinConfidence)
	assert.Equal(t, SizingRiskPct, cfg.SizingMode)
}

func TestResolveToleratesGarbage(t *testing.T) {
	cfg := Resolve(map[string]any{
		"min_confidence": "not a number",
		"leverage":       []string{"nope"},
		"sizing_mode":    "yolo",
		"risk":           "flat string where a table belongs",
		"filters": map[string]any{
			"allow_signals": []string{"sideways", "neutral"},
		},
	})

	assert.Equal(t, 70.0, cfg.MinConfidence)
	assert.Equal(t, 1, cfg.Leverage)
	assert.Equal(t, SizingFixedUSD, cfg.SizingMode)
	assert.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	// neutral and unknown values never make the allow-list; empty input
	// falls back to both directional signals.
	assert.Equal(t, []domain.Signal{domain.SignalUp, domain.SignalDown}, cfg.Filters.AllowSignals)
}

func TestResolveWeakTyping(t *testing.T) {
	cfg := Resolve(map[string]any{
		"min_confidence": "85",
		"leverage":       "10",
		"risk": map[string]any{
			"max_daily_trades": "5",
		},
		"exits": map[string]any{
			"on_signal_flip": "false",
		},
	})

	assert.Equal(t, 85.0, cfg.MinConfidence)
	assert.Equal(t, 10, cfg.Leverage)
	assert.Equal(t, 5, cfg.Risk.MaxDailyTrades)
	assert.False(t, cfg.Exits.OnSignalFlip)
}

func TestResolveSizingValueDefaultTracksMode(t *testing.T) {
	fixed := Resolve(map[string]any{"sizing_mode": "fixed_usd"})
	pct := Resolve(map[string]any{"sizing_mode": "equity_pct"})
	risk := Resolve(map[string]any{"sizing_mode": "risk_pct", "sizing_value": -4.0})

	assert.Equal(t, 100.0, fixed.SizingValue)
	assert.Equal(t, 5.0, pct.SizingValue)
	assert.Equal(t, 5.0, risk.SizingValue, "non-positive sizing value resets to the mode default")
}

func TestConfigHasSymbolAndAllowsSignal(t *testing.T) {
	cfg := Resolve(map[string]any{
		"symbols": []string{"BTCUSDT"},
		"filters": map[string]any{"allow_signals": []string{"down"}},
	})

	assert.True(t, cfg.HasSymbol("BTCUSDT"))
	assert.False(t, cfg.HasSymbol("ETHUSDT"))
	assert.True(t, cfg.AllowsSignal(domain.SignalDown))
	assert.False(t, cfg.AllowsSignal(domain.SignalUp))
}
