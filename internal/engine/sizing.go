package engine

import (
	"github.com/quantfold/sigbot/internal/botconfig"
	"github.com/quantfold/sigbot/internal/domain"
)

// SizeNotional derives the margin budget for one trade from config and
// account equity, before leverage.
//
//	fixed_usd:  the configured dollar value
//	equity_pct: equity * value/100
//	risk_pct:   equity * value/100, scaled up by the stop distance when
//	            a stop-loss percent is configured (risking value% of
//	            equity if the stop fires), else the raw risk budget
func SizeNotional(cfg botconfig.Config, equityUSD float64) float64 {
	switch cfg.SizingMode {
	case botconfig.SizingEquityPct:
		if equityUSD <= 0 {
			return 0
		}
		return equityUSD * cfg.SizingValue / 100
	case botconfig.SizingRiskPct:
		if equityUSD <= 0 {
			return 0
		}
		budget := equityUSD * cfg.SizingValue / 100
		if cfg.Risk.StopLossPct > 0 {
			return budget / (cfg.Risk.StopLossPct / 100)
		}
		return budget
	default:
		return cfg.SizingValue
	}
}

// CandidateNotional is the position value the trade would add.
func CandidateNotional(cfg botconfig.Config, equityUSD float64) float64 {
	return SizeNotional(cfg, equityUSD) * float64(cfg.Leverage)
}

// Qty converts a notional into a base-asset quantity at the mark.
func Qty(notionalUSD, markPrice float64) float64 {
	if markPrice <= 0 {
		return 0
	}
	return notionalUSD / markPrice
}

// LimitEntryPrice offsets the mark toward the fill side so a limit
// entry rests slightly through the book.
func LimitEntryPrice(side domain.PositionSide, markPrice, offsetBps float64) float64 {
	if side == domain.SideShort {
		return markPrice * (1 - offsetBps/10000)
	}
	return markPrice * (1 + offsetBps/10000)
}

// ExitPrices are the protective prices attached to an entry order.
// Zero means "no order of that kind".
type ExitPrices struct {
	StopLoss   float64
	TakeProfit float64
}

// ResolveExitPrices derives absolute TP/SL prices for an entry at
// refPrice. Configured percent offsets win over the prediction's own
// absolute prices. A candidate on the wrong side of the reference
// (a long stop above the mark, say) would trigger the instant the
// order book ticks, so it is dropped rather than clamped.
func ResolveExitPrices(cfg botconfig.Config, side domain.PositionSide, refPrice float64, pred *domain.Prediction) ExitPrices {
	if refPrice <= 0 {
		return ExitPrices{}
	}

	var out ExitPrices
	dir := 1.0
	if side == domain.SideShort {
		dir = -1.0
	}

	if cfg.Risk.StopLossPct > 0 {
		out.StopLoss = refPrice * (1 - dir*cfg.Risk.StopLossPct/100)
	} else if pred != nil && pred.StopLossPrice > 0 {
		out.StopLoss = pred.StopLossPrice
	}
	if cfg.Risk.TakeProfitPct > 0 {
		out.TakeProfit = refPrice * (1 + dir*cfg.Risk.TakeProfitPct/100)
	} else if pred != nil && pred.TakeProfitPrice > 0 {
		out.TakeProfit = pred.TakeProfitPrice
	}

	if !validStop(side, refPrice, out.StopLoss) {
		out.StopLoss = 0
	}
	if !validTarget(side, refPrice, out.TakeProfit) {
		out.TakeProfit = 0
	}
	return out
}

// validStop: long SL < ref, short SL > ref.
func validStop(side domain.PositionSide, ref, sl float64) bool {
	if sl <= 0 {
		return false
	}
	if side == domain.SideShort {
		return sl > ref
	}
	return sl < ref
}

// validTarget: long TP > ref, short TP < ref.
func validTarget(side domain.PositionSide, ref, tp float64) bool {
	if tp <= 0 {
		return false
	}
	if side == domain.SideShort {
		return tp < ref
	}
	return tp > ref
}
