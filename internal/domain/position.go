package domain

// PositionSide is the direction of exchange exposure.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other side.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// SideForSignal maps a directional signal to the position side it opens.
// Neutral has no side and returns "".
func SideForSignal(sig Signal) PositionSide {
	switch sig {
	case SignalUp:
		return SideLong
	case SignalDown:
		return SideShort
	default:
		return ""
	}
}

// NormalizedPosition is one unit of live exchange exposure as reported
// by an execution adapter. Derived each tick, never persisted.
type NormalizedPosition struct {
	Symbol     string
	Side       PositionSide
	Size       float64
	EntryPrice float64
	MarkPrice  float64
}

// NotionalUSD values the position at its mark price, falling back to
// entry price when the adapter reported no mark.
func (p NormalizedPosition) NotionalUSD() float64 {
	price := p.MarkPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Size * price
}

// AggregatePositions sums same-side exposure per symbol. Adapters may
// report several rows for one symbol (hedged sub-positions, partial
// fills); the decision engine wants one row per (symbol, side) with a
// size-weighted entry price.
func AggregatePositions(positions []NormalizedPosition) []NormalizedPosition {
	type key struct {
		symbol string
		side   PositionSide
	}
	order := make([]key, 0, len(positions))
	agg := make(map[key]NormalizedPosition, len(positions))
	for _, p := range positions {
		if p.Size <= 0 {
			continue
		}
		k := key{p.Symbol, p.Side}
		cur, ok := agg[k]
		if !ok {
			order = append(order, k)
			agg[k] = p
			continue
		}
		total := cur.Size + p.Size
		cur.EntryPrice = (cur.EntryPrice*cur.Size + p.EntryPrice*p.Size) / total
		if p.MarkPrice > 0 {
			cur.MarkPrice = p.MarkPrice
		}
		cur.Size = total
		agg[k] = cur
	}
	out := make([]NormalizedPosition, 0, len(order))
	for _, k := range order {
		out = append(out, agg[k])
	}
	return out
}

// FindPosition returns the aggregated position for symbol, or nil.
// When both sides exist the larger one wins; the caller treats it as
// the dominant exposure for that symbol.
func FindPosition(positions []NormalizedPosition, symbol string) *NormalizedPosition {
	var best *NormalizedPosition
	for i := range positions {
		p := &positions[i]
		if p.Symbol != symbol || p.Size <= 0 {
			continue
		}
		if best == nil || p.Size > best.Size {
			best = p
		}
	}
	return best
}

// UnrealizedPnLUSD computes open PnL for a position at the given mark.
func UnrealizedPnLUSD(side PositionSide, qty, entryPrice, markPrice float64) float64 {
	if qty <= 0 || entryPrice <= 0 || markPrice <= 0 {
		return 0
	}
	if side == SideShort {
		return (entryPrice - markPrice) * qty
	}
	return (markPrice - entryPrice) * qty
}
