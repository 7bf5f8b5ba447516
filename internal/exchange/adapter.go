// Package exchange defines the execution adapter contract the tick
// orchestrator drives, and the registry that caches adapter instances
// per (bot, account).
package exchange

import (
	"context"

	"github.com/quantfold/sigbot/internal/domain"
)

// OrderType is the wire-level order style.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderRequest describes one order. Price is ignored for market
// orders. StopLoss/TakeProfit of zero mean no protective order.
// Side names the exposure: an opening order creates Side exposure, a
// reduce-only order shrinks it.
type OrderRequest struct {
	Symbol          string
	Side            domain.PositionSide
	Type            OrderType
	Qty             float64
	Price           float64
	ReduceOnly      bool
	StopLossPrice   float64
	TakeProfitPrice float64
}

// OrderResult is the adapter's acknowledgement of a placed order.
type OrderResult struct {
	OrderID  string
	AvgPrice float64 // fill price when known, else 0
}

// AccountState is the account snapshot the sizing math runs on.
type AccountState struct {
	EquityUSD float64
}

// Adapter is one exchange binding. Implementations own their wire
// protocol, signing, and symbol conventions; the orchestrator never
// branches on which exchange it is talking to.
type Adapter interface {
	Name() string

	AccountState(ctx context.Context) (AccountState, error)
	Positions(ctx context.Context) ([]domain.NormalizedPosition, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error

	// MarkPrice is a best-effort last/mark lookup; implementations may
	// return 0 with a nil error when no fresh price is available.
	MarkPrice(ctx context.Context, symbol string) (float64, error)

	// RefreshMetadata is called once per tick. Best effort and
	// non-forcing: implementations refresh contract metadata only when
	// their cache has gone stale.
	RefreshMetadata(ctx context.Context)

	SupportsSymbol(symbol string) bool
	ToExchangeSymbol(symbol string) string
}
