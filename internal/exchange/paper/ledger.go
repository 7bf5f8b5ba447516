package paper

import (
	"context"
	"time"

	"github.com/quantfold/sigbot/internal/domain"
)

// Account is the simulated cash balance for one paper account.
type Account struct {
	AccountID          string
	StartingBalanceUSD float64
	RealizedPnLUSD     float64
}

// Position is one simulated open or closed position row.
type Position struct {
	ID         string
	BotID      string
	AccountID  string
	Symbol     string
	Side       domain.PositionSide
	Qty        float64
	EntryPrice float64
	OpenedAt   time.Time
	Status     string // "open" | "closed"
	ClosedAt   time.Time
	ExitPrice  float64
}

// Ledger is the durable backing for the paper adapter. Implemented by
// the postgres store.
type Ledger interface {
	// EnsureAccount returns the account row, creating it with the
	// given starting balance when absent.
	EnsureAccount(ctx context.Context, accountID string, startingBalanceUSD float64) (Account, error)
	AddRealizedPnL(ctx context.Context, accountID string, deltaUSD float64) error
	OpenPositions(ctx context.Context, accountID string) ([]Position, error)
	UpsertPosition(ctx context.Context, pos Position) error
	ClosePosition(ctx context.Context, id string, exitPrice float64, closedAt time.Time) error
}

// PriceSource supplies mark prices to the simulation. Paper fills
// execute against these, typically a live public ticker.
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}
