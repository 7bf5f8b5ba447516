// Package paper implements the execution adapter against a simulated
// ledger instead of a real exchange. Fills are instant at the current
// mark; equity is the configured starting balance plus realized and
// unrealized PnL. The orchestrator cannot tell it apart from a live
// adapter.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/exchange"
)

// Adapter simulates one (bot, account) against the ledger.
type Adapter struct {
	botID     string
	accountID string
	start     float64
	ledger    Ledger
	prices    PriceSource
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a paper adapter and makes sure the account row exists.
func New(ctx context.Context, botID, accountID string, startingBalanceUSD float64, ledger Ledger, prices PriceSource, logger *slog.Logger) (*Adapter, error) {
	if _, err := ledger.EnsureAccount(ctx, accountID, startingBalanceUSD); err != nil {
		return nil, fmt.Errorf("paper: ensure account %s: %w", accountID, err)
	}
	return &Adapter{
		botID:     botID,
		accountID: accountID,
		start:     startingBalanceUSD,
		ledger:    ledger,
		prices:    prices,
		logger:    logger.With(slog.String("component", "paper_adapter"), slog.String("account", accountID)),
		now:       time.Now,
	}, nil
}

func (a *Adapter) Name() string { return "paper" }

// AccountState computes equity from the ledger: starting balance plus
// realized PnL plus unrealized PnL across open positions at mark.
func (a *Adapter) AccountState(ctx context.Context) (exchange.AccountState, error) {
	acct, err := a.ledger.EnsureAccount(ctx, a.accountID, a.start)
	if err != nil {
		return exchange.AccountState{}, fmt.Errorf("paper: account state: %w", err)
	}
	positions, err := a.ledger.OpenPositions(ctx, a.accountID)
	if err != nil {
		return exchange.AccountState{}, fmt.Errorf("paper: account state: %w", err)
	}
	equity := acct.StartingBalanceUSD + acct.RealizedPnLUSD
	for _, p := range positions {
		mark := a.markOr(ctx, p.Symbol, p.EntryPrice)
		equity += domain.UnrealizedPnLUSD(p.Side, p.Qty, p.EntryPrice, mark)
	}
	return exchange.AccountState{EquityUSD: equity}, nil
}

func (a *Adapter) Positions(ctx context.Context) ([]domain.NormalizedPosition, error) {
	rows, err := a.ledger.OpenPositions(ctx, a.accountID)
	if err != nil {
		return nil, fmt.Errorf("paper: positions: %w", err)
	}
	out := make([]domain.NormalizedPosition, 0, len(rows))
	for _, p := range rows {
		out = append(out, domain.NormalizedPosition{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       p.Qty,
			EntryPrice: p.EntryPrice,
			MarkPrice:  a.markOr(ctx, p.Symbol, p.EntryPrice),
		})
	}
	return out, nil
}

// PlaceOrder fills immediately at the request price, or at mark for
// market orders. Reduce-only orders shrink matching exposure oldest
// first and book realized PnL; opening orders average into an existing
// same-side position.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("paper: place order: %w", domain.ErrInvalidOrder)
	}
	fill := req.Price
	if fill <= 0 {
		fill = a.markOr(ctx, req.Symbol, 0)
	}
	if fill <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("paper: place order %s: no fill price: %w", req.Symbol, domain.ErrInvalidOrder)
	}

	var err error
	if req.ReduceOnly {
		err = a.reduce(ctx, req, fill)
	} else {
		err = a.open(ctx, req, fill)
	}
	if err != nil {
		return exchange.OrderResult{}, err
	}
	orderID := "paper-" + uuid.NewString()
	a.logger.InfoContext(ctx, "paper fill",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Bool("reduce_only", req.ReduceOnly),
		slog.Float64("qty", req.Qty),
		slog.Float64("price", fill))
	return exchange.OrderResult{OrderID: orderID, AvgPrice: fill}, nil
}

func (a *Adapter) open(ctx context.Context, req exchange.OrderRequest, fill float64) error {
	positions, err := a.ledger.OpenPositions(ctx, a.accountID)
	if err != nil {
		return fmt.Errorf("paper: open: %w", err)
	}
	for _, p := range positions {
		if p.Symbol != req.Symbol || p.Side != req.Side {
			continue
		}
		total := p.Qty + req.Qty
		p.EntryPrice = (p.EntryPrice*p.Qty + fill*req.Qty) / total
		p.Qty = total
		if err := a.ledger.UpsertPosition(ctx, p); err != nil {
			return fmt.Errorf("paper: scale position: %w", err)
		}
		return nil
	}
	pos := Position{
		ID:         uuid.NewString(),
		BotID:      a.botID,
		AccountID:  a.accountID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Qty,
		EntryPrice: fill,
		OpenedAt:   a.now().UTC(),
		Status:     "open",
	}
	if err := a.ledger.UpsertPosition(ctx, pos); err != nil {
		return fmt.Errorf("paper: open position: %w", err)
	}
	return nil
}

func (a *Adapter) reduce(ctx context.Context, req exchange.OrderRequest, fill float64) error {
	positions, err := a.ledger.OpenPositions(ctx, a.accountID)
	if err != nil {
		return fmt.Errorf("paper: reduce: %w", err)
	}
	remaining := req.Qty
	closedAt := a.now().UTC()
	for _, p := range positions {
		if remaining <= 0 {
			break
		}
		if p.Symbol != req.Symbol || p.Side != req.Side {
			continue
		}
		take := p.Qty
		if take > remaining {
			take = remaining
		}
		pnl := domain.UnrealizedPnLUSD(p.Side, take, p.EntryPrice, fill)
		if err := a.ledger.AddRealizedPnL(ctx, a.accountID, pnl); err != nil {
			return fmt.Errorf("paper: book pnl: %w", err)
		}
		if take >= p.Qty {
			if err := a.ledger.ClosePosition(ctx, p.ID, fill, closedAt); err != nil {
				return fmt.Errorf("paper: close position: %w", err)
			}
		} else {
			p.Qty -= take
			if err := a.ledger.UpsertPosition(ctx, p); err != nil {
				return fmt.Errorf("paper: shrink position: %w", err)
			}
		}
		remaining -= take
	}
	return nil
}

// markOr looks up the current mark and falls back when the price
// source has nothing.
func (a *Adapter) markOr(ctx context.Context, symbol string, fallback float64) float64 {
	price, err := a.prices.MarkPrice(ctx, symbol)
	if err != nil || price <= 0 {
		return fallback
	}
	return price
}

// SetLeverage is a no-op; the simulation tracks notional only.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error {
	return nil
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := a.prices.MarkPrice(ctx, symbol)
	if err != nil {
		a.logger.WarnContext(ctx, "mark price lookup failed", slog.String("symbol", symbol), slog.Any("error", err))
		return 0, nil
	}
	return price, nil
}

func (a *Adapter) RefreshMetadata(ctx context.Context) {}

func (a *Adapter) SupportsSymbol(symbol string) bool { return true }

func (a *Adapter) ToExchangeSymbol(symbol string) string { return symbol }
