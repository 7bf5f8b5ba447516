package bitget

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/exchange"
)

// metadataTTL bounds how often RefreshMetadata actually hits the
// contracts endpoint.
const metadataTTL = 30 * time.Minute

// Adapter implements the execution adapter contract on top of Client.
type Adapter struct {
	client *Client
	logger *slog.Logger

	mu          sync.Mutex
	contracts   map[string]Contract // keyed by exchange symbol
	refreshedAt time.Time
}

// New builds the adapter. Contract metadata is loaded lazily on the
// first tick's RefreshMetadata call.
func New(client *Client, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger.With(slog.String("component", "bitget_adapter")),
	}
}

func (a *Adapter) Name() string { return "bitget" }

func (a *Adapter) AccountState(ctx context.Context) (exchange.AccountState, error) {
	equity, err := a.client.UsdtEquity(ctx)
	if err != nil {
		return exchange.AccountState{}, err
	}
	return exchange.AccountState{EquityUSD: equity}, nil
}

func (a *Adapter) Positions(ctx context.Context) ([]domain.NormalizedPosition, error) {
	rows, err := a.client.AllPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.NormalizedPosition, 0, len(rows))
	for _, r := range rows {
		size := parseFloat(r.Total)
		if size <= 0 {
			continue
		}
		side := domain.SideLong
		if r.HoldSide == "short" {
			side = domain.SideShort
		}
		out = append(out, domain.NormalizedPosition{
			Symbol:     a.fromExchangeSymbol(r.Symbol),
			Side:       side,
			Size:       size,
			EntryPrice: parseFloat(r.AverageOpenPrice),
			MarkPrice:  parseFloat(r.MarketPrice),
		})
	}
	return out, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("bitget: place order: %w", domain.ErrInvalidOrder)
	}
	params := OrderParams{
		Symbol:    a.ToExchangeSymbol(req.Symbol),
		Size:      formatQty(req.Qty),
		Side:      orderSide(req.Side, req.ReduceOnly),
		OrderType: string(req.Type),
	}
	if req.Type == exchange.OrderLimit && req.Price > 0 {
		params.Price = formatQty(req.Price)
	}
	if req.StopLossPrice > 0 {
		params.PresetStopLossPrice = formatQty(req.StopLossPrice)
	}
	if req.TakeProfitPrice > 0 {
		params.PresetTakeProfit = formatQty(req.TakeProfitPrice)
	}
	orderID, err := a.client.PlaceOrder(ctx, params)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{OrderID: orderID}, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error {
	exSymbol := a.ToExchangeSymbol(symbol)
	mode := "crossed"
	if marginMode == "isolated" {
		mode = "fixed"
	}
	if err := a.client.SetMarginMode(ctx, exSymbol, mode); err != nil {
		// Margin mode changes fail while positions are open; leverage
		// may still apply.
		a.logger.WarnContext(ctx, "set margin mode failed", slog.String("symbol", symbol), slog.Any("error", err))
	}
	return a.client.SetLeverage(ctx, exSymbol, leverage)
}

func (a *Adapter) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := a.client.Ticker(ctx, a.ToExchangeSymbol(symbol))
	if err != nil {
		a.logger.WarnContext(ctx, "ticker lookup failed", slog.String("symbol", symbol), slog.Any("error", err))
		return 0, nil
	}
	return price, nil
}

// RefreshMetadata reloads the contract table when the cache is older
// than the TTL. Failures keep the previous table.
func (a *Adapter) RefreshMetadata(ctx context.Context) {
	a.mu.Lock()
	stale := time.Since(a.refreshedAt) > metadataTTL
	a.mu.Unlock()
	if !stale {
		return
	}

	contracts, err := a.client.Contracts(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "contract metadata refresh failed", slog.Any("error", err))
		return
	}
	table := make(map[string]Contract, len(contracts))
	for _, c := range contracts {
		table[c.Symbol] = c
	}

	a.mu.Lock()
	a.contracts = table
	a.refreshedAt = time.Now()
	a.mu.Unlock()
}

// SupportsSymbol consults the contract table; before the first
// successful refresh every symbol passes and the exchange itself is
// the arbiter.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.contracts) == 0 {
		return true
	}
	_, ok := a.contracts[a.ToExchangeSymbol(symbol)]
	return ok
}

// ToExchangeSymbol maps "BTCUSDT" to the umcbl contract "BTCUSDT_UMCBL".
func (a *Adapter) ToExchangeSymbol(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	return symbol + "_UMCBL"
}

func (a *Adapter) fromExchangeSymbol(exSymbol string) string {
	if i := strings.IndexByte(exSymbol, '_'); i > 0 {
		return exSymbol[:i]
	}
	return exSymbol
}

func orderSide(side domain.PositionSide, reduceOnly bool) string {
	switch {
	case side == domain.SideLong && !reduceOnly:
		return "open_long"
	case side == domain.SideShort && !reduceOnly:
		return "open_short"
	case side == domain.SideLong:
		return "close_long"
	default:
		return "close_short"
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
