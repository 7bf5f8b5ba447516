package tick

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/sigbot/internal/botconfig"
	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/exchange"
	"github.com/quantfold/sigbot/internal/reconcile"
)

var tickNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// --- fakes -----------------------------------------------------------

type fakeAdapter struct {
	equity    float64
	positions []domain.NormalizedPosition
	mark      float64
	orders    []exchange.OrderRequest
	orderRes  exchange.OrderResult
	orderErr  error
	levErr    error
	leverages []int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) AccountState(ctx context.Context) (exchange.AccountState, error) {
	return exchange.AccountState{EquityUSD: f.equity}, nil
}

func (f *fakeAdapter) Positions(ctx context.Context) ([]domain.NormalizedPosition, error) {
	return f.positions, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if f.orderErr != nil {
		return exchange.OrderResult{}, f.orderErr
	}
	f.orders = append(f.orders, req)
	return f.orderRes, nil
}

func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error {
	if f.levErr != nil {
		return f.levErr
	}
	f.leverages = append(f.leverages, leverage)
	return nil
}

func (f *fakeAdapter) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	return f.mark, nil
}

func (f *fakeAdapter) RefreshMetadata(ctx context.Context)   {}
func (f *fakeAdapter) SupportsSymbol(symbol string) bool     { return true }
func (f *fakeAdapter) ToExchangeSymbol(symbol string) string { return symbol }

type memStateStore struct {
	states    map[string]domain.BotTradeState
	upsertErr error
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]domain.BotTradeState)}
}

func (m *memStateStore) Load(ctx context.Context, botID, symbol string, now time.Time) (domain.BotTradeState, error) {
	if s, ok := m.states[botID+"/"+symbol]; ok {
		return s, nil
	}
	return domain.NewBotTradeState(botID, symbol, now), nil
}

func (m *memStateStore) Upsert(ctx context.Context, state domain.BotTradeState) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.states[state.BotID+"/"+state.Symbol] = state
	return nil
}

func (m *memStateStore) get(botID, symbol string) domain.BotTradeState {
	return m.states[botID+"/"+symbol]
}

type memHistoryStore struct {
	entries   []domain.TradeHistoryEntry
	closes    []domain.CloseOpenParams
	createErr error
	closeErr  error
	daily     int
}

func (m *memHistoryStore) Create(ctx context.Context, e domain.TradeHistoryEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memHistoryStore) CloseOpen(ctx context.Context, p domain.CloseOpenParams) (int, error) {
	if m.closeErr != nil {
		return 0, m.closeErr
	}
	m.closes = append(m.closes, p)
	n := 0
	for i := range m.entries {
		if m.entries[i].Status == domain.TradeOpen {
			m.entries[i].Status = domain.TradeClosed
			n++
		}
	}
	return n, nil
}

func (m *memHistoryStore) CountOpen(ctx context.Context, botID, symbol string) (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.Status == domain.TradeOpen {
			n++
		}
	}
	return n, nil
}

func (m *memHistoryStore) LatestOpen(ctx context.Context, botID, symbol string) (domain.TradeHistoryEntry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Status == domain.TradeOpen {
			return m.entries[i], nil
		}
	}
	return domain.TradeHistoryEntry{}, domain.ErrNotFound
}

func (m *memHistoryStore) DailyTradeCount(ctx context.Context, botID string, now time.Time) (int, error) {
	return m.daily, nil
}

func (m *memHistoryStore) ListClosedBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.TradeHistoryEntry, error) {
	return nil, nil
}

type memEventStore struct {
	events []domain.RiskEvent
}

func (m *memEventStore) Write(ctx context.Context, ev domain.RiskEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventStore) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.RiskEvent, error) {
	return nil, nil
}

func (m *memEventStore) ListBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.RiskEvent, error) {
	return nil, nil
}

func (m *memEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memEventStore) has(eventType string) bool {
	for _, ev := range m.events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

type fakeSource struct {
	latest    *domain.Prediction
	byID      map[string]domain.Prediction
	latestErr error
}

func (f *fakeSource) LoadLatest(ctx context.Context, q domain.PredictionQuery) (domain.Prediction, error) {
	if f.latestErr != nil {
		return domain.Prediction{}, f.latestErr
	}
	if f.latest == nil {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return *f.latest, nil
}

func (f *fakeSource) LoadByID(ctx context.Context, id string) (domain.Prediction, error) {
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return domain.Prediction{}, domain.ErrNotFound
}

type fakeKill struct {
	enabled bool
	err     error
}

func (f *fakeKill) IsGlobalTradingEnabled(ctx context.Context) (bool, error) {
	return f.enabled, f.err
}

type fakeNotifier struct {
	titles []string
}

func (f *fakeNotifier) NotifyTrade(ctx context.Context, title, message string) {
	f.titles = append(f.titles, title)
}

// --- harness ---------------------------------------------------------

type harness struct {
	runner   *Runner
	adapter  *fakeAdapter
	states   *memStateStore
	history  *memHistoryStore
	events   *memEventStore
	source   *fakeSource
	kill     *fakeKill
	notifier *fakeNotifier
	bot      domain.Bot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		adapter:  &fakeAdapter{equity: 10000, mark: 50000, orderRes: exchange.OrderResult{OrderID: "ord-1", AvgPrice: 50000}},
		states:   newMemStateStore(),
		history:  &memHistoryStore{},
		events:   &memEventStore{},
		source:   &fakeSource{},
		kill:     &fakeKill{enabled: true},
		notifier: &fakeNotifier{},
		bot: domain.Bot{
			ID:        "bot-1",
			AccountID: "acct-1",
			Exchange:  "fake",
			Symbols:   []string{"BTCUSDT"},
			Enabled:   true,
		},
	}

	registry := exchange.NewRegistry()
	registry.Register("fake", func(ctx context.Context, bot domain.Bot, cfg botconfig.Config) (exchange.Adapter, error) {
		return h.adapter, nil
	})

	h.runner = NewRunner(Deps{
		Registry:    registry,
		States:      h.states,
		History:     h.history,
		Events:      h.events,
		Predictions: h.source,
		Kill:        h.kill,
		Reconciler:  reconcile.New(h.states, h.history, h.events, logger),
		Notifier:    h.notifier,
	}, logger)
	h.runner.now = func() time.Time { return tickNow }
	return h
}

func (h *harness) confidentUp() *domain.Prediction {
	return &domain.Prediction{
		ID:         "pred-1",
		Symbol:     "BTCUSDT",
		Timeframe:  "1h",
		Signal:     domain.SignalUp,
		Confidence: 85,
		TsUpdated:  tickNow.Add(-time.Minute),
	}
}

// --- tests -----------------------------------------------------------

func TestTickEntersOnConfidentSignal(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, domain.ReasonEntryAllowed, res.Reason)
	assert.Equal(t, "ord-1", res.OrderID)

	require.Len(t, h.adapter.orders, 1)
	order := h.adapter.orders[0]
	assert.Equal(t, "BTCUSDT", order.Symbol)
	assert.Equal(t, domain.SideLong, order.Side)
	assert.Equal(t, exchange.OrderMarket, order.Type)
	assert.InDelta(t, 100.0/50000, order.Qty, 1e-12, "default $100 fixed sizing at the mark")
	assert.Equal(t, []int{1}, h.adapter.leverages)

	state := h.states.get("bot-1", "BTCUSDT")
	assert.Equal(t, domain.SideLong, state.OpenSide)
	assert.Equal(t, tickNow, state.LastTradeTs)
	assert.NotEmpty(t, state.LastPredictionHash)

	require.Len(t, h.history.entries, 1)
	assert.Equal(t, domain.TradeOpen, h.history.entries[0].Status)
	assert.Equal(t, "ord-1", h.history.entries[0].EntryOrderID)

	assert.True(t, h.events.has(domain.EventPredictionUpdate))
	assert.True(t, h.events.has(domain.EventDecision))
	assert.True(t, h.events.has(domain.EventEntryPlaced))
	assert.Equal(t, []string{"Position opened"}, h.notifier.titles)
}

func TestTickSkipPersistsViewAndReason(t *testing.T) {
	h := newHarness(t)
	pred := h.confidentUp()
	pred.Confidence = 40
	h.source.latest = pred

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonConfidenceBelowMin, res.Reason)
	assert.Empty(t, h.adapter.orders)

	// The skip still records the signal view.
	state := h.states.get("bot-1", "BTCUSDT")
	assert.Equal(t, domain.SignalUp, state.LastSignal)
	assert.True(t, h.events.has(domain.EventDecision))
}

func TestTickMissingPredictionBlocks(t *testing.T) {
	h := newHarness(t)

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonMissingPrediction, res.Reason)
}

func TestTickKillSwitchSuppressesOrder(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()
	h.kill.enabled = false

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonTradingDisabled, res.Reason)
	assert.Equal(t, domain.ActionEnter, res.Decision.Action, "the decision was made before the gate")
	assert.Empty(t, h.adapter.orders)
	assert.True(t, h.events.has(domain.EventTradingDisabled))
}

func TestTickKillSwitchErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()
	h.kill.err = errors.New("redis gone")

	_, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.Error(t, err)
	assert.Empty(t, h.adapter.orders)
}

func TestTickExitOnSignalFlip(t *testing.T) {
	h := newHarness(t)
	pred := h.confidentUp()
	pred.Signal = domain.SignalDown
	h.source.latest = pred

	h.states.states["bot-1/BTCUSDT"] = domain.BotTradeState{
		BotID:          "bot-1",
		Symbol:         "BTCUSDT",
		DailyResetUTC:  domain.UTCMidnight(tickNow),
		OpenSide:       domain.SideLong,
		OpenQty:        0.01,
		OpenEntryPrice: 48000,
		OpenTs:         tickNow.Add(-time.Hour),
	}
	h.adapter.positions = []domain.NormalizedPosition{
		{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.01, EntryPrice: 48000, MarkPrice: 50000},
	}
	h.history.entries = []domain.TradeHistoryEntry{{
		ID: "t1", BotID: "bot-1", Symbol: "BTCUSDT",
		Side: domain.SideLong, EntryPrice: 48000, Qty: 0.01,
		Status: domain.TradeOpen,
	}}

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, domain.ReasonSignalFlip, res.Reason)

	require.Len(t, h.adapter.orders, 1)
	order := h.adapter.orders[0]
	assert.Equal(t, domain.SideLong, order.Side, "the exit closes the long")
	assert.True(t, order.ReduceOnly)
	assert.Equal(t, 0.01, order.Qty)

	require.Len(t, h.history.closes, 1)
	assert.Equal(t, domain.OutcomeSignalExit, h.history.closes[0].Outcome)
	assert.Equal(t, domain.ReasonSignalFlip, h.history.closes[0].CloseReason)

	state := h.states.get("bot-1", "BTCUSDT")
	assert.False(t, state.HasOpenPosition())
	assert.True(t, h.events.has(domain.EventExitPlaced))
	assert.Equal(t, []string{"Position closed"}, h.notifier.titles)
}

func TestTickTimeStopOutcome(t *testing.T) {
	h := newHarness(t)
	pred := h.confidentUp()
	h.source.latest = pred
	h.bot.Params = map[string]any{
		"risk": map[string]any{"time_stop_min": 30},
	}

	h.states.states["bot-1/BTCUSDT"] = domain.BotTradeState{
		BotID:          "bot-1",
		Symbol:         "BTCUSDT",
		DailyResetUTC:  domain.UTCMidnight(tickNow),
		OpenSide:       domain.SideLong,
		OpenQty:        0.01,
		OpenEntryPrice: 48000,
		OpenTs:         tickNow.Add(-time.Hour),
	}
	h.adapter.positions = []domain.NormalizedPosition{
		{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.01, EntryPrice: 48000, MarkPrice: 50000},
	}

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, domain.ReasonTimeStop, res.Reason)
	require.Len(t, h.history.closes, 1)
	assert.Equal(t, domain.OutcomeTimeStop, h.history.closes[0].Outcome)
}

func TestTickAdapterOrderErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()
	h.adapter.orderErr = errors.New("exchange 502")

	_, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.Error(t, err)

	// Nothing was booked for the failed order; the next cycle retries.
	assert.Empty(t, h.history.entries)
	state := h.states.get("bot-1", "BTCUSDT")
	assert.False(t, state.HasOpenPosition())
}

func TestTickBookkeepingFailureToleratedAfterOrder(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()
	h.history.createErr = errors.New("pg down")

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err, "the order stands even when bookkeeping fails")
	assert.Equal(t, StatusExecuted, res.Status)
	require.Len(t, h.adapter.orders, 1)
	assert.True(t, h.events.has(domain.EventBookkeepingError))
}

func TestTickPinnedPredictionMismatchBlocks(t *testing.T) {
	h := newHarness(t)
	h.bot.Params = map[string]any{"prediction_id": "pred-9"}
	h.source.byID = map[string]domain.Prediction{
		"pred-9": {ID: "pred-9", Symbol: "ETHUSDT", Timeframe: "1h", Signal: domain.SignalUp, Confidence: 90, TsUpdated: tickNow},
	}

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonSourceMismatch, res.Reason)
	assert.True(t, h.events.has(domain.EventSourceMismatch))
	assert.Empty(t, h.adapter.orders)
}

func TestTickPinnedPredictionMissingBlocks(t *testing.T) {
	h := newHarness(t)
	h.bot.Params = map[string]any{"prediction_id": "gone"}

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonSourceMismatch, res.Reason)
	assert.True(t, h.events.has(domain.EventSourceMismatch))
}

func TestTickUnsupportedExchangeBlocks(t *testing.T) {
	h := newHarness(t)
	h.bot.Exchange = "unknown"

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonUnsupportedExchange, res.Reason)
}

func TestTickUnsupportedSymbolBlocks(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()

	res, err := h.runner.Tick(context.Background(), h.bot, "DOGEUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, domain.ReasonUnsupportedSymbol, res.Reason)
}

func TestTickLimitOrderCarriesPriceAndProtectiveLevels(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()
	h.bot.Params = map[string]any{
		"execution": map[string]any{"order_type": "limit", "limit_offset_bps": 10},
		"risk":      map[string]any{"stop_loss_pct": 2, "take_profit_pct": 4},
	}
	h.adapter.orderRes = exchange.OrderResult{OrderID: "ord-2"}

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)

	require.Len(t, h.adapter.orders, 1)
	order := h.adapter.orders[0]
	assert.Equal(t, exchange.OrderLimit, order.Type)
	assert.InDelta(t, 50050, order.Price, 1e-6, "limit rests 10bps through the mark")
	assert.InDelta(t, order.Price*0.98, order.StopLossPrice, 1e-6)
	assert.InDelta(t, order.Price*1.04, order.TakeProfitPrice, 1e-6)

	// No fill price came back; the state books the limit price.
	state := h.states.get("bot-1", "BTCUSDT")
	assert.InDelta(t, 50050, state.OpenEntryPrice, 1e-6)
}

func TestTickReconcilesVanishedPositionThenDecides(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()

	// Local state believes a long is open but the exchange has nothing:
	// the stop fired between ticks.
	h.states.states["bot-1/BTCUSDT"] = domain.BotTradeState{
		BotID:          "bot-1",
		Symbol:         "BTCUSDT",
		DailyResetUTC:  domain.UTCMidnight(tickNow),
		OpenSide:       domain.SideLong,
		OpenQty:        0.01,
		OpenEntryPrice: 52000,
		OpenTs:         tickNow.Add(-time.Hour),
	}
	h.history.entries = []domain.TradeHistoryEntry{{
		ID: "t1", BotID: "bot-1", Symbol: "BTCUSDT",
		Side: domain.SideLong, EntryPrice: 52000, Qty: 0.01,
		StopLossPrice: 51000,
		Status:        domain.TradeOpen,
	}}

	res, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)

	// Reconciliation closed the books, then the still-valid prediction
	// opened a fresh position in the same tick.
	assert.True(t, h.events.has(domain.EventExternalClose))
	require.Len(t, h.history.closes, 1)
	assert.Equal(t, domain.OutcomeSLHit, h.history.closes[0].Outcome)
	assert.Equal(t, "external_close", h.history.closes[0].CloseReason)

	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, domain.ReasonEntryAllowed, res.Reason)
	state := h.states.get("bot-1", "BTCUSDT")
	assert.Equal(t, domain.SideLong, state.OpenSide)
}

func TestTickDuplicateFingerprintSkipsSecondRun(t *testing.T) {
	h := newHarness(t)
	h.source.latest = h.confidentUp()

	first, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, StatusExecuted, first.Status)

	// Same prediction, next tick: the open position aggregates on the
	// exchange side now.
	h.adapter.positions = []domain.NormalizedPosition{
		{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.002, EntryPrice: 50000, MarkPrice: 50000},
	}
	second, err := h.runner.Tick(context.Background(), h.bot, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, second.Status)
	assert.Equal(t, domain.ReasonDuplicateHash, second.Reason)
	assert.Len(t, h.adapter.orders, 1, "no second order")
}
