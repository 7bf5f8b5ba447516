// Package tick sequences one (bot, symbol) invocation: gather inputs,
// reconcile drift, decide, execute, persist. The caller guarantees at
// most one in-flight tick per (bot, symbol); this package assumes it.
package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/sigbot/internal/botconfig"
	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/engine"
	"github.com/quantfold/sigbot/internal/exchange"
	"github.com/quantfold/sigbot/internal/reconcile"
)

// Status is the tick-level outcome.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusBlocked  Status = "blocked"
)

// Result is what one tick produced. Blocked results always carry a
// stable machine-readable reason.
type Result struct {
	Status   Status
	Reason   string
	Decision domain.Decision
	OrderID  string
}

func blocked(reason string, decision domain.Decision) Result {
	return Result{Status: StatusBlocked, Reason: reason, Decision: decision}
}

// TradeNotifier receives human-facing trade notifications. Optional.
type TradeNotifier interface {
	NotifyTrade(ctx context.Context, title, message string)
}

// Runner drives ticks. All collaborators are injected; Runner itself
// is stateless apart from the adapter registry it borrows.
type Runner struct {
	registry    *exchange.Registry
	states      domain.TradeStateStore
	history     domain.TradeHistoryStore
	events      domain.RiskEventStore
	predictions domain.PredictionSource
	kill        domain.KillSwitch
	reconciler  *reconcile.Reconciler
	notifier    TradeNotifier
	logger      *slog.Logger
	now         func() time.Time
}

// Deps collects the runner's collaborators. Notifier may be nil.
type Deps struct {
	Registry    *exchange.Registry
	States      domain.TradeStateStore
	History     domain.TradeHistoryStore
	Events      domain.RiskEventStore
	Predictions domain.PredictionSource
	Kill        domain.KillSwitch
	Reconciler  *reconcile.Reconciler
	Notifier    TradeNotifier
}

func NewRunner(d Deps, logger *slog.Logger) *Runner {
	return &Runner{
		registry:    d.Registry,
		states:      d.States,
		history:     d.History,
		events:      d.Events,
		predictions: d.Predictions,
		kill:        d.Kill,
		reconciler:  d.Reconciler,
		notifier:    d.Notifier,
		logger:      logger.With(slog.String("component", "tick")),
		now:         time.Now,
	}
}

// Tick runs one invocation for (bot, symbol). Configuration and
// upstream-data problems come back as blocked results; adapter errors
// while gathering or placing orders propagate so the scheduler retries
// on the next cadence.
func (r *Runner) Tick(ctx context.Context, bot domain.Bot, symbol string) (Result, error) {
	now := r.now().UTC()
	cfg := r.resolveConfig(bot)

	if !r.registry.Supported(cfg.Exchange) {
		return blocked(domain.ReasonUnsupportedExchange, domain.Decision{}), nil
	}
	if len(cfg.Symbols) > 0 && !cfg.HasSymbol(symbol) {
		return blocked(domain.ReasonUnsupportedSymbol, domain.Decision{}), nil
	}

	adapter, err := r.registry.Acquire(ctx, bot, cfg)
	if err != nil {
		return Result{}, err
	}
	adapter.RefreshMetadata(ctx)
	if !adapter.SupportsSymbol(symbol) {
		return blocked(domain.ReasonUnsupportedSymbol, domain.Decision{}), nil
	}

	state, err := r.states.Load(ctx, bot.ID, symbol, now)
	if err != nil {
		return Result{}, fmt.Errorf("tick: load state: %w", err)
	}
	state.ResetDailyWindow(now)

	pred, res, err := r.loadPrediction(ctx, bot, cfg, symbol)
	if err != nil {
		return Result{}, err
	}
	if res != nil {
		return *res, nil
	}

	rawPositions, err := adapter.Positions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("tick: positions: %w", err)
	}
	account, err := adapter.AccountState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("tick: account state: %w", err)
	}

	positions := domain.AggregatePositions(rawPositions)
	markPrice := r.markPrice(ctx, adapter, positions, symbol)

	fp := ""
	if pred != nil {
		fp = engine.Fingerprint(*pred)
		if fp != state.LastPredictionHash {
			r.audit(ctx, bot.ID, domain.RiskEvent{
				Type:    domain.EventPredictionUpdate,
				Message: "new prediction observed",
				Meta: map[string]any{
					"symbol":     symbol,
					"signal":     string(pred.Signal),
					"confidence": pred.ConfidencePct(),
					"hash":       fp,
				},
			})
		}
	}

	r.reconciler.Run(ctx, &state, positions, markPrice, now)
	pos := domain.FindPosition(positions, symbol)

	dailyTrades, err := r.history.DailyTradeCount(ctx, bot.ID, now)
	if err != nil {
		return Result{}, fmt.Errorf("tick: daily trade count: %w", err)
	}
	state.DailyTradeCount = dailyTrades

	counts := engine.Counts{
		OpenPositions:        len(positions),
		DailyTrades:          dailyTrades,
		CandidateNotionalUSD: engine.CandidateNotional(cfg, account.EquityUSD),
	}
	for _, p := range positions {
		n := p.NotionalUSD()
		counts.TotalNotionalUSD += n
		if p.Symbol == symbol {
			counts.SymbolNotionalUSD += n
		}
	}

	decision := engine.Decide(engine.Input{
		Config:      cfg,
		Now:         now,
		Prediction:  pred,
		Fingerprint: fp,
		State:       state,
		Position:    pos,
		Counts:      counts,
	})

	r.audit(ctx, bot.ID, domain.RiskEvent{
		Type:    domain.EventDecision,
		Message: string(decision.Action) + ": " + decision.Reason,
		Meta: map[string]any{
			"symbol":        symbol,
			"action":        string(decision.Action),
			"side":          string(decision.Side),
			"reason":        decision.Reason,
			"hash":          fp,
			"mark_price":    markPrice,
			"candidate_usd": counts.CandidateNotionalUSD,
		},
	})

	if decision.Action == domain.ActionSkip {
		r.syncOpenView(&state, pos, pred, now)
		if err := r.states.Upsert(ctx, state); err != nil {
			return Result{}, fmt.Errorf("tick: persist state: %w", err)
		}
		return blocked(decision.Reason, decision), nil
	}

	enabled, err := r.kill.IsGlobalTradingEnabled(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("tick: kill switch: %w", err)
	}
	if !enabled {
		r.audit(ctx, bot.ID, domain.RiskEvent{
			Type:    domain.EventTradingDisabled,
			Message: "trading globally disabled, order suppressed",
			Meta:    map[string]any{"symbol": symbol, "action": string(decision.Action)},
		})
		return blocked(domain.ReasonTradingDisabled, decision), nil
	}

	if decision.Action == domain.ActionExit {
		return r.executeExit(ctx, bot, cfg, adapter, decision, &state, pos, fp, pred, markPrice, now)
	}
	return r.executeEntry(ctx, bot, cfg, adapter, decision, &state, fp, pred, markPrice, counts.CandidateNotionalUSD, now)
}

// resolveConfig builds the per-tick config, letting the bot row fill
// the identity fields the parameter bag left out.
func (r *Runner) resolveConfig(bot domain.Bot) botconfig.Config {
	cfg := botconfig.Resolve(bot.Params)
	if cfg.Exchange == "" {
		cfg.Exchange = bot.Exchange
	}
	if cfg.AccountID == "" {
		cfg.AccountID = bot.AccountID
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = bot.Symbols
	}
	return cfg
}

// loadPrediction fetches either the pinned prediction or the latest
// one for the bot's key. A missing latest prediction is a nil
// prediction (the decision engine reports it); a missing or mismatched
// pinned prediction blocks the tick with an audit trail.
func (r *Runner) loadPrediction(ctx context.Context, bot domain.Bot, cfg botconfig.Config, symbol string) (*domain.Prediction, *Result, error) {
	if cfg.PredictionID != "" {
		p, err := r.predictions.LoadByID(ctx, cfg.PredictionID)
		if errors.Is(err, domain.ErrNotFound) {
			r.audit(ctx, bot.ID, domain.RiskEvent{
				Type:    domain.EventSourceMismatch,
				Message: "pinned prediction not found",
				Meta:    map[string]any{"prediction_id": cfg.PredictionID, "symbol": symbol},
			})
			res := blocked(domain.ReasonSourceMismatch, domain.Decision{})
			return nil, &res, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("tick: load pinned prediction: %w", err)
		}
		if (p.Symbol != "" && p.Symbol != symbol) || (p.Timeframe != "" && p.Timeframe != cfg.Timeframe) {
			r.audit(ctx, bot.ID, domain.RiskEvent{
				Type:    domain.EventSourceMismatch,
				Message: "pinned prediction does not match bot key",
				Meta: map[string]any{
					"prediction_id":        cfg.PredictionID,
					"symbol":               symbol,
					"prediction_symbol":    p.Symbol,
					"timeframe":            cfg.Timeframe,
					"prediction_timeframe": p.Timeframe,
				},
			})
			res := blocked(domain.ReasonSourceMismatch, domain.Decision{})
			return nil, &res, nil
		}
		return &p, nil, nil
	}

	p, err := r.predictions.LoadLatest(ctx, domain.PredictionQuery{
		Account:    cfg.AccountID,
		Exchange:   cfg.Exchange,
		Symbol:     symbol,
		MarketType: cfg.MarketType,
		Timeframe:  cfg.Timeframe,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("tick: load prediction: %w", err)
	}
	return &p, nil, nil
}

// markPrice asks the adapter for a fresh price and falls back to the
// symbol's position mark when the ticker has nothing.
func (r *Runner) markPrice(ctx context.Context, adapter exchange.Adapter, positions []domain.NormalizedPosition, symbol string) float64 {
	price, err := adapter.MarkPrice(ctx, symbol)
	if err == nil && price > 0 {
		return price
	}
	if pos := domain.FindPosition(positions, symbol); pos != nil {
		if pos.MarkPrice > 0 {
			return pos.MarkPrice
		}
		return pos.EntryPrice
	}
	return 0
}

// syncOpenView copies the exchange's view of the open position into
// local state so a skip tick still leaves the books accurate.
func (r *Runner) syncOpenView(state *domain.BotTradeState, pos *domain.NormalizedPosition, pred *domain.Prediction, now time.Time) {
	if pos == nil {
		state.ClearOpenPosition()
	} else {
		if state.OpenSide != pos.Side || state.OpenTs.IsZero() {
			state.OpenTs = now
		}
		state.OpenSide = pos.Side
		state.OpenQty = pos.Size
		state.OpenEntryPrice = pos.EntryPrice
	}
	if pred != nil {
		state.LastSignal = pred.Signal
		state.LastSignalTs = pred.TsUpdated
	}
}

func (r *Runner) executeExit(ctx context.Context, bot domain.Bot, cfg botconfig.Config, adapter exchange.Adapter, decision domain.Decision, state *domain.BotTradeState, pos *domain.NormalizedPosition, fp string, pred *domain.Prediction, markPrice float64, now time.Time) (Result, error) {
	qty := state.OpenQty
	entryPrice := state.OpenEntryPrice
	if pos != nil {
		qty = pos.Size
		if entryPrice <= 0 {
			entryPrice = pos.EntryPrice
		}
	}

	var orderID string
	exitPrice := markPrice
	if qty > 0 {
		res, err := adapter.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     symbolOf(state, pos),
			Side:       decision.Side,
			Type:       exchange.OrderMarket,
			Qty:        qty,
			ReduceOnly: cfg.Execution.ReduceOnlyOnExit,
		})
		if err != nil {
			return Result{}, fmt.Errorf("tick: close order: %w", err)
		}
		orderID = res.OrderID
		if res.AvgPrice > 0 {
			exitPrice = res.AvgPrice
		}
	}
	if exitPrice <= 0 {
		exitPrice = entryPrice
	}
	pnl := domain.UnrealizedPnLUSD(decision.Side, qty, entryPrice, exitPrice)

	// Bookkeeping after the order is best effort: the close already
	// happened and must not be rolled back.
	if _, err := r.history.CloseOpen(ctx, domain.CloseOpenParams{
		BotID:       bot.ID,
		Symbol:      state.Symbol,
		ExitTs:      now,
		ExitPrice:   exitPrice,
		Outcome:     outcomeForReason(decision.Reason),
		CloseReason: decision.Reason,
		ExitOrderID: orderID,
	}); err != nil {
		r.bookkeepingError(ctx, bot.ID, "close history entries", err)
	}

	state.ClearOpenPosition()
	state.LastTradeTs = now
	state.LastPredictionHash = fp
	if pred != nil {
		state.LastSignal = pred.Signal
		state.LastSignalTs = pred.TsUpdated
	}
	if err := r.states.Upsert(ctx, *state); err != nil {
		r.bookkeepingError(ctx, bot.ID, "persist state after exit", err)
	}

	r.audit(ctx, bot.ID, domain.RiskEvent{
		Type:    domain.EventExitPlaced,
		Message: "position closed: " + decision.Reason,
		Meta: map[string]any{
			"symbol":     state.Symbol,
			"side":       string(decision.Side),
			"qty":        qty,
			"exit_price": exitPrice,
			"pnl_usd":    pnl,
			"order_id":   orderID,
			"reason":     decision.Reason,
		},
	})
	r.notify(ctx, "Position closed",
		fmt.Sprintf("%s %s %s qty=%.6f exit=%.4f pnl=%.2f USD (%s)",
			bot.ID, state.Symbol, decision.Side, qty, exitPrice, pnl, decision.Reason))
	r.logger.InfoContext(ctx, "exit executed",
		slog.String("bot", bot.ID),
		slog.String("symbol", state.Symbol),
		slog.String("reason", decision.Reason),
		slog.Float64("pnl_usd", pnl))

	return Result{Status: StatusExecuted, Reason: decision.Reason, Decision: decision, OrderID: orderID}, nil
}

func (r *Runner) executeEntry(ctx context.Context, bot domain.Bot, cfg botconfig.Config, adapter exchange.Adapter, decision domain.Decision, state *domain.BotTradeState, fp string, pred *domain.Prediction, markPrice, candidateUSD float64, now time.Time) (Result, error) {
	if markPrice <= 0 || candidateUSD <= 0 {
		return blocked(domain.ReasonEntryMissingInputs, decision), nil
	}

	if err := adapter.SetLeverage(ctx, state.Symbol, cfg.Leverage, cfg.Execution.MarginMode); err != nil {
		return Result{}, fmt.Errorf("tick: set leverage: %w", err)
	}

	orderType := exchange.OrderMarket
	price := 0.0
	ref := markPrice
	if cfg.Execution.OrderType == botconfig.OrderLimit {
		orderType = exchange.OrderLimit
		price = engine.LimitEntryPrice(decision.Side, markPrice, cfg.Execution.LimitOffsetBps)
		ref = price
	}
	qty := engine.Qty(candidateUSD, ref)
	if qty <= 0 {
		return blocked(domain.ReasonEntryMissingInputs, decision), nil
	}
	exits := engine.ResolveExitPrices(cfg, decision.Side, ref, pred)

	res, err := adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:          state.Symbol,
		Side:            decision.Side,
		Type:            orderType,
		Qty:             qty,
		Price:           price,
		StopLossPrice:   exits.StopLoss,
		TakeProfitPrice: exits.TakeProfit,
	})
	if err != nil {
		return Result{}, fmt.Errorf("tick: entry order: %w", err)
	}
	entryPrice := res.AvgPrice
	if entryPrice <= 0 {
		entryPrice = ref
	}

	// Best-effort bookkeeping from here on; the order stands.
	if state.OpenSide == decision.Side && state.OpenQty > 0 {
		total := state.OpenQty + qty
		state.OpenEntryPrice = (state.OpenEntryPrice*state.OpenQty + entryPrice*qty) / total
		state.OpenQty = total
	} else {
		state.OpenSide = decision.Side
		state.OpenQty = qty
		state.OpenEntryPrice = entryPrice
		state.OpenTs = now
	}
	state.DailyTradeCount++
	state.LastTradeTs = now
	state.LastPredictionHash = fp
	if pred != nil {
		state.LastSignal = pred.Signal
		state.LastSignalTs = pred.TsUpdated
	}
	if err := r.states.Upsert(ctx, *state); err != nil {
		r.bookkeepingError(ctx, bot.ID, "persist state after entry", err)
	}

	entry := domain.TradeHistoryEntry{
		ID:              uuid.NewString(),
		BotID:           bot.ID,
		Symbol:          state.Symbol,
		Side:            decision.Side,
		EntryTs:         now,
		EntryPrice:      entryPrice,
		Qty:             qty,
		NotionalUSD:     candidateUSD,
		Leverage:        cfg.Leverage,
		StopLossPrice:   exits.StopLoss,
		TakeProfitPrice: exits.TakeProfit,
		PredictionHash:  fp,
		EntryOrderID:    res.OrderID,
		Status:          domain.TradeOpen,
	}
	if err := r.history.Create(ctx, entry); err != nil {
		r.bookkeepingError(ctx, bot.ID, "create history entry", err)
	}

	r.audit(ctx, bot.ID, domain.RiskEvent{
		Type:    domain.EventEntryPlaced,
		Message: "position opened: " + decision.Reason,
		Meta: map[string]any{
			"symbol":       state.Symbol,
			"side":         string(decision.Side),
			"qty":          qty,
			"entry_price":  entryPrice,
			"notional_usd": candidateUSD,
			"leverage":     cfg.Leverage,
			"stop_loss":    exits.StopLoss,
			"take_profit":  exits.TakeProfit,
			"order_id":     res.OrderID,
			"hash":         fp,
			"reason":       decision.Reason,
		},
	})
	r.notify(ctx, "Position opened",
		fmt.Sprintf("%s %s %s qty=%.6f @ %.4f notional=%.2f USD x%d (%s)",
			bot.ID, state.Symbol, decision.Side, qty, entryPrice, candidateUSD, cfg.Leverage, decision.Reason))
	r.logger.InfoContext(ctx, "entry executed",
		slog.String("bot", bot.ID),
		slog.String("symbol", state.Symbol),
		slog.String("side", string(decision.Side)),
		slog.Float64("qty", qty),
		slog.Float64("notional_usd", candidateUSD))

	return Result{Status: StatusExecuted, Reason: decision.Reason, Decision: decision, OrderID: res.OrderID}, nil
}

func outcomeForReason(reason string) domain.CloseOutcome {
	if reason == domain.ReasonTimeStop {
		return domain.OutcomeTimeStop
	}
	return domain.OutcomeSignalExit
}

func symbolOf(state *domain.BotTradeState, pos *domain.NormalizedPosition) string {
	if pos != nil {
		return pos.Symbol
	}
	return state.Symbol
}

func (r *Runner) audit(ctx context.Context, botID string, ev domain.RiskEvent) {
	ev.BotID = botID
	ev.Ts = r.now().UTC()
	if err := r.events.Write(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "audit write failed", slog.Any("error", err))
	}
}

func (r *Runner) bookkeepingError(ctx context.Context, botID, op string, err error) {
	r.logger.ErrorContext(ctx, "bookkeeping failed", slog.String("op", op), slog.Any("error", err))
	r.audit(ctx, botID, domain.RiskEvent{
		Type:    domain.EventBookkeepingError,
		Message: op + " failed after order placement",
		Meta:    map[string]any{"op": op, "error": err.Error()},
	})
}

func (r *Runner) notify(ctx context.Context, title, message string) {
	if r.notifier != nil {
		r.notifier.NotifyTrade(ctx, title, message)
	}
}
