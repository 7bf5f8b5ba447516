// Package reconcile repairs local bookkeeping when the exchange's
// actual state has drifted from what the bot last recorded, typically
// a position closed by an exchange-side stop between ticks.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantfold/sigbot/internal/domain"
)

// Reconciler compares local trade state to live exchange positions and
// closes the books on positions that no longer exist.
type Reconciler struct {
	states  domain.TradeStateStore
	history domain.TradeHistoryStore
	events  domain.RiskEventStore
	logger  *slog.Logger
}

func New(states domain.TradeStateStore, history domain.TradeHistoryStore, events domain.RiskEventStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		states:  states,
		history: history,
		events:  events,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
}

// Run repairs one (bot, symbol) in place. It acts only when local
// state believes a position is open and the exchange snapshot has no
// matching exposure. Every failure is swallowed: it is logged, written
// to the audit log best-effort, and the tick continues on whatever
// state was or was not fixed.
func (r *Reconciler) Run(ctx context.Context, state *domain.BotTradeState, positions []domain.NormalizedPosition, markPrice float64, now time.Time) {
	if !state.HasOpenPosition() {
		return
	}
	if pos := domain.FindPosition(positions, state.Symbol); pos != nil && pos.Side == state.OpenSide {
		return
	}

	if err := r.repair(ctx, state, markPrice, now); err != nil {
		r.logger.ErrorContext(ctx, "reconciliation failed",
			slog.String("bot", state.BotID),
			slog.String("symbol", state.Symbol),
			slog.Any("error", err))
		r.audit(ctx, state.BotID, domain.RiskEvent{
			Type:    domain.EventReconcileError,
			Message: "reconciliation failed, continuing tick",
			Meta: map[string]any{
				"symbol": state.Symbol,
				"error":  err.Error(),
			},
		})
	}
}

func (r *Reconciler) repair(ctx context.Context, state *domain.BotTradeState, markPrice float64, now time.Time) error {
	openCount, err := r.history.CountOpen(ctx, state.BotID, state.Symbol)
	if err != nil {
		return err
	}

	outcome := domain.OutcomeUnknown
	exitPrice := markPrice
	if openCount > 0 {
		latest, err := r.history.LatestOpen(ctx, state.BotID, state.Symbol)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil {
			outcome, exitPrice = classifyClose(latest, markPrice)
		}
		if exitPrice <= 0 {
			exitPrice = state.OpenEntryPrice
		}
		closed, err := r.history.CloseOpen(ctx, domain.CloseOpenParams{
			BotID:       state.BotID,
			Symbol:      state.Symbol,
			ExitTs:      now,
			ExitPrice:   exitPrice,
			Outcome:     outcome,
			CloseReason: "external_close",
		})
		if err != nil {
			return err
		}
		openCount = closed
	}

	prevSide, prevQty := state.OpenSide, state.OpenQty
	state.ClearOpenPosition()
	if err := r.states.Upsert(ctx, *state); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "reconciled external close",
		slog.String("bot", state.BotID),
		slog.String("symbol", state.Symbol),
		slog.String("outcome", string(outcome)),
		slog.Float64("exit_price", exitPrice),
		slog.Int("closed_entries", openCount))
	r.audit(ctx, state.BotID, domain.RiskEvent{
		Type:    domain.EventExternalClose,
		Message: "position closed externally, local records repaired",
		Meta: map[string]any{
			"symbol":         state.Symbol,
			"side":           string(prevSide),
			"qty":            prevQty,
			"outcome":        string(outcome),
			"exit_price":     exitPrice,
			"closed_entries": openCount,
		},
	})
	return nil
}

// classifyClose infers why the exchange closed the position from the
// last recorded protective prices and the current mark. When both
// thresholds read as crossed, the stop wins: assuming the worse fill
// keeps the books conservative.
func classifyClose(entry domain.TradeHistoryEntry, markPrice float64) (domain.CloseOutcome, float64) {
	if markPrice <= 0 {
		return domain.OutcomeUnknown, 0
	}
	sl, tp := entry.StopLossPrice, entry.TakeProfitPrice

	if entry.Side == domain.SideShort {
		switch {
		case sl > 0 && markPrice >= sl:
			return domain.OutcomeSLHit, sl
		case tp > 0 && markPrice <= tp:
			return domain.OutcomeTPHit, tp
		}
		return domain.OutcomeUnknown, markPrice
	}

	switch {
	case sl > 0 && markPrice <= sl:
		return domain.OutcomeSLHit, sl
	case tp > 0 && markPrice >= tp:
		return domain.OutcomeTPHit, tp
	}
	return domain.OutcomeUnknown, markPrice
}

func (r *Reconciler) audit(ctx context.Context, botID string, ev domain.RiskEvent) {
	ev.BotID = botID
	ev.Ts = time.Now().UTC()
	if err := r.events.Write(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "audit write failed", slog.Any("error", err))
	}
}
