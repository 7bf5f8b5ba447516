package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/sigbot/internal/domain"
)

// TradeStateStore implements domain.TradeStateStore.
type TradeStateStore struct {
	pool *pgxpool.Pool
}

func NewTradeStateStore(pool *pgxpool.Pool) *TradeStateStore {
	return &TradeStateStore{pool: pool}
}

// Load returns the state row for (bot, symbol), creating the default
// lazily on first sight. The daily counter window is reset against now
// before returning.
func (s *TradeStateStore) Load(ctx context.Context, botID, symbol string, now time.Time) (domain.BotTradeState, error) {
	const query = `
		SELECT bot_id, symbol, daily_reset_utc, daily_trade_count,
		       last_trade_ts, last_prediction_hash, last_signal, last_signal_ts,
		       open_side, open_qty, open_entry_price, open_ts, updated_at
		FROM bot_trade_state
		WHERE bot_id = $1 AND symbol = $2`

	var (
		st                            domain.BotTradeState
		lastTrade, lastSignal, openTs *time.Time
		lastSignalStr, openSideStr    string
	)
	err := s.pool.QueryRow(ctx, query, botID, symbol).Scan(
		&st.BotID, &st.Symbol, &st.DailyResetUTC, &st.DailyTradeCount,
		&lastTrade, &st.LastPredictionHash, &lastSignalStr, &lastSignal,
		&openSideStr, &st.OpenQty, &st.OpenEntryPrice, &openTs, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		st = domain.NewBotTradeState(botID, symbol, now)
		if err := s.Upsert(ctx, st); err != nil {
			return domain.BotTradeState{}, err
		}
		return st, nil
	}
	if err != nil {
		return domain.BotTradeState{}, fmt.Errorf("postgres: load trade state %s/%s: %w", botID, symbol, err)
	}

	st.LastSignal = domain.Signal(lastSignalStr)
	st.OpenSide = domain.PositionSide(openSideStr)
	st.LastTradeTs = deref(lastTrade)
	st.LastSignalTs = deref(lastSignal)
	st.OpenTs = deref(openTs)
	st.ResetDailyWindow(now)
	return st, nil
}

// Upsert writes the full row, last-write-wins.
func (s *TradeStateStore) Upsert(ctx context.Context, st domain.BotTradeState) error {
	const query = `
		INSERT INTO bot_trade_state (
			bot_id, symbol, daily_reset_utc, daily_trade_count,
			last_trade_ts, last_prediction_hash, last_signal, last_signal_ts,
			open_side, open_qty, open_entry_price, open_ts, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (bot_id, symbol) DO UPDATE SET
			daily_reset_utc      = EXCLUDED.daily_reset_utc,
			daily_trade_count    = EXCLUDED.daily_trade_count,
			last_trade_ts        = EXCLUDED.last_trade_ts,
			last_prediction_hash = EXCLUDED.last_prediction_hash,
			last_signal          = EXCLUDED.last_signal,
			last_signal_ts       = EXCLUDED.last_signal_ts,
			open_side            = EXCLUDED.open_side,
			open_qty             = EXCLUDED.open_qty,
			open_entry_price     = EXCLUDED.open_entry_price,
			open_ts              = EXCLUDED.open_ts,
			updated_at           = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.BotID, st.Symbol, st.DailyResetUTC, st.DailyTradeCount,
		nullTime(st.LastTradeTs), st.LastPredictionHash, string(st.LastSignal), nullTime(st.LastSignalTs),
		string(st.OpenSide), st.OpenQty, st.OpenEntryPrice, nullTime(st.OpenTs),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade state %s/%s: %w", st.BotID, st.Symbol, err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
