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

// TradeHistoryStore implements domain.TradeHistoryStore.
type TradeHistoryStore struct {
	pool *pgxpool.Pool
}

func NewTradeHistoryStore(pool *pgxpool.Pool) *TradeHistoryStore {
	return &TradeHistoryStore{pool: pool}
}

const historySelectCols = `id, bot_id, symbol, side, entry_ts, entry_price, qty,
	notional_usd, leverage, stop_loss_price, take_profit_price,
	prediction_hash, entry_order_id, status,
	exit_ts, exit_price, exit_order_id, outcome, close_reason, realized_pnl_usd`

func scanHistoryRow(row pgx.Row) (domain.TradeHistoryEntry, error) {
	var (
		e                            domain.TradeHistoryEntry
		side, status                 string
		exitTs                       *time.Time
		exitPrice, realized          *float64
		exitOrderID, outcome, reason *string
	)
	err := row.Scan(
		&e.ID, &e.BotID, &e.Symbol, &side, &e.EntryTs, &e.EntryPrice, &e.Qty,
		&e.NotionalUSD, &e.Leverage, &e.StopLossPrice, &e.TakeProfitPrice,
		&e.PredictionHash, &e.EntryOrderID, &status,
		&exitTs, &exitPrice, &exitOrderID, &outcome, &reason, &realized,
	)
	if err != nil {
		return domain.TradeHistoryEntry{}, err
	}
	e.Side = domain.PositionSide(side)
	e.Status = domain.TradeStatus(status)
	e.ExitTs = deref(exitTs)
	if exitPrice != nil {
		e.ExitPrice = *exitPrice
	}
	if exitOrderID != nil {
		e.ExitOrderID = *exitOrderID
	}
	if outcome != nil {
		e.Outcome = domain.CloseOutcome(*outcome)
	}
	if reason != nil {
		e.CloseReason = *reason
	}
	if realized != nil {
		e.RealizedPnLUSD = *realized
	}
	return e, nil
}

// Create inserts a new open history entry.
func (s *TradeHistoryStore) Create(ctx context.Context, e domain.TradeHistoryEntry) error {
	const query = `
		INSERT INTO trade_history (
			id, bot_id, symbol, side, entry_ts, entry_price, qty,
			notional_usd, leverage, stop_loss_price, take_profit_price,
			prediction_hash, entry_order_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	status := e.Status
	if status == "" {
		status = domain.TradeOpen
	}
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.BotID, e.Symbol, string(e.Side), e.EntryTs, e.EntryPrice, e.Qty,
		e.NotionalUSD, e.Leverage, e.StopLossPrice, e.TakeProfitPrice,
		e.PredictionHash, e.EntryOrderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create history entry: %w", err)
	}
	return nil
}

// CloseOpen closes every open entry for (bot, symbol), deriving each
// row's realized PnL from its own entry price.
func (s *TradeHistoryStore) CloseOpen(ctx context.Context, p domain.CloseOpenParams) (int, error) {
	const query = `
		UPDATE trade_history SET
			status = 'closed',
			exit_ts = $3,
			exit_price = $4,
			exit_order_id = $5,
			outcome = $6,
			close_reason = $7,
			realized_pnl_usd = CASE WHEN side = 'short'
				THEN (entry_price - $4) * qty
				ELSE ($4 - entry_price) * qty
			END
		WHERE bot_id = $1 AND symbol = $2 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		p.BotID, p.Symbol, p.ExitTs, p.ExitPrice, p.ExitOrderID,
		string(p.Outcome), p.CloseReason,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: close open entries %s/%s: %w", p.BotID, p.Symbol, err)
	}
	return int(tag.RowsAffected()), nil
}

// CountOpen counts open entries for (bot, symbol).
func (s *TradeHistoryStore) CountOpen(ctx context.Context, botID, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_history WHERE bot_id = $1 AND symbol = $2 AND status = 'open'`
	var n int
	if err := s.pool.QueryRow(ctx, query, botID, symbol).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count open entries: %w", err)
	}
	return n, nil
}

// LatestOpen returns the newest open entry, or domain.ErrNotFound.
func (s *TradeHistoryStore) LatestOpen(ctx context.Context, botID, symbol string) (domain.TradeHistoryEntry, error) {
	query := `SELECT ` + historySelectCols + `
		FROM trade_history
		WHERE bot_id = $1 AND symbol = $2 AND status = 'open'
		ORDER BY entry_ts DESC
		LIMIT 1`

	e, err := scanHistoryRow(s.pool.QueryRow(ctx, query, botID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeHistoryEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeHistoryEntry{}, fmt.Errorf("postgres: latest open entry: %w", err)
	}
	return e, nil
}

// DailyTradeCount counts entries opened since UTC midnight across all
// of the bot's symbols, so the daily cap survives process restarts.
func (s *TradeHistoryStore) DailyTradeCount(ctx context.Context, botID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_history WHERE bot_id = $1 AND entry_ts >= $2`
	var n int
	if err := s.pool.QueryRow(ctx, query, botID, domain.UTCMidnight(now)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: daily trade count: %w", err)
	}
	return n, nil
}

// ListClosedBefore returns closed entries whose exit is older than the
// cutoff, oldest first, for archival.
func (s *TradeHistoryStore) ListClosedBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.TradeHistoryEntry, error) {
	query := `SELECT ` + historySelectCols + `
		FROM trade_history
		WHERE status = 'closed' AND exit_ts < $1
		ORDER BY exit_ts ASC`
	args := []any{cutoff}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed entries: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeHistoryEntry
	for rows.Next() {
		e, err := scanHistoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
