package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/sigbot/internal/domain"
	"github.com/quantfold/sigbot/internal/exchange/paper"
)

// PaperStore implements paper.Ledger: the simulated accounts and
// positions behind the paper trading adapter.
type PaperStore struct {
	pool *pgxpool.Pool
}

func NewPaperStore(pool *pgxpool.Pool) *PaperStore {
	return &PaperStore{pool: pool}
}

// EnsureAccount returns the account row, inserting it with the given
// starting balance on first use.
func (s *PaperStore) EnsureAccount(ctx context.Context, accountID string, startingBalanceUSD float64) (paper.Account, error) {
	const query = `
		INSERT INTO paper_accounts (account_id, starting_balance_usd)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING account_id, starting_balance_usd, realized_pnl_usd`

	var a paper.Account
	err := s.pool.QueryRow(ctx, query, accountID, startingBalanceUSD).
		Scan(&a.AccountID, &a.StartingBalanceUSD, &a.RealizedPnLUSD)
	if err != nil {
		return paper.Account{}, fmt.Errorf("postgres: ensure paper account %s: %w", accountID, err)
	}
	return a, nil
}

// AddRealizedPnL books a realized PnL delta onto the account.
func (s *PaperStore) AddRealizedPnL(ctx context.Context, accountID string, deltaUSD float64) error {
	const query = `UPDATE paper_accounts SET realized_pnl_usd = realized_pnl_usd + $2 WHERE account_id = $1`
	if _, err := s.pool.Exec(ctx, query, accountID, deltaUSD); err != nil {
		return fmt.Errorf("postgres: add realized pnl %s: %w", accountID, err)
	}
	return nil
}

// OpenPositions lists the account's open simulated positions, oldest
// first so reduce-only fills consume them in order.
func (s *PaperStore) OpenPositions(ctx context.Context, accountID string) ([]paper.Position, error) {
	const query = `
		SELECT id, bot_id, account_id, symbol, side, qty, entry_price, opened_at, status
		FROM paper_positions
		WHERE account_id = $1 AND status = 'open'
		ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paper positions: %w", err)
	}
	defer rows.Close()

	var out []paper.Position
	for rows.Next() {
		var p paper.Position
		var side string
		if err := rows.Scan(&p.ID, &p.BotID, &p.AccountID, &p.Symbol, &side, &p.Qty, &p.EntryPrice, &p.OpenedAt, &p.Status); err != nil {
			return nil, fmt.Errorf("postgres: scan paper position: %w", err)
		}
		p.Side = domain.PositionSide(side)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPosition creates or rewrites one simulated position row.
func (s *PaperStore) UpsertPosition(ctx context.Context, p paper.Position) error {
	const query = `
		INSERT INTO paper_positions (id, bot_id, account_id, symbol, side, qty, entry_price, opened_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			qty         = EXCLUDED.qty,
			entry_price = EXCLUDED.entry_price,
			status      = EXCLUDED.status`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.BotID, p.AccountID, p.Symbol, string(p.Side), p.Qty, p.EntryPrice, p.OpenedAt, p.Status)
	if err != nil {
		return fmt.Errorf("postgres: upsert paper position %s: %w", p.ID, err)
	}
	return nil
}

// ClosePosition marks a simulated position closed at the given fill.
func (s *PaperStore) ClosePosition(ctx context.Context, id string, exitPrice float64, closedAt time.Time) error {
	const query = `
		UPDATE paper_positions
		SET status = 'closed', exit_price = $2, closed_at = $3
		WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, exitPrice, closedAt); err != nil {
		return fmt.Errorf("postgres: close paper position %s: %w", id, err)
	}
	return nil
}
