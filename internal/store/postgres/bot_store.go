package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/sigbot/internal/domain"
)

// BotStore implements domain.BotStore.
type BotStore struct {
	pool *pgxpool.Pool
}

func NewBotStore(pool *pgxpool.Pool) *BotStore {
	return &BotStore{pool: pool}
}

const botSelectCols = `id, account_id, exchange, symbols, params, enabled, created_at, updated_at`

func scanBot(row pgx.Row) (domain.Bot, error) {
	var b domain.Bot
	var paramsJSON []byte
	if err := row.Scan(&b.ID, &b.AccountID, &b.Exchange, &b.Symbols, &paramsJSON, &b.Enabled, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Bot{}, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &b.Params); err != nil {
			return domain.Bot{}, fmt.Errorf("decode params: %w", err)
		}
	}
	return b, nil
}

// Get returns one bot by id, or domain.ErrNotFound.
func (s *BotStore) Get(ctx context.Context, id string) (domain.Bot, error) {
	query := `SELECT ` + botSelectCols + ` FROM bots WHERE id = $1`
	b, err := scanBot(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: get bot %s: %w", id, err)
	}
	return b, nil
}

// ListEnabled returns every enabled bot, stable order by id.
func (s *BotStore) ListEnabled(ctx context.Context) ([]domain.Bot, error) {
	query := `SELECT ` + botSelectCols + ` FROM bots WHERE enabled ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled bots: %w", err)
	}
	defer rows.Close()

	var out []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Upsert creates or updates a bot row.
func (s *BotStore) Upsert(ctx context.Context, b domain.Bot) error {
	paramsJSON, err := json.Marshal(b.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot params: %w", err)
	}
	const query = `
		INSERT INTO bots (id, account_id, exchange, symbols, params, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			exchange   = EXCLUDED.exchange,
			symbols    = EXCLUDED.symbols,
			params     = EXCLUDED.params,
			enabled    = EXCLUDED.enabled,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, b.ID, b.AccountID, b.Exchange, b.Symbols, paramsJSON, b.Enabled); err != nil {
		return fmt.Errorf("postgres: upsert bot %s: %w", b.ID, err)
	}
	return nil
}
