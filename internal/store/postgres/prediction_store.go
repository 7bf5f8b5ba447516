package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/sigbot/internal/domain"
)

// PredictionStore implements domain.PredictionSource against the
// predictions table the upstream model service writes into.
type PredictionStore struct {
	pool *pgxpool.Pool
}

func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionSelectCols = `id, account, exchange, symbol, market_type, timeframe,
	signal, confidence, expected_move_pct, tags, stop_loss_price, take_profit_price, ts_updated`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var signal string
	err := row.Scan(
		&p.ID, &p.Account, &p.Exchange, &p.Symbol, &p.MarketType, &p.Timeframe,
		&signal, &p.Confidence, &p.ExpectedMovePct, &p.Tags,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.TsUpdated,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Signal = domain.Signal(signal)
	return p, nil
}

// LoadLatest returns the newest prediction for the key, or
// domain.ErrNotFound.
func (s *PredictionStore) LoadLatest(ctx context.Context, q domain.PredictionQuery) (domain.Prediction, error) {
	query := `SELECT ` + predictionSelectCols + `
		FROM predictions
		WHERE account = $1 AND exchange = $2 AND symbol = $3
		  AND market_type = $4 AND timeframe = $5
		ORDER BY ts_updated DESC
		LIMIT 1`

	p, err := scanPrediction(s.pool.QueryRow(ctx, query,
		q.Account, q.Exchange, q.Symbol, q.MarketType, q.Timeframe))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("postgres: load latest prediction %s: %w", q.Symbol, err)
	}
	return p, nil
}

// LoadByID resolves a pinned prediction, or domain.ErrNotFound.
func (s *PredictionStore) LoadByID(ctx context.Context, id string) (domain.Prediction, error) {
	query := `SELECT ` + predictionSelectCols + ` FROM predictions WHERE id = $1`

	p, err := scanPrediction(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("postgres: load prediction %s: %w", id, err)
	}
	return p, nil
}

// Upsert writes a prediction row. Used by tests and by backfill
// tooling; the production writer is the model service.
func (s *PredictionStore) Upsert(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, account, exchange, symbol, market_type, timeframe,
			signal, confidence, expected_move_pct, tags,
			stop_loss_price, take_profit_price, ts_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			signal            = EXCLUDED.signal,
			confidence        = EXCLUDED.confidence,
			expected_move_pct = EXCLUDED.expected_move_pct,
			tags              = EXCLUDED.tags,
			stop_loss_price   = EXCLUDED.stop_loss_price,
			take_profit_price = EXCLUDED.take_profit_price,
			ts_updated        = EXCLUDED.ts_updated`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Account, p.Exchange, p.Symbol, p.MarketType, p.Timeframe,
		string(p.Signal), p.Confidence, p.ExpectedMovePct, p.Tags,
		p.StopLossPrice, p.TakeProfitPrice, p.TsUpdated,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert prediction %s: %w", p.ID, err)
	}
	return nil
}
