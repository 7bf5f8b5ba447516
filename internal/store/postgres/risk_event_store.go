package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/sigbot/internal/domain"
)

// RiskEventStore implements domain.RiskEventStore. Rows are write-once.
type RiskEventStore struct {
	pool *pgxpool.Pool
}

func NewRiskEventStore(pool *pgxpool.Pool) *RiskEventStore {
	return &RiskEventStore{pool: pool}
}

// Write appends one audit event. Meta is stored as JSONB.
func (s *RiskEventStore) Write(ctx context.Context, ev domain.RiskEvent) error {
	meta := ev.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal event meta: %w", err)
	}

	ts := ev.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	const query = `INSERT INTO risk_events (bot_id, type, message, meta, ts) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, ev.BotID, ev.Type, ev.Message, metaJSON, ts); err != nil {
		return fmt.Errorf("postgres: write risk event %s: %w", ev.Type, err)
	}
	return nil
}

// ListByBot returns a bot's events, newest first.
func (s *RiskEventStore) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.RiskEvent, error) {
	query := `SELECT id, bot_id, type, message, meta, ts FROM risk_events WHERE bot_id = $1`
	args := []any{botID}
	idx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", idx)
		args = append(args, *opts.Until)
		idx++
	}
	query += " ORDER BY ts DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}
	return s.query(ctx, query, args...)
}

// ListBefore returns events older than the cutoff, oldest first, for
// archival.
func (s *RiskEventStore) ListBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.RiskEvent, error) {
	query := `SELECT id, bot_id, type, message, meta, ts FROM risk_events WHERE ts < $1 ORDER BY ts ASC`
	args := []any{cutoff}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}
	return s.query(ctx, query, args...)
}

// DeleteBefore removes events older than the cutoff after they have
// been archived.
func (s *RiskEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM risk_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete risk events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *RiskEventStore) query(ctx context.Context, query string, args ...any) ([]domain.RiskEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk events: %w", err)
	}
	defer rows.Close()
	return scanRiskEvents(rows)
}

func scanRiskEvents(rows pgx.Rows) ([]domain.RiskEvent, error) {
	var out []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var metaJSON []byte
		if err := rows.Scan(&ev.ID, &ev.BotID, &ev.Type, &ev.Message, &metaJSON, &ev.Ts); err != nil {
			return nil, fmt.Errorf("postgres: scan risk event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Meta); err != nil {
				return nil, fmt.Errorf("postgres: decode event meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
