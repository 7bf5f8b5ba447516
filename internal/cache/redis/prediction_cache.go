package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/sigbot/internal/domain"
)

// PredictionCache is a read-through cache in front of a
// domain.PredictionSource. Latest-prediction lookups happen on every
// tick of every bot; a short TTL takes that load off postgres without
// letting bots act on stale data longer than one cache window.
type PredictionCache struct {
	rdb  *redis.Client
	next domain.PredictionSource
	ttl  time.Duration
}

func NewPredictionCache(c *Client, next domain.PredictionSource, ttl time.Duration) *PredictionCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &PredictionCache{rdb: c.Underlying(), next: next, ttl: ttl}
}

func latestKey(q domain.PredictionQuery) string {
	return fmt.Sprintf("prediction:latest:%s:%s:%s:%s:%s",
		q.Account, q.Exchange, q.Symbol, q.MarketType, q.Timeframe)
}

// LoadLatest serves from cache when fresh, else falls through and
// caches the result. Cache failures degrade to the underlying source.
func (p *PredictionCache) LoadLatest(ctx context.Context, q domain.PredictionQuery) (domain.Prediction, error) {
	key := latestKey(q)

	// A miss, a cache failure, and an undecodable entry all fall through
	// to the source; the cache being down must not stop trading.
	if raw, err := p.rdb.Get(ctx, key).Bytes(); err == nil {
		var pred domain.Prediction
		if jsonErr := json.Unmarshal(raw, &pred); jsonErr == nil {
			return pred, nil
		}
	}

	pred, err := p.next.LoadLatest(ctx, q)
	if err != nil {
		return domain.Prediction{}, err
	}
	if raw, jsonErr := json.Marshal(pred); jsonErr == nil {
		_ = p.rdb.Set(ctx, key, raw, p.ttl).Err()
	}
	return pred, nil
}

// LoadByID is uncached; pinned lookups are rare.
func (p *PredictionCache) LoadByID(ctx context.Context, id string) (domain.Prediction, error) {
	return p.next.LoadByID(ctx, id)
}

var _ domain.PredictionSource = (*PredictionCache)(nil)
