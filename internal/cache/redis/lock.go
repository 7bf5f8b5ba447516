package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quantfold/sigbot/internal/domain"
)

// releaseLua deletes the lock key only when it still holds the
// caller's token, so an expired-and-reacquired lock is never released
// by its previous holder.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SETNX plus a TTL.
// The scheduler takes one lock per (bot, symbol) so a slow tick is
// skipped, not queued behind.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// TickLockKey names the lock guarding one (bot, symbol) tick.
func TickLockKey(botID, symbol string) string {
	return "tick:" + botID + ":" + symbol
}

// Acquire takes the lock or returns domain.ErrLockHeld. The returned
// release func is idempotent and survives caller-context cancellation.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(releaseCtx, lm.rdb, []string{fullKey}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
