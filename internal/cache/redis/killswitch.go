package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/sigbot/internal/domain"
)

// killSwitchKey is the process-wide trading gate. Operators flip it
// with a plain SET from redis-cli; no deploy needed.
const killSwitchKey = "trading:enabled"

// KillSwitch implements domain.KillSwitch on a single redis flag.
// An absent key means trading is enabled; only an explicit "false"
// (or "0") disables it.
type KillSwitch struct {
	rdb *redis.Client
}

func NewKillSwitch(c *Client) *KillSwitch {
	return &KillSwitch{rdb: c.Underlying()}
}

// IsGlobalTradingEnabled reads the flag once per tick.
func (k *KillSwitch) IsGlobalTradingEnabled(ctx context.Context) (bool, error) {
	val, err := k.rdb.Get(ctx, killSwitchKey).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: read kill switch: %w", err)
	}
	return val != "false" && val != "0", nil
}

// SetGlobalTradingEnabled flips the flag, for ops tooling and tests.
func (k *KillSwitch) SetGlobalTradingEnabled(ctx context.Context, enabled bool) error {
	val := "true"
	if !enabled {
		val = "false"
	}
	if err := k.rdb.Set(ctx, killSwitchKey, val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set kill switch: %w", err)
	}
	return nil
}

var _ domain.KillSwitch = (*KillSwitch)(nil)
