package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfold/sigbot/internal/botconfig"
	"github.com/quantfold/sigbot/internal/domain"
)

// Factory builds an adapter for one bot from its resolved config.
type Factory func(ctx context.Context, bot domain.Bot, cfg botconfig.Config) (Adapter, error)

// Registry caches adapter instances per (bot, account) so exchange
// metadata and connections survive across ticks. Owned by the
// composition root and injected into the orchestrator; there is no
// package-level instance.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// Register installs the factory for an exchange name. Not safe to call
// concurrently with Acquire; registration happens during wiring.
func (r *Registry) Register(exchange string, f Factory) {
	r.factories[exchange] = f
}

// Supported reports whether a factory exists for the exchange.
func (r *Registry) Supported(exchange string) bool {
	_, ok := r.factories[exchange]
	return ok
}

// Acquire returns the cached adapter for (bot, account), building it
// on first use. Adapter identity is stable for a bot's lifetime, so
// the cache never expires entries.
func (r *Registry) Acquire(ctx context.Context, bot domain.Bot, cfg botconfig.Config) (Adapter, error) {
	key := bot.ID + "/" + cfg.AccountID

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[key]; ok {
		return a, nil
	}
	factory, ok := r.factories[cfg.Exchange]
	if !ok {
		return nil, fmt.Errorf("exchange: acquire %s: %w", cfg.Exchange, domain.ErrUnsupportedExchange)
	}
	a, err := factory(ctx, bot, cfg)
	if err != nil {
		return nil, fmt.Errorf("exchange: build %s adapter: %w", cfg.Exchange, err)
	}
	r.adapters[key] = a
	return a, nil
}
