package domain

import "time"

// Bot is one configured trading bot. Params is the raw, loosely-typed
// parameter bag the config resolver turns into a typed config each
// tick, so operators can change behavior without a restart.
type Bot struct {
	ID        string
	AccountID string
	Exchange  string
	Symbols   []string
	Params    map[string]any
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
