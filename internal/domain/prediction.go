package domain

import (
	"context"
	"time"
)

// Signal is the direction component of a prediction.
type Signal string

const (
	SignalUp      Signal = "up"
	SignalDown    Signal = "down"
	SignalNeutral Signal = "neutral"
)

// Prediction is one upstream model output for an (account, symbol,
// timeframe) key. Read-only from this system's point of view; a tick
// never mutates the prediction it acted on.
type Prediction struct {
	ID              string
	Account         string
	Exchange        string
	Symbol          string
	MarketType      string
	Timeframe       string
	Signal          Signal
	Confidence      float64 // raw upstream value, either 0-1 or 0-100
	ExpectedMovePct float64
	Tags            []string
	StopLossPrice   float64 // absolute, 0 when the model gave none
	TakeProfitPrice float64
	TsUpdated       time.Time
}

// ConfidencePct normalizes confidence to a 0-100 percent scale.
// Upstream models disagree on units; values at or below 1 are fractions.
func (p Prediction) ConfidencePct() float64 {
	if p.Confidence <= 1 {
		return p.Confidence * 100
	}
	return p.Confidence
}

// HasTag reports whether the prediction carries the given tag.
func (p Prediction) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AgeAt returns how old the prediction is relative to now.
func (p Prediction) AgeAt(now time.Time) time.Duration {
	return now.Sub(p.TsUpdated)
}

// PredictionQuery identifies the latest-prediction lookup key.
type PredictionQuery struct {
	Account    string
	Exchange   string
	Symbol     string
	MarketType string
	Timeframe  string
}

// PredictionSource supplies predictions to the tick orchestrator.
type PredictionSource interface {
	// LoadLatest returns the newest prediction matching the query, or
	// ErrNotFound when none exists.
	LoadLatest(ctx context.Context, q PredictionQuery) (Prediction, error)
	// LoadByID resolves a pinned upstream prediction by id.
	LoadByID(ctx context.Context, id string) (Prediction, error)
}
