package engine

import (
	"math"
	"strings"
	"time"

	"github.com/quantfold/sigbot/internal/botconfig"
	"github.com/quantfold/sigbot/internal/domain"
)

// Counts is the exposure snapshot the orchestrator computes before a
// decision: how many positions are open, how many trades happened
// today, and how much notional is already deployed.
type Counts struct {
	OpenPositions        int
	DailyTrades          int
	SymbolNotionalUSD    float64
	TotalNotionalUSD     float64
	CandidateNotionalUSD float64
}

// Input bundles everything a decision depends on. Decide is a pure
// function of this value; there is no hidden clock or state.
type Input struct {
	Config      botconfig.Config
	Now         time.Time
	Prediction  *domain.Prediction
	Fingerprint string
	State       domain.BotTradeState
	Position    *domain.NormalizedPosition
	Counts      Counts
}

// openSide derives the position state: live exchange exposure wins,
// local belief is the fallback when the adapter snapshot is empty.
func (in Input) openSide() domain.PositionSide {
	if in.Position != nil && in.Position.Size > 0 {
		return in.Position.Side
	}
	if in.State.HasOpenPosition() {
		return in.State.OpenSide
	}
	return ""
}

// rule is one named predicate in the decision order. It returns a
// decision and true to short-circuit, or false to fall through.
type rule struct {
	name string
	eval func(in Input) (domain.Decision, bool)
}

// Decide runs the ordered rule list and returns the first decision.
// The order is a behavioral contract: it determines which reason code
// is reported when several conditions hold at once, so rules must not
// be reordered casually.
func Decide(in Input) domain.Decision {
	side := in.openSide()

	rules := []rule{
		{"missing_prediction", missingPrediction},
		{"stale_prediction", stalePrediction},
		{"blocked_tags", blockedTags},
		{"required_tags", requiredTags},
	}
	if side != "" {
		rules = append(rules,
			rule{"time_stop", timeStop},
			rule{"confidence_drop", confidenceDrop},
			rule{"signal_neutral", signalNeutral},
			rule{"signal_flip", signalFlip},
		)
	} else {
		rules = append(rules,
			rule{"entry_confidence", entryConfidence},
			rule{"entry_neutral", entryNeutral},
			rule{"entry_signal_allowed", entrySignalAllowed},
			rule{"entry_expected_move", entryExpectedMove},
		)
	}
	rules = append(rules,
		rule{"duplicate_hash", duplicateHash},
		rule{"cooldown", cooldown},
		rule{"daily_cap", dailyCap},
		rule{"open_position_cap", openPositionCap},
		rule{"sizing", sizing},
		rule{"notional_caps", notionalCaps},
	)

	for _, r := range rules {
		if d, done := r.eval(in); done {
			return d
		}
	}

	if side != "" {
		return domain.Enter(side, domain.ReasonScaleIn)
	}
	return domain.Enter(domain.SideForSignal(in.Prediction.Signal), domain.ReasonEntryAllowed)
}

func missingPrediction(in Input) (domain.Decision, bool) {
	if in.Prediction == nil {
		return domain.Skip(domain.ReasonMissingPrediction), true
	}
	return domain.Decision{}, false
}

func stalePrediction(in Input) (domain.Decision, bool) {
	maxAge := time.Duration(in.Config.MaxPredictionAgeSec) * time.Second
	if in.Prediction.AgeAt(in.Now) > maxAge {
		return domain.Skip(domain.ReasonStalePrediction), true
	}
	return domain.Decision{}, false
}

// blockedTags skips on any blocked tag; with an open position and
// flip-driven exits enabled it closes instead, treating the tag as a
// quality signal against holding.
func blockedTags(in Input) (domain.Decision, bool) {
	for _, tag := range in.Config.Filters.BlockTags {
		if !in.Prediction.HasTag(tag) {
			continue
		}
		reason := domain.ReasonBlockedTagPrefix + tag
		if side := in.openSide(); side != "" && in.Config.Exits.OnSignalFlip {
			return domain.Exit(side, reason), true
		}
		return domain.Skip(reason), true
	}
	return domain.Decision{}, false
}

func requiredTags(in Input) (domain.Decision, bool) {
	var missing []string
	for _, tag := range in.Config.Filters.RequireTags {
		if !in.Prediction.HasTag(tag) {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return domain.Skip(domain.ReasonMissingTagsPrefix + strings.Join(missing, ",")), true
	}
	return domain.Decision{}, false
}

func timeStop(in Input) (domain.Decision, bool) {
	if in.Config.Risk.TimeStopMin <= 0 || in.State.OpenTs.IsZero() {
		return domain.Decision{}, false
	}
	held := in.Now.Sub(in.State.OpenTs)
	if held >= time.Duration(in.Config.Risk.TimeStopMin)*time.Minute {
		return domain.Exit(in.openSide(), domain.ReasonTimeStop), true
	}
	return domain.Decision{}, false
}

func confidenceDrop(in Input) (domain.Decision, bool) {
	if in.Prediction.ConfidencePct() >= in.Config.MinConfidence {
		return domain.Decision{}, false
	}
	if in.Config.Exits.OnConfidenceDrop {
		return domain.Exit(in.openSide(), domain.ReasonConfidenceBelowMin), true
	}
	return domain.Skip(domain.ReasonConfidenceBelowMin), true
}

func signalNeutral(in Input) (domain.Decision, bool) {
	if in.Prediction.Signal != domain.SignalNeutral {
		return domain.Decision{}, false
	}
	if in.Config.Exits.OnSignalFlip {
		return domain.Exit(in.openSide(), domain.ReasonSignalNeutral), true
	}
	return domain.Skip(domain.ReasonSignalNeutral), true
}

func signalFlip(in Input) (domain.Decision, bool) {
	want := domain.SideForSignal(in.Prediction.Signal)
	side := in.openSide()
	if want == "" || want == side {
		return domain.Decision{}, false
	}
	if in.Config.Exits.OnSignalFlip {
		return domain.Exit(side, domain.ReasonSignalFlip), true
	}
	return domain.Skip(domain.ReasonSignalFlip), true
}

func entryConfidence(in Input) (domain.Decision, bool) {
	if in.Prediction.ConfidencePct() < in.Config.MinConfidence {
		return domain.Skip(domain.ReasonConfidenceBelowMin), true
	}
	return domain.Decision{}, false
}

func entryNeutral(in Input) (domain.Decision, bool) {
	if in.Prediction.Signal == domain.SignalNeutral {
		return domain.Skip(domain.ReasonNeutralSignal), true
	}
	return domain.Decision{}, false
}

func entrySignalAllowed(in Input) (domain.Decision, bool) {
	if !in.Config.AllowsSignal(in.Prediction.Signal) {
		return domain.Skip(domain.ReasonSignalNotAllowed), true
	}
	return domain.Decision{}, false
}

func entryExpectedMove(in Input) (domain.Decision, bool) {
	min := in.Config.Filters.MinExpectedMovePct
	if min > 0 && math.Abs(in.Prediction.ExpectedMovePct) < min {
		return domain.Skip(domain.ReasonExpectedMoveTooLow), true
	}
	return domain.Decision{}, false
}

func duplicateHash(in Input) (domain.Decision, bool) {
	if in.Fingerprint != "" && in.Fingerprint == in.State.LastPredictionHash {
		return domain.Skip(domain.ReasonDuplicateHash), true
	}
	return domain.Decision{}, false
}

func cooldown(in Input) (domain.Decision, bool) {
	cd := time.Duration(in.Config.Risk.CooldownSecAfterTrade) * time.Second
	if cd > 0 && !in.State.LastTradeTs.IsZero() && in.Now.Sub(in.State.LastTradeTs) < cd {
		return domain.Skip(domain.ReasonCooldownActive), true
	}
	return domain.Decision{}, false
}

func dailyCap(in Input) (domain.Decision, bool) {
	if in.Counts.DailyTrades >= in.Config.Risk.MaxDailyTrades {
		return domain.Skip(domain.ReasonDailyCapReached), true
	}
	return domain.Decision{}, false
}

// openPositionCap applies to scale-ins and fresh entries alike; an
// open position counts itself against the budget.
func openPositionCap(in Input) (domain.Decision, bool) {
	if in.Counts.OpenPositions >= in.Config.Risk.MaxOpenPositions {
		return domain.Skip(domain.ReasonMaxOpenPositions), true
	}
	return domain.Decision{}, false
}

func sizing(in Input) (domain.Decision, bool) {
	if in.Counts.CandidateNotionalUSD <= 0 {
		return domain.Skip(domain.ReasonSizingUnavailable), true
	}
	return domain.Decision{}, false
}

func notionalCaps(in Input) (domain.Decision, bool) {
	candidate := in.Counts.CandidateNotionalUSD
	if in.Counts.SymbolNotionalUSD+candidate > in.Config.Risk.MaxNotionalPerSymbolUSD {
		return domain.Skip(domain.ReasonSymbolNotionalCap), true
	}
	if in.Counts.TotalNotionalUSD+candidate > in.Config.Risk.MaxTotalNotionalUSD {
		return domain.Skip(domain.ReasonTotalNotionalCap), true
	}
	return domain.Decision{}, false
}
