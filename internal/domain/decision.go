package domain

// Action is what the decision engine wants done this tick.
type Action string

const (
	ActionSkip  Action = "skip"
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
)

// Stable reason codes. These are part of the audit contract: operators
// and tests match on them, so renaming one is a breaking change.
const (
	ReasonMissingPrediction   = "missing_prediction_state"
	ReasonStalePrediction     = "stale_prediction_state"
	ReasonBlockedTagPrefix    = "blocked_tag:"
	ReasonMissingTagsPrefix   = "missing_required_tags:"
	ReasonTimeStop            = "time_stop"
	ReasonConfidenceBelowMin  = "confidence_below_min"
	ReasonSignalNeutral       = "signal_neutral"
	ReasonNeutralSignal       = "neutral_signal"
	ReasonSignalFlip          = "signal_flip"
	ReasonSignalNotAllowed    = "signal_not_allowed"
	ReasonExpectedMoveTooLow  = "expected_move_below_min"
	ReasonDuplicateHash       = "duplicate_prediction_hash"
	ReasonCooldownActive      = "cooldown_active"
	ReasonDailyCapReached     = "daily_trade_cap_reached"
	ReasonMaxOpenPositions    = "max_open_positions_reached"
	ReasonSizingUnavailable   = "sizing_unavailable"
	ReasonSymbolNotionalCap   = "symbol_notional_cap_reached"
	ReasonTotalNotionalCap    = "total_notional_cap_reached"
	ReasonScaleIn             = "scale_in_aligned_position"
	ReasonEntryAllowed        = "entry_allowed"
	ReasonUnsupportedExchange = "unsupported_exchange"
	ReasonUnsupportedSymbol   = "unsupported_symbol"
	ReasonTradingDisabled     = "trading_disabled"
	ReasonEntryMissingInputs  = "entry_missing_price_or_size"
	ReasonSourceMismatch      = "prediction_source_mismatch"
)

// Decision is the pure output of the decision engine.
type Decision struct {
	Action Action
	Side   PositionSide // set for enter and exit
	Reason string
}

// Skip builds a skip decision with the given reason code.
func Skip(reason string) Decision {
	return Decision{Action: ActionSkip, Reason: reason}
}

// Enter builds an enter decision on the given side.
func Enter(side PositionSide, reason string) Decision {
	return Decision{Action: ActionEnter, Side: side, Reason: reason}
}

// Exit builds an exit decision closing the given side.
func Exit(side PositionSide, reason string) Decision {
	return Decision{Action: ActionExit, Side: side, Reason: reason}
}
