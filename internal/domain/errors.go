package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrLockHeld            = errors.New("lock already held")
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrUnsupportedSymbol   = errors.New("unsupported symbol")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrTradingDisabled     = errors.New("trading globally disabled")
)
