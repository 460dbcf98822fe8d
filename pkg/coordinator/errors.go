// Copyright 2025 Certen Protocol

package coordinator

import "errors"

// Validation errors (spec §7): produced before any side effect.
var (
	ErrMissingSignature        = errors.New("coordinator: missing signature")
	ErrInvalidSignature        = errors.New("coordinator: invalid signature")
	ErrExpired                 = errors.New("coordinator: intent expired")
	ErrZeroAmount              = errors.New("coordinator: zero input amount")
	ErrAmountTooSmall          = errors.New("coordinator: amount too small")
	ErrInvalidLimitPrice       = errors.New("coordinator: invalid limit price")
	ErrUnsupportedTradingPair  = errors.New("coordinator: unsupported trading pair")
	ErrSameAssetTrading        = errors.New("coordinator: input and output denom are the same")
	ErrDeadlineInPast          = errors.New("coordinator: deadline is in the past")
	ErrDeadlineAfterExpiration = errors.New("coordinator: deadline after expiration")
	ErrInvalidFillPercentage   = errors.New("coordinator: min_fill_pct out of range")
	ErrMinFillExceedsInput     = errors.New("coordinator: min_fill_amount exceeds input amount")
)

// ErrInsufficientFill is the terminal outcome for an all-or-nothing
// intent that could not be fully discharged.
var ErrInsufficientFill = errors.New("coordinator: insufficient fill")

// ErrNoEngineForPair is returned when no matching engine is registered
// for the pair an intent resolves to.
var ErrNoEngineForPair = errors.New("coordinator: no engine registered for pair")
