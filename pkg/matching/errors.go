// Copyright 2025 Certen Protocol

package matching

import "errors"

var (
	// ErrInvalidPrice is returned when an intent's limit price cannot be
	// parsed as a decimal.
	ErrInvalidPrice = errors.New("matching: invalid limit price")

	// ErrUnknownPair is returned when an intent's input/output denoms do
	// not belong to the engine's trading pair.
	ErrUnknownPair = errors.New("matching: intent does not belong to this pair")
)
