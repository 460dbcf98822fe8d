// Copyright 2025 Certen Protocol
//
// Package store holds concrete settlement.Store backends. Each backend
// satisfies settlement.Store directly so pkg/coordinator and cmd/intentrouter
// can swap persistence without touching settlement logic; pkg/settlement's
// own MemoryStore remains the reference implementation its tests run
// against, per the in-package test doubles convention.
package store

import "github.com/shopspring/decimal"

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
