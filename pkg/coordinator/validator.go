// Copyright 2025 Certen Protocol
//
// Intent validation (spec §4.4 step 1), grounded on
// crates/orchestrator/src/validator.rs's checklist shape: every check
// runs before any side effect, and the first failure wins.

package coordinator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/intent"
	"github.com/certen/intent-router/pkg/matching"
)

// MinInputAmount is the dust threshold below which an intent is rejected
// outright rather than accepted and left to fail matching or settlement:
// an amount this small can never clear transport and escrow fees on any
// supported chain.
var MinInputAmount = decimal.NewFromInt(1000)

// validateIntent runs the full §4.4 checklist. supportedPair reports
// whether in's denoms form a pair the coordinator has an engine for.
func validateIntent(in intent.Intent, now time.Time, supportedPair func(matching.TradingPair) bool) error {
	if len(in.Signature) == 0 {
		return ErrMissingSignature
	}
	if err := intent.Verify(in); err != nil {
		return ErrInvalidSignature
	}
	if now.After(in.ExpiresAt) {
		return ErrExpired
	}
	if in.Input.Amount.IsZero() {
		return ErrZeroAmount
	}
	if in.Input.Amount.LessThan(MinInputAmount) {
		return ErrAmountTooSmall
	}
	if in.Input.Denom == in.Output.Denom {
		return ErrSameAssetTrading
	}

	pair := matching.NewTradingPair(in.Input.Denom, in.Output.Denom)
	if !supportedPair(pair) {
		return ErrUnsupportedTradingPair
	}

	if in.Output.LimitPrice == "" {
		return ErrInvalidLimitPrice
	}
	limitPrice, err := decimal.NewFromString(in.Output.LimitPrice)
	if err != nil || !limitPrice.IsPositive() {
		return ErrInvalidLimitPrice
	}

	if in.FillConfig.MinFillAmount.GreaterThan(in.Input.Amount) {
		return ErrMinFillExceedsInput
	}

	deadline := time.Unix(int64(in.Constraints.Deadline), 0)
	if !deadline.After(now) {
		return ErrDeadlineInPast
	}
	if deadline.After(in.ExpiresAt) {
		return ErrDeadlineAfterExpiration
	}

	if in.FillConfig.MinFillPct != "" {
		pct, err := decimal.NewFromString(in.FillConfig.MinFillPct)
		if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1)) {
			return ErrInvalidFillPercentage
		}
	}

	return nil
}
