// Copyright 2025 Certen Protocol
//
// Intent Data Model - the signed, time-bounded declaration of a user's
// desired cross-chain trade outcome.
//
// This is the single source of truth for the Intent type across the
// coordination kernel: the matching engine, settlement manager and
// execution coordinator all consume intent.Intent directly rather than
// re-declaring their own shape for it.

package intent

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is which direction of a trading pair an intent represents.
type Side int

const (
	// SideBuy means the intent's input denom is the pair's quote asset.
	SideBuy Side = iota
	// SideSell means the intent's input denom is the pair's base asset.
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// FillStrategyKind selects how a partially-fillable intent should be
// cleared across epochs.
type FillStrategyKind string

const (
	StrategyEager           FillStrategyKind = "eager"
	StrategyAllOrNothing    FillStrategyKind = "all_or_nothing"
	StrategyMinimumThenEager FillStrategyKind = "minimum_then_eager"
	StrategyTimeBased       FillStrategyKind = "time_based"
	StrategyPriceBased      FillStrategyKind = "price_based"
)

// FillStrategy is the tagged fill-config variant. Only MinPct is used, and
// only when Kind == StrategyMinimumThenEager.
type FillStrategy struct {
	Kind   FillStrategyKind `json:"kind"`
	MinPct string           `json:"min_pct,omitempty"`
}

// canonicalText produces the deterministic textual serialization referenced
// by the signing hash (spec §4.1 step 4): the tag, and for
// MinimumThenEager, the min_pct value, separated by a colon.
func (f FillStrategy) canonicalText() string {
	if f.Kind == StrategyMinimumThenEager {
		return string(f.Kind) + ":" + f.MinPct
	}
	return string(f.Kind)
}

// Asset identifies a denomination of value on a specific chain.
type Asset struct {
	ChainID string          `json:"chain_id"`
	Denom   string          `json:"denom"`
	Amount  decimal.Decimal `json:"amount"`
}

// OutputSpec is what the user wants delivered.
type OutputSpec struct {
	ChainID   string          `json:"chain_id"`
	Denom     string          `json:"denom"`
	MinAmount decimal.Decimal `json:"min_amount"`
	// LimitPrice is kept as the raw decimal string the user signed, not a
	// parsed Decimal: signing_hash must hash exactly the bytes the user
	// saw, and re-serializing a parsed decimal can silently change them
	// (trailing zeros, exponent normalization).
	LimitPrice string `json:"limit_price"`
	Recipient  string `json:"recipient"`
}

// FillConfig controls whether and how an intent may be partially filled.
type FillConfig struct {
	AllowPartial        bool            `json:"allow_partial"`
	MinFillAmount       decimal.Decimal `json:"min_fill_amount"`
	MinFillPct          string          `json:"min_fill_pct"`
	AggregationWindowMs uint64          `json:"aggregation_window_ms"`
	Strategy            FillStrategy    `json:"strategy"`
}

// Constraints bound how and where an intent may execute.
type Constraints struct {
	Deadline              uint64   `json:"deadline"`
	MaxHops               *uint32  `json:"max_hops,omitempty"`
	ExcludedVenues        []string `json:"excluded_venues"`
	MaxSolverFeeBps       *uint32  `json:"max_solver_fee_bps,omitempty"`
	AllowCrossEcosystem   bool     `json:"allow_cross_ecosystem"`
	MaxBridgeTimeSecs     *uint64  `json:"max_bridge_time_secs,omitempty"`
}

// Intent is a user's signed declaration of a desired cross-chain trade.
// Once signed it is immutable; none of its fields are mutated by the
// matching engine or settlement manager, which instead derive per-engine
// order book entries and settlement records from it.
type Intent struct {
	// ID is derived from the canonical hash; it is not itself signed over.
	ID          string `json:"id"`
	Version     string `json:"version"`
	Nonce       uint64 `json:"nonce"`
	UserAddress string `json:"user_address"`

	Input  Asset      `json:"input"`
	Output OutputSpec `json:"output"`

	FillConfig  FillConfig  `json:"fill_config"`
	Constraints Constraints `json:"constraints"`

	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SolverQuote is a solver's offer within a single matching epoch. A quote
// is only valid for the epoch it was offered in and only for ValidForMs
// beyond its implicit offer time.
type SolverQuote struct {
	SolverID     string          `json:"solver_id"`
	InputAmount  decimal.Decimal `json:"input_amount"`
	OutputAmount decimal.Decimal `json:"output_amount"`
	// Price is kept raw for the same reason as OutputSpec.LimitPrice: it
	// must be parsed defensively by the engine, never assumed valid.
	Price      string        `json:"price"`
	ValidForMs uint64        `json:"valid_for_ms"`
}
