// Copyright 2025 Certen Protocol
//
// Execution Coordinator data model (spec §4.4), grounded on
// crates/orchestrator/src/executor.rs: ExecutionStage pins down which
// phase a failed coordination stopped at, for the §7 user-visible
// behavior requirement ("identifying the failure stage").

package coordinator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/intent"
	"github.com/certen/intent-router/pkg/matching"
	"github.com/certen/intent-router/pkg/settlement"
)

// Stage is the phase an intent's coordination reached.
type Stage int

const (
	StageValidating Stage = iota
	StageMatching
	StageSolvingForQuotes
	StageSettling
	StageFinalizing
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageMatching:
		return "matching"
	case StageSolvingForQuotes:
		return "solving_for_quotes"
	case StageSettling:
		return "settling"
	case StageFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// SettlementOutcome is one solver-matched fill's settlement result.
type SettlementOutcome struct {
	Fill   matching.Fill
	Record settlement.SettlementRecord
	Err    error
}

// CoordinationOutcome is what Coordinate returns: the union of internally
// discharged fills and the terminal state of every solver-routed
// settlement that fill spawned.
type CoordinationOutcome struct {
	IntentID           string
	InternalFills      []matching.Fill
	SettlementOutcomes []SettlementOutcome
	FailedStage        Stage
	Err                error
	Timestamp          time.Time
}

// Succeeded reports whether the intent was fully or partially
// discharged without an unrecoverable failure.
func (o CoordinationOutcome) Succeeded() bool {
	return o.Err == nil
}

// Oracle supplies a reference price for a trading pair (spec §6).
// The coordinator does not check the returned timestamp and hands the
// price to the engine as-is; the engine only checks deviation. Staleness
// is rejected only by implementations that check it themselves (such as
// oracle.HTTPOracle).
type Oracle interface {
	Price(ctx context.Context, pair matching.TradingPair) (decimal.Decimal, time.Time, error)
}

// QuoteProvider supplies solver quotes for a pair/intent within the
// current epoch. Solver discovery and reputation are out of scope (spec
// Non-goals); this is the seam a real implementation plugs into.
type QuoteProvider interface {
	Quotes(ctx context.Context, pair matching.TradingPair, in intent.Intent) ([]intent.SolverQuote, error)
}
