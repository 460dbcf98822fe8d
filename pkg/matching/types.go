// Copyright 2025 Certen Protocol
//
// Matching Engine Data Model
//
// The engine is indexed by TradingPair: an ordered, alphabetically
// canonicalized tuple of denoms so that a buy and a sell of the same pair
// always land in the same order book (spec §4.2).

package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/intent"
)

// TradingPair is a canonicalized, unordered pair of denominations.
type TradingPair struct {
	Base  string
	Quote string
}

// NewTradingPair canonicalizes two denoms alphabetically so that
// NewTradingPair("uusdc", "uatom") == NewTradingPair("uatom", "uusdc").
func NewTradingPair(denomA, denomB string) TradingPair {
	if denomA < denomB {
		return TradingPair{Base: denomA, Quote: denomB}
	}
	return TradingPair{Base: denomB, Quote: denomA}
}

func (p TradingPair) String() string {
	return p.Base + "/" + p.Quote
}

// OrderBookEntry is ephemeral per-engine state: the residual of an intent
// that could not be fully discharged in the epoch it first appeared.
type OrderBookEntry struct {
	IntentID        string
	User            string
	Side            intent.Side
	OriginalAmount  decimal.Decimal
	RemainingAmount decimal.Decimal
	LimitPrice      decimal.Decimal
	FillConfig      intent.FillConfig
	Timestamp       time.Time
	Sequence        uint64
}

// FillSourceKind tags how a Fill was produced.
type FillSourceKind int

const (
	FillSourceIntentMatch FillSourceKind = iota
	FillSourceSolverMatch
)

// FillSource identifies the counterparty to a Fill: another intent
// cleared internally, or a solver that offered a quote.
type FillSource struct {
	Kind         FillSourceKind
	Counterparty string // set when Kind == FillSourceIntentMatch
	SolverID     string // set when Kind == FillSourceSolverMatch
}

// Fill is one execution within an auction.
type Fill struct {
	IntentID     string
	InputAmount  decimal.Decimal
	OutputAmount decimal.Decimal
	Price        decimal.Decimal
	Source       FillSource
}

// MatchResult is the per-intent outcome of being offered to the engine:
// the fills it received plus whatever of its input amount remains
// unmatched.
type MatchResult struct {
	Fills           []Fill
	RemainingAmount decimal.Decimal
}

// Auction is the record a completed batch produces.
type Auction struct {
	EpochID       uint64
	Pair          TradingPair
	ClearingPrice decimal.Decimal
	InternalFills []Fill
	SolverFills   []Fill
	Timestamp     time.Time
}
