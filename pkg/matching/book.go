// Copyright 2025 Certen Protocol
//
// Uniform-price batch auction engine (spec §4.2), grounded on
// crates/matching-engine/src/book.rs: bids are served highest-price-first,
// asks lowest-price-first, FIFO within a price level. Unlike the Rust
// original's BTreeMap<OrderedPrice, VecDeque<BookEntry>>, the book here is
// a flat slice re-sorted on each auction; at the batch sizes this system
// targets (one epoch's worth of intents per pair) that trades a constant
// factor of CPU for a much simpler implementation, with no behavioral
// difference in fill order.

package matching

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/intent"
)

// OracleDeviationThreshold is the maximum fractional deviation between an
// auction's internally-derived clearing price and the oracle reference
// price before the internal fills for that epoch are discarded (spec §4.2
// step 4). It is a fixed constant; there is no per-pair override.
const OracleDeviationThreshold = "0.10"

// Engine is a single trading pair's order book plus batch auction logic.
// One Engine instance must not be shared across pairs; the coordinator
// owns a registry of engines keyed by TradingPair.
type Engine struct {
	mu       sync.Mutex
	pair     TradingPair
	bids     []*OrderBookEntry // intent.SideBuy residuals
	asks     []*OrderBookEntry // intent.SideSell residuals
	sequence uint64
	epoch    uint64
}

// NewEngine returns an empty engine for pair.
func NewEngine(pair TradingPair) *Engine {
	return &Engine{pair: pair}
}

// Pair returns the engine's trading pair.
func (e *Engine) Pair() TradingPair { return e.pair }

// Epoch returns the last completed auction's epoch id (0 before any
// auction has run).
func (e *Engine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// BookDepth returns the number of resting bid and ask entries, for
// observability and tests.
func (e *Engine) BookDepth() (bids, asks int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bids), len(e.asks)
}

// Cancel removes any resting entry for intentID from the book. It is
// idempotent: canceling an unknown or already-filled intent is a no-op.
func (e *Engine) Cancel(intentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bids = removeEntry(e.bids, intentID)
	e.asks = removeEntry(e.asks, intentID)
}

func removeEntry(entries []*OrderBookEntry, intentID string) []*OrderBookEntry {
	out := entries[:0]
	for _, ent := range entries {
		if ent.IntentID != intentID {
			out = append(out, ent)
		}
	}
	return out
}

// sideOf determines whether in is a buyer or seller of the engine's pair.
func (e *Engine) sideOf(in intent.Intent) (intent.Side, error) {
	switch in.Input.Denom {
	case e.pair.Base:
		return intent.SideSell, nil
	case e.pair.Quote:
		return intent.SideBuy, nil
	default:
		return 0, ErrUnknownPair
	}
}

// takerState tracks one submitted intent's progress through an auction.
type takerState struct {
	in              intent.Intent
	side            intent.Side
	limitPrice      decimal.Decimal
	hasLimit        bool
	remainingNative decimal.Decimal // remaining amount in in.Input's own denom
	fills           []Fill
}

// RunBatchAuction processes a batch of intents against the engine's
// resting book plus solver quotes, per spec §4.2:
//
//  1. Determine each intent's side from its input/output denoms.
//  2. Cross each intent against the opposing book, in submission order,
//     FIFO within a price level, skipping makers that cannot be
//     partially filled. The opposing book holds the resting entries plus
//     the unfilled remainders of earlier intents in the same batch.
//  3. Compute the clearing price as the midpoint of the best matched bid
//     and best matched ask; fall back to the oracle price when one side
//     produced no matches.
//  4. If an oracle price is supplied and the clearing price deviates from
//     it by more than OracleDeviationThreshold, discard every internal
//     fill produced in step 2 and return an empty auction (the epoch
//     still advances).
//  5. Offer each intent's post-crossing remainder to the supplied solver
//     quotes.
//  6. Insert whatever remains of a partial-fill-eligible intent into the
//     book as a new resting entry; discard the rest.
func (e *Engine) RunBatchAuction(intents []intent.Intent, quotes []intent.SolverQuote, oraclePrice decimal.Decimal, now time.Time) (Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nextEpoch := e.epoch + 1

	takers := make([]*takerState, 0, len(intents))
	for _, in := range intents {
		side, err := e.sideOf(in)
		if err != nil {
			return Auction{}, err
		}
		if in.Output.LimitPrice == "" {
			return Auction{}, ErrInvalidPrice
		}
		p, err := decimal.NewFromString(in.Output.LimitPrice)
		if err != nil {
			return Auction{}, ErrInvalidPrice
		}
		ts := &takerState{
			in:              in,
			side:            side,
			remainingNative: in.Input.Amount,
			limitPrice:      p,
			hasLimit:        !p.IsZero() || side == intent.SideSell,
		}
		takers = append(takers, ts)
	}

	// Validation above passed for every intent in the batch: commit the
	// epoch advance now, on the success path only (spec §4.2 step 7).
	e.epoch = nextEpoch
	auction := Auction{
		EpochID:   e.epoch,
		Pair:      e.pair,
		Timestamp: now,
	}

	// Tentative book: a shallow copy so a failed oracle gate leaves the
	// real book untouched.
	tentativeBids := cloneEntries(e.bids)
	tentativeAsks := cloneEntries(e.asks)
	tentativeSeq := e.sequence

	var bestMatchedBid, bestMatchedAsk decimal.Decimal
	haveBid, haveAsk := false, false

	resting := map[*takerState]*OrderBookEntry{}
	for _, ts := range takers {
		if ts.side == intent.SideBuy && !ts.hasLimit {
			continue // a zero limit price buyer cannot cross (spec edge case)
		}
		var book *[]*OrderBookEntry
		if ts.side == intent.SideBuy {
			book = &tentativeAsks
		} else {
			book = &tentativeBids
		}
		filled := crossAgainst(ts, book)
		for _, f := range filled {
			auction.InternalFills = append(auction.InternalFills, f)
		}
		for _, mp := range takerMatchedPrices(filled) {
			if ts.side == intent.SideBuy {
				if !haveAsk || mp.LessThan(bestMatchedAsk) {
					bestMatchedAsk = mp
					haveAsk = true
				}
			} else {
				if !haveBid || mp.GreaterThan(bestMatchedBid) {
					bestMatchedBid = mp
					haveBid = true
				}
			}
		}
		if ts.remainingNative.IsPositive() && ts.limitPrice.IsPositive() {
			tentativeSeq++
			resting[ts] = &OrderBookEntry{IntentID: ts.in.ID, User: ts.in.UserAddress, Side: ts.side, OriginalAmount: ts.in.Input.Amount, RemainingAmount: ts.remainingNative, LimitPrice: ts.limitPrice, FillConfig: ts.in.FillConfig, Timestamp: now, Sequence: tentativeSeq}
			if ts.side == intent.SideBuy {
				tentativeBids = append(tentativeBids, resting[ts])
			} else {
				tentativeAsks = append(tentativeAsks, resting[ts])
			}
		}
	}
	for ts, entry := range resting {
		ts.remainingNative = entry.RemainingAmount
		tentativeBids, tentativeAsks = removeEntry(tentativeBids, ts.in.ID), removeEntry(tentativeAsks, ts.in.ID)
	}

	switch {
	case haveBid && haveAsk:
		auction.ClearingPrice = bestMatchedBid.Add(bestMatchedAsk).Div(decimal.NewFromInt(2))
	case haveBid:
		auction.ClearingPrice = bestMatchedBid
	case haveAsk:
		auction.ClearingPrice = bestMatchedAsk
	default:
		auction.ClearingPrice = oraclePrice
	}

	if !oraclePrice.IsZero() && len(auction.InternalFills) > 0 {
		threshold, _ := decimal.NewFromString(OracleDeviationThreshold)
		deviation := auction.ClearingPrice.Sub(oraclePrice).Abs().Div(oraclePrice)
		if deviation.GreaterThan(threshold) {
			// Oracle sanity gate tripped: discard this epoch's internal
			// fills entirely and leave the real book untouched.
			return Auction{EpochID: auction.EpochID, Pair: e.pair, Timestamp: now}, nil
		}
	}

	// Commit the tentative book now that the gate has passed.
	e.bids = tentativeBids
	e.asks = tentativeAsks
	e.sequence = tentativeSeq

	// Solver assignment (step 5) and residual insertion (step 6).
	remainingQuotes := append([]intent.SolverQuote(nil), quotes...)
	for _, ts := range takers {
		if ts.remainingNative.IsZero() || ts.remainingNative.IsNegative() {
			continue
		}
		assignSolverFills(ts, &remainingQuotes, &auction)

		if ts.remainingNative.IsPositive() && ts.in.FillConfig.AllowPartial {
			e.sequence++
			entry := &OrderBookEntry{
				IntentID:        ts.in.ID,
				User:            ts.in.UserAddress,
				Side:            ts.side,
				OriginalAmount:  ts.in.Input.Amount,
				RemainingAmount: ts.remainingNative,
				LimitPrice:      ts.limitPrice,
				FillConfig:      ts.in.FillConfig,
				Timestamp:       now,
				Sequence:        e.sequence,
			}
			if ts.side == intent.SideBuy {
				e.bids = append(e.bids, entry)
			} else {
				e.asks = append(e.asks, entry)
			}
		}
	}

	return auction, nil
}

func cloneEntries(src []*OrderBookEntry) []*OrderBookEntry {
	out := make([]*OrderBookEntry, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out
}

// takerMatchedPrices returns the execution price of each fill so the
// caller can track the best matched bid/ask for clearing price purposes.
func takerMatchedPrices(fills []Fill) []decimal.Decimal {
	prices := make([]decimal.Decimal, len(fills))
	for i, f := range fills {
		prices[i] = f.Price
	}
	return prices
}

// crossAgainst walks book (sorted for maker priority) matching ts against
// resting entries until ts is exhausted, the book is exhausted, or prices
// no longer cross. Exhausted maker entries are removed from book in
// place.
func crossAgainst(ts *takerState, book *[]*OrderBookEntry) []Fill {
	sortBookForMaker(*book, oppositeSide(ts.side))

	var fills []Fill
	kept := make([]*OrderBookEntry, 0, len(*book))

	for _, maker := range *book {
		if ts.remainingNative.IsZero() || ts.remainingNative.IsNegative() {
			kept = append(kept, maker)
			continue
		}
		if !pricesCross(ts, maker) {
			kept = append(kept, maker)
			continue
		}

		execPrice := maker.LimitPrice
		makerBaseAvail := baseEquivalent(maker.Side, maker.RemainingAmount, maker.LimitPrice)
		takerBaseAvail := baseEquivalent(ts.side, ts.remainingNative, execPrice)

		matchBase := makerBaseAvail
		if takerBaseAvail.LessThan(matchBase) {
			matchBase = takerBaseAvail
		}

		if matchBase.LessThan(makerBaseAvail) && !maker.FillConfig.AllowPartial {
			// Maker cannot be partially filled; skip it, leave it resting.
			kept = append(kept, maker)
			continue
		}

		maker.RemainingAmount = maker.RemainingAmount.Sub(nativeAmount(maker.Side, matchBase, execPrice))
		ts.remainingNative = ts.remainingNative.Sub(nativeAmount(ts.side, matchBase, execPrice))

		fillInput := nativeAmount(ts.side, matchBase, execPrice)
		fillOutput := matchBase
		if ts.side == intent.SideSell {
			fillOutput = matchBase.Mul(execPrice)
		}

		fills = append(fills, Fill{
			IntentID:     ts.in.ID,
			InputAmount:  fillInput,
			OutputAmount: fillOutput,
			Price:        execPrice,
			Source: FillSource{
				Kind:         FillSourceIntentMatch,
				Counterparty: maker.IntentID,
			},
		})

		if maker.RemainingAmount.IsPositive() {
			kept = append(kept, maker)
		}
	}
	*book = kept
	return fills
}

func oppositeSide(s intent.Side) intent.Side {
	if s == intent.SideBuy {
		return intent.SideSell
	}
	return intent.SideBuy
}

// pricesCross reports whether ts's limit permits trading against maker.
func pricesCross(ts *takerState, maker *OrderBookEntry) bool {
	if ts.side == intent.SideBuy {
		return ts.limitPrice.GreaterThanOrEqual(maker.LimitPrice)
	}
	return ts.limitPrice.LessThanOrEqual(maker.LimitPrice)
}

// baseEquivalent converts a native-denom remaining amount into
// base-asset-equivalent units for crossing-size comparisons: sellers are
// already denominated in base, buyers are denominated in quote and are
// divided by the rate being applied.
func baseEquivalent(side intent.Side, nativeRemaining, rate decimal.Decimal) decimal.Decimal {
	if side == intent.SideSell {
		return nativeRemaining
	}
	if rate.IsZero() {
		return decimal.Zero
	}
	return nativeRemaining.Div(rate)
}

// nativeAmount is the inverse of baseEquivalent: how much of side's own
// input denom is consumed by trading matchBase units at rate.
func nativeAmount(side intent.Side, matchBase, rate decimal.Decimal) decimal.Decimal {
	if side == intent.SideSell {
		return matchBase
	}
	return matchBase.Mul(rate)
}

// sortBookForMaker orders book for maker priority: best price first
// (highest for bids, lowest for asks), then FIFO by timestamp/sequence.
func sortBookForMaker(book []*OrderBookEntry, makerSide intent.Side) {
	sort.SliceStable(book, func(i, j int) bool {
		a, b := book[i], book[j]
		if !a.LimitPrice.Equal(b.LimitPrice) {
			if makerSide == intent.SideBuy {
				return a.LimitPrice.GreaterThan(b.LimitPrice)
			}
			return a.LimitPrice.LessThan(b.LimitPrice)
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Sequence < b.Sequence
	})
}

// assignSolverFills offers ts's post-crossing remainder to quotes,
// greedily accepting the most favorable price first and respecting ts's
// own limit price and each quote's capacity. Consumed quotes are removed
// from the pool; quotes with an unparsable price are sorted last and
// effectively ignored, since they can never clear ts's limit check below.
func assignSolverFills(ts *takerState, quotes *[]intent.SolverQuote, auction *Auction) {
	if len(*quotes) == 0 {
		return
	}

	type candidate struct {
		idx   int
		price decimal.Decimal
		ok    bool
	}
	candidates := make([]candidate, len(*quotes))
	for i, q := range *quotes {
		p, err := decimal.NewFromString(q.Price)
		candidates[i] = candidate{idx: i, price: p, ok: err == nil}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ok != candidates[j].ok {
			return candidates[i].ok // valid quotes sort before invalid ones
		}
		if ts.side == intent.SideBuy {
			return candidates[i].price.LessThan(candidates[j].price)
		}
		return candidates[i].price.GreaterThan(candidates[j].price)
	})

	consumed := make(map[int]bool)
	for _, c := range candidates {
		if !c.ok || ts.remainingNative.IsZero() || ts.remainingNative.IsNegative() {
			continue
		}
		q := (*quotes)[c.idx]
		if ts.hasLimit {
			if ts.side == intent.SideBuy && c.price.GreaterThan(ts.limitPrice) {
				continue
			}
			if ts.side == intent.SideSell && c.price.LessThan(ts.limitPrice) {
				continue
			}
		}

		// A quote's InputAmount is always denominated in base units: the
		// solver states how much base it is willing to trade at c.price,
		// regardless of which side of the book the taker sits on.
		takerBaseAvail := baseEquivalent(ts.side, ts.remainingNative, c.price)
		quoteBaseAvail := q.InputAmount
		matchBase := takerBaseAvail
		if quoteBaseAvail.LessThan(matchBase) {
			matchBase = quoteBaseAvail
		}
		if matchBase.IsZero() || matchBase.IsNegative() {
			continue
		}

		fillInput := nativeAmount(ts.side, matchBase, c.price)
		fillOutput := matchBase
		if ts.side == intent.SideSell {
			fillOutput = matchBase.Mul(c.price)
		}

		ts.remainingNative = ts.remainingNative.Sub(fillInput)
		auction.SolverFills = append(auction.SolverFills, Fill{
			IntentID:     ts.in.ID,
			InputAmount:  fillInput,
			OutputAmount: fillOutput,
			Price:        c.price,
			Source: FillSource{
				Kind:     FillSourceSolverMatch,
				SolverID: q.SolverID,
			},
		})
		consumed[c.idx] = true
	}

	if len(consumed) > 0 {
		kept := (*quotes)[:0]
		for i, q := range *quotes {
			if !consumed[i] {
				kept = append(kept, q)
			}
		}
		*quotes = kept
	}
}
