// Copyright 2025 Certen Protocol
//
// Execution Coordinator (spec §4.4): thin glue pinning down the contract
// between the matching engine and the settlement manager. Grounded on
// crates/orchestrator/src/executor.rs's coordinate_execution, adapted to
// this system's uniform-price-batch-auction engine instead of a
// continuous order book.

package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/intent"
	"github.com/certen/intent-router/pkg/matching"
	"github.com/certen/intent-router/pkg/metrics"
	"github.com/certen/intent-router/pkg/settlement"
)

// Coordinator glues one matching engine per pair to a shared settlement
// manager. It owns no order book state itself; per spec §5, each engine
// instance is single-writer and that discipline lives inside
// matching.Engine.
type Coordinator struct {
	mu      sync.RWMutex
	engines map[matching.TradingPair]*matching.Engine

	settler       *settlement.Manager
	oracle        Oracle
	quoteProvider QuoteProvider
	logger        *log.Logger
	metrics       *metrics.Recorder
}

// WithMetrics attaches a Recorder that Coordinate reports against.
func (c *Coordinator) WithMetrics(rec *metrics.Recorder) *Coordinator {
	c.metrics = rec
	return c
}

// New returns a Coordinator with no engines registered; call
// RegisterPair for every trading pair the deployment supports.
func New(settler *settlement.Manager, oracle Oracle, quotes QuoteProvider, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		engines:       make(map[matching.TradingPair]*matching.Engine),
		settler:       settler,
		oracle:        oracle,
		quoteProvider: quotes,
		logger:        logger,
	}
}

// RegisterPair adds a matching engine for pair if one does not already
// exist, and returns the engine either way.
func (c *Coordinator) RegisterPair(pair matching.TradingPair) *matching.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.engines[pair]; ok {
		return e
	}
	e := matching.NewEngine(pair)
	c.engines[pair] = e
	return e
}

func (c *Coordinator) engineFor(pair matching.TradingPair) (*matching.Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[pair]
	return e, ok
}

func (c *Coordinator) supportsPair(pair matching.TradingPair) bool {
	_, ok := c.engineFor(pair)
	return ok
}

// Coordinate runs the full §4.4 flow for one intent: validate, submit to
// the engine, partition the resulting fills, and drive every
// solver-routed fill's settlement to a terminal state before reporting
// the aggregate outcome.
func (c *Coordinator) Coordinate(ctx context.Context, in intent.Intent, now time.Time) CoordinationOutcome {
	outcome := CoordinationOutcome{IntentID: in.ID, Timestamp: now}
	if c.metrics != nil {
		c.metrics.IntentsReceived.Inc()
		c.metrics.ActiveIntents.Inc()
		defer c.metrics.ActiveIntents.Dec()
		defer func() {
			if outcome.Succeeded() {
				c.metrics.IntentStatus.WithLabelValues("complete").Inc()
				c.metrics.IntentsMatched.Inc()
			} else {
				c.metrics.IntentStatus.WithLabelValues(outcome.FailedStage.String()).Inc()
				c.metrics.IntentsFailed.Inc()
			}
		}()
	}

	if err := validateIntent(in, now, c.supportsPair); err != nil {
		outcome.FailedStage = StageValidating
		outcome.Err = err
		return outcome
	}

	pair := matching.NewTradingPair(in.Input.Denom, in.Output.Denom)
	engine, ok := c.engineFor(pair)
	if !ok {
		outcome.FailedStage = StageValidating
		outcome.Err = ErrNoEngineForPair
		return outcome
	}

	oraclePrice := decimal.Zero
	if c.oracle != nil {
		if p, _, err := c.oracle.Price(ctx, pair); err == nil {
			oraclePrice = p
		} else {
			c.logger.Printf("coordinator: oracle price lookup failed for %s: %v", pair, err)
		}
	}

	var quotes []intent.SolverQuote
	if c.quoteProvider != nil {
		var err error
		quotes, err = c.quoteProvider.Quotes(ctx, pair, in)
		if err != nil {
			c.logger.Printf("coordinator: quote provider failed for intent %s: %v", in.ID, err)
		}
	}

	auction, err := engine.RunBatchAuction([]intent.Intent{in}, quotes, oraclePrice, now)
	if err != nil {
		outcome.FailedStage = StageMatching
		outcome.Err = err
		return outcome
	}

	var ownFills, solverFills []matching.Fill
	for _, f := range auction.InternalFills {
		if f.IntentID == in.ID {
			ownFills = append(ownFills, f)
		}
	}
	for _, f := range auction.SolverFills {
		if f.IntentID == in.ID {
			solverFills = append(solverFills, f)
		}
	}
	outcome.InternalFills = ownFills

	totalFilled := decimal.Zero
	for _, f := range append(append([]matching.Fill{}, ownFills...), solverFills...) {
		totalFilled = totalFilled.Add(f.InputAmount)
	}

	if insufficient, err := checkFillSufficiency(in, totalFilled); insufficient {
		outcome.FailedStage = StageSolvingForQuotes
		outcome.Err = err
		return outcome
	}

	if len(solverFills) == 0 {
		return outcome
	}

	var wg sync.WaitGroup
	results := make([]SettlementOutcome, len(solverFills))
	for i, fill := range solverFills {
		i, fill := i, fill
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.settleFill(ctx, in, fill, now)
		}()
	}
	wg.Wait()

	outcome.SettlementOutcomes = results
	for _, r := range results {
		if r.Err != nil {
			outcome.FailedStage = StageFinalizing
			outcome.Err = r.Err
			break
		}
	}
	return outcome
}

// settleFill runs one solver-matched fill's settlement to a terminal
// state (spec §4.4 step 4).
func (c *Coordinator) settleFill(ctx context.Context, in intent.Intent, fill matching.Fill, now time.Time) SettlementOutcome {
	inputAsset := settlement.Asset{ChainID: in.Input.ChainID, Denom: in.Input.Denom, Amount: fill.InputAmount}
	outputAsset := settlement.Asset{ChainID: in.Output.ChainID, Denom: in.Output.Denom, Amount: fill.OutputAmount}

	rec, err := c.settler.StartSettlement(ctx, in.ID, fill.Source.SolverID, in.UserAddress, inputAsset, outputAsset, now)
	if err != nil {
		return SettlementOutcome{Fill: fill, Err: err}
	}

	rec, err = c.settler.RunToTerminal(ctx, rec.ID, now)
	return SettlementOutcome{Fill: fill, Record: rec, Err: err}
}

// checkFillSufficiency implements the executor's select_execution_path
// minimum-fill checks (spec §4.4: "a coordinated intent with no viable
// fills and allow_partial == false is a Failed{InsufficientFill}
// outcome").
func checkFillSufficiency(in intent.Intent, totalFilled decimal.Decimal) (bool, error) {
	if !in.FillConfig.AllowPartial {
		if totalFilled.LessThan(in.Input.Amount) {
			return true, ErrInsufficientFill
		}
		return false, nil
	}

	if in.FillConfig.MinFillAmount.IsPositive() && totalFilled.LessThan(in.FillConfig.MinFillAmount) {
		return true, ErrInsufficientFill
	}
	if in.FillConfig.MinFillPct != "" {
		pct, err := decimal.NewFromString(in.FillConfig.MinFillPct)
		if err == nil && in.Input.Amount.IsPositive() {
			actual := totalFilled.Div(in.Input.Amount)
			if actual.LessThan(pct) {
				return true, ErrInsufficientFill
			}
		}
	}
	return false, nil
}
