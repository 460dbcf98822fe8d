// Copyright 2025 Certen Protocol

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/certen/intent-router/pkg/intent"
	"github.com/certen/intent-router/pkg/matching"
	"github.com/certen/intent-router/pkg/settlement"
)

type fakeOracle struct{ price decimal.Decimal }

func (f fakeOracle) Price(_ context.Context, _ matching.TradingPair) (decimal.Decimal, time.Time, error) {
	return f.price, time.Now(), nil
}

type fakeQuotes struct{ quotes []intent.SolverQuote }

func (f fakeQuotes) Quotes(_ context.Context, _ matching.TradingPair, _ intent.Intent) ([]intent.SolverQuote, error) {
	return f.quotes, nil
}

type noopEscrow struct{}

func (noopEscrow) Lock(_ context.Context, _, _ string, _ decimal.Decimal, expiry time.Time) (settlement.EscrowHandle, error) {
	return settlement.EscrowHandle{ID: "escrow-1", Expiry: expiry}, nil
}
func (noopEscrow) ReleaseTo(_ context.Context, _ settlement.EscrowHandle, _ string) error { return nil }
func (noopEscrow) Refund(_ context.Context, _ settlement.EscrowHandle) error              { return nil }

type noopVault struct{}

func (noopVault) Lock(_ context.Context, solverID, _ string, _ decimal.Decimal, expiry time.Time) (settlement.VaultHandle, error) {
	return settlement.VaultHandle{ID: "vault-1", SolverID: solverID, Expiry: expiry}, nil
}
func (noopVault) Unlock(_ context.Context, _ settlement.VaultHandle) error       { return nil }
func (noopVault) MarkComplete(_ context.Context, _ settlement.VaultHandle) error { return nil }

type noopTransport struct{ result settlement.DeliveryResult }

func (t noopTransport) Submit(_ context.Context, _, _, _ string, _ decimal.Decimal, _, _ string, _ uint64) (settlement.TransportHandle, error) {
	return settlement.TransportHandle{Sequence: 1}, nil
}
func (t noopTransport) AwaitDelivery(_ context.Context, _ settlement.TransportHandle) (settlement.DeliveryResult, string, error) {
	return t.result, "", nil
}

func signedIntent(t *testing.T, id string, inputAmount int64, inputDenom, outputDenom, limitPrice string, allowPartial bool) intent.Intent {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := time.Now()
	unsigned := intent.Intent{
		Version:     "1",
		Nonce:       1,
		UserAddress: "cosmos1user",
		Input:       intent.Asset{ChainID: "cosmoshub-4", Denom: inputDenom, Amount: decimal.NewFromInt(inputAmount)},
		Output: intent.OutputSpec{
			ChainID:    "osmosis-1",
			Denom:      outputDenom,
			LimitPrice: limitPrice,
			Recipient:  "osmo1recipient",
		},
		FillConfig: intent.FillConfig{AllowPartial: allowPartial},
		Constraints: intent.Constraints{
			Deadline:            uint64(now.Add(time.Hour).Unix()),
			AllowCrossEcosystem: true,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(2 * time.Hour),
	}
	signed, err := intent.Sign(unsigned, crypto.FromECDSA(priv))
	require.NoError(t, err)
	signed.ID = id
	return signed
}

func newTestCoordinator(t *testing.T, deliveryResult settlement.DeliveryResult, oraclePrice decimal.Decimal, quotes []intent.SolverQuote) (*Coordinator, matching.TradingPair) {
	t.Helper()
	mgr, err := settlement.NewManager(settlement.NewMemoryStore(), noopEscrow{}, noopVault{}, noopTransport{result: deliveryResult}, settlement.DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	c := New(mgr, fakeOracle{price: oraclePrice}, fakeQuotes{quotes: quotes}, nil)
	pair := matching.NewTradingPair("uatom", "uusdc")
	c.RegisterPair(pair)
	return c, pair
}

func TestCoordinate_ValidationFailure(t *testing.T) {
	c, _ := newTestCoordinator(t, settlement.DeliveryDelivered, decimal.Zero, nil)
	in := signedIntent(t, "intent-1", 1_000_000, "uatom", "uusdc", "10.0", true)
	in.Signature = nil // force MissingSignature

	out := c.Coordinate(context.Background(), in, time.Now())
	require.False(t, out.Succeeded())
	require.Equal(t, StageValidating, out.FailedStage)
	require.ErrorIs(t, out.Err, ErrMissingSignature)
}

func TestCoordinate_AmountTooSmall(t *testing.T) {
	c, _ := newTestCoordinator(t, settlement.DeliveryDelivered, decimal.Zero, nil)
	in := signedIntent(t, "intent-1", 1, "uatom", "uusdc", "10.0", true)

	out := c.Coordinate(context.Background(), in, time.Now())
	require.False(t, out.Succeeded())
	require.Equal(t, StageValidating, out.FailedStage)
	require.ErrorIs(t, out.Err, ErrAmountTooSmall)
}

func TestCoordinate_FullyMatchedInternally(t *testing.T) {
	c, pair := newTestCoordinator(t, settlement.DeliveryDelivered, decimal.NewFromFloat(10.0), nil)

	sell := signedIntent(t, "sell-1", 1_000_000, "uatom", "uusdc", "10.0", true)
	sell.FillConfig.AllowPartial = true
	engine, _ := c.engineFor(pair)
	_, err := engine.RunBatchAuction([]intent.Intent{sell}, nil, decimal.Zero, time.Now())
	require.NoError(t, err)

	buy := signedIntent(t, "buy-1", 10_500_000, "uusdc", "uatom", "10.5", true)
	out := c.Coordinate(context.Background(), buy, time.Now())
	require.True(t, out.Succeeded())
	require.Len(t, out.InternalFills, 1)
	require.Empty(t, out.SettlementOutcomes)
}

func TestCoordinate_SolverRoutedSettlementCompletes(t *testing.T) {
	quotes := []intent.SolverQuote{
		{SolverID: "solver-a", InputAmount: decimal.NewFromInt(1_000_000), OutputAmount: decimal.NewFromInt(9_500_000), Price: "9.5"},
	}
	c, _ := newTestCoordinator(t, settlement.DeliveryDelivered, decimal.Zero, quotes)

	sell := signedIntent(t, "sell-1", 1_000_000, "uatom", "uusdc", "9.0", true)
	out := c.Coordinate(context.Background(), sell, time.Now())
	require.True(t, out.Succeeded())
	require.Len(t, out.SettlementOutcomes, 1)
	require.Equal(t, settlement.StatusComplete, out.SettlementOutcomes[0].Record.Status)
}

func TestCoordinate_InsufficientFillWithoutPartial(t *testing.T) {
	c, _ := newTestCoordinator(t, settlement.DeliveryDelivered, decimal.Zero, nil)

	sell := signedIntent(t, "sell-1", 1_000_000, "uatom", "uusdc", "10.0", false)
	out := c.Coordinate(context.Background(), sell, time.Now())
	require.False(t, out.Succeeded())
	require.ErrorIs(t, out.Err, ErrInsufficientFill)
}

func TestCoordinate_SettlementTimeoutRecordedOnOutcome(t *testing.T) {
	quotes := []intent.SolverQuote{
		{SolverID: "solver-a", InputAmount: decimal.NewFromInt(1_000_000), OutputAmount: decimal.NewFromInt(9_500_000), Price: "9.5"},
	}
	c, _ := newTestCoordinator(t, settlement.DeliveryTimedOut, decimal.Zero, quotes)

	sell := signedIntent(t, "sell-1", 1_000_000, "uatom", "uusdc", "9.0", true)
	out := c.Coordinate(context.Background(), sell, time.Now())
	require.Len(t, out.SettlementOutcomes, 1)
	require.Equal(t, settlement.StatusTimedOut, out.SettlementOutcomes[0].Record.Status)
}
