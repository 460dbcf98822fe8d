// Copyright 2025 Certen Protocol

package intent

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func baseIntent() Intent {
	return Intent{
		Version:     "1",
		Nonce:       1,
		UserAddress: "cosmos1abc",
		Input: Asset{
			ChainID: "cosmoshub-4",
			Denom:   "uatom",
			Amount:  decimal.NewFromInt(1_000_000),
		},
		Output: OutputSpec{
			ChainID:    "osmosis-1",
			Denom:      "uusdc",
			MinAmount:  decimal.NewFromInt(10_000_000),
			LimitPrice: "10.5",
			Recipient:  "osmo1xyz",
		},
		FillConfig: FillConfig{
			AllowPartial:        true,
			MinFillAmount:       decimal.NewFromInt(100_000),
			MinFillPct:          "0.1",
			AggregationWindowMs: 60_000,
			Strategy:            FillStrategy{Kind: StrategyEager},
		},
		Constraints: Constraints{
			Deadline:            2_000_000_000,
			ExcludedVenues:      []string{"osmosis-dex", "astroport"},
			AllowCrossEcosystem: true,
		},
		CreatedAt: time.Unix(1_700_000_000, 0),
		ExpiresAt: time.Unix(1_700_003_600, 0),
	}
}

// P1: any difference in a signed-over field changes the hash.
func TestSigningHash_DiffersOnAnyFieldChange(t *testing.T) {
	base := baseIntent()
	baseHash := SigningHash(base)

	mutate := map[string]func(*Intent){
		"nonce":        func(i *Intent) { i.Nonce++ },
		"user":         func(i *Intent) { i.UserAddress = "cosmos1other" },
		"input_denom":  func(i *Intent) { i.Input.Denom = "uosmo" },
		"input_amount": func(i *Intent) { i.Input.Amount = i.Input.Amount.Add(decimal.NewFromInt(1)) },
		"output_chain": func(i *Intent) { i.Output.ChainID = "juno-1" },
		"limit_price":  func(i *Intent) { i.Output.LimitPrice = "10.6" },
		"recipient":    func(i *Intent) { i.Output.Recipient = "osmo1different" },
		"allow_partial": func(i *Intent) { i.FillConfig.AllowPartial = !i.FillConfig.AllowPartial },
		"min_fill_pct": func(i *Intent) { i.FillConfig.MinFillPct = "0.2" },
		"strategy":     func(i *Intent) { i.FillConfig.Strategy = FillStrategy{Kind: StrategyAllOrNothing} },
		"deadline":     func(i *Intent) { i.Constraints.Deadline++ },
		"max_hops": func(i *Intent) {
			v := uint32(3)
			i.Constraints.MaxHops = &v
		},
		"cross_ecosystem": func(i *Intent) { i.Constraints.AllowCrossEcosystem = !i.Constraints.AllowCrossEcosystem },
	}

	for name, f := range mutate {
		t.Run(name, func(t *testing.T) {
			mutated := base
			f(&mutated)
			require.NotEqual(t, baseHash, SigningHash(mutated), "field %s should affect signing hash", name)
		})
	}
}

// P2: permuting excluded_venues never changes the hash.
func TestSigningHash_VenueOrderNeutral(t *testing.T) {
	a := baseIntent()
	a.Constraints.ExcludedVenues = []string{"osmosis-dex", "astroport", "junoswap"}

	b := a
	b.Constraints.ExcludedVenues = []string{"junoswap", "astroport", "osmosis-dex"}

	require.Equal(t, SigningHash(a), SigningHash(b))
	// Original slice must be untouched by the hash computation.
	require.Equal(t, []string{"osmosis-dex", "astroport", "junoswap"}, a.Constraints.ExcludedVenues)
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	unsigned := baseIntent()
	signed, err := Sign(unsigned, crypto.FromECDSA(priv))
	require.NoError(t, err)
	require.NotEmpty(t, signed.ID)
	require.NoError(t, Verify(signed))
}

// P3: tampering with any signed-over field after signing must fail verification.
func TestVerify_TamperRejection(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	signed, err := Sign(baseIntent(), crypto.FromECDSA(priv))
	require.NoError(t, err)

	tampered := signed
	tampered.Input.Amount = tampered.Input.Amount.Add(decimal.NewFromInt(1))
	require.ErrorIs(t, Verify(tampered), ErrVerificationFailed)
}

func TestVerify_MissingFields(t *testing.T) {
	signed := baseIntent()
	require.ErrorIs(t, Verify(signed), ErrMissingSignature)

	signed.Signature = make([]byte, 64)
	require.ErrorIs(t, Verify(signed), ErrMissingPublicKey)
}

func TestVerify_InvalidPublicKey(t *testing.T) {
	signed := baseIntent()
	signed.Signature = make([]byte, 64)
	signed.PublicKey = []byte("not-a-real-pubkey")
	require.ErrorIs(t, Verify(signed), ErrInvalidPublicKey)
}
