// Copyright 2025 Certen Protocol

package attestation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/certen/intent-router/pkg/attestation/strategy"
	"github.com/certen/intent-router/pkg/settlement"
)

func newEd25519Strategy(t *testing.T, validatorID string, index uint32) strategy.AttestationStrategy {
	t.Helper()
	s, err := strategy.NewEd25519Strategy(&strategy.Ed25519StrategyConfig{
		ValidatorID:     validatorID,
		ValidatorIndex:  index,
		ThresholdConfig: strategy.DefaultThresholdConfig(),
	})
	require.NoError(t, err)
	return s
}

func sampleMessage() *strategy.AttestationMessage {
	return &strategy.AttestationMessage{
		SettlementID: "settle-1",
		Status:       "complete",
		SourceChain:  "1",
		DestChain:    "accumulate",
		Timestamp:    time.Now().Unix(),
		SolverID:     "solver-1",
	}
}

func TestMessageFromRecord_IsDeterministicForSameRecord(t *testing.T) {
	rec := settlement.SettlementRecord{
		ID:           "settle-1",
		Status:       settlement.StatusComplete,
		EscrowID:     "escrow-1",
		SolverBondID: "bond-1",
		InputAsset:   settlement.Asset{ChainID: "1"},
		OutputAsset:  settlement.Asset{ChainID: "accumulate"},
	}
	now := time.Now()

	m1 := MessageFromRecord(rec, now)
	m2 := MessageFromRecord(rec, now)
	require.Equal(t, m1.OutcomeHash, m2.OutcomeHash)
	require.Equal(t, "settle-1", m1.SettlementID)
	require.Equal(t, "complete", m1.Status)
}

func TestService_RequestAttestations_CollectsOwnAttestationWithNoPeers(t *testing.T) {
	strat := newEd25519Strategy(t, "validator-1", 0)
	svc, err := NewService(Config{
		ValidatorID: "validator-1",
		Strategy:    strat,
		TotalWeight: 1,
	})
	require.NoError(t, err)

	status, err := svc.RequestAttestations(context.Background(), sampleMessage())
	require.NoError(t, err)
	require.Equal(t, int64(1), status.AchievedWeight)
	require.True(t, status.IsSufficient)
	require.Contains(t, status.Validators, "validator-1")
}

func TestService_RequestAttestations_ReachesThresholdAcrossPeers(t *testing.T) {
	peerStrategy := newEd25519Strategy(t, "validator-2", 1)
	peerSvc, err := NewService(Config{ValidatorID: "validator-2", Strategy: peerStrategy, TotalWeight: 2})
	require.NoError(t, err)

	peerServer := httptest.NewServer(http.HandlerFunc(peerSvc.ServeHTTP))
	defer peerServer.Close()

	localStrategy := newEd25519Strategy(t, "validator-1", 0)
	localSvc, err := NewService(Config{
		ValidatorID:   "validator-1",
		Strategy:      localStrategy,
		PeerEndpoints: []string{peerServer.URL},
		TotalWeight:   2,
		Threshold:     &strategy.ThresholdConfig{Numerator: 2, Denominator: 3, MinValidators: 2},
	})
	require.NoError(t, err)

	status, err := localSvc.RequestAttestations(context.Background(), sampleMessage())
	require.NoError(t, err)
	require.Equal(t, int64(2), status.AchievedWeight)
	require.True(t, status.IsSufficient)
	require.ElementsMatch(t, []string{"validator-1", "validator-2"}, status.Validators)

	agg, err := localSvc.Aggregate(context.Background(), "settle-1")
	require.NoError(t, err)
	require.Equal(t, 2, agg.ParticipantCount)
	require.True(t, agg.ThresholdMet)

	// bundle is cleared once aggregated
	require.Nil(t, localSvc.GetAttestationStatus("settle-1"))
}

func TestService_Aggregate_FailsBeforeThresholdMet(t *testing.T) {
	strat := newEd25519Strategy(t, "validator-1", 0)
	svc, err := NewService(Config{
		ValidatorID: "validator-1",
		Strategy:    strat,
		TotalWeight: 5,
		Threshold:   &strategy.ThresholdConfig{Numerator: 2, Denominator: 3, MinValidators: 3},
	})
	require.NoError(t, err)

	_, err = svc.RequestAttestations(context.Background(), sampleMessage())
	require.NoError(t, err)

	_, err = svc.Aggregate(context.Background(), "settle-1")
	require.Error(t, err)
}

func TestService_HandleAttestationRequest_RejectsMissingSettlementID(t *testing.T) {
	strat := newEd25519Strategy(t, "validator-1", 0)
	svc, err := NewService(Config{ValidatorID: "validator-1", Strategy: strat, TotalWeight: 1})
	require.NoError(t, err)

	resp, err := svc.HandleAttestationRequest(context.Background(), &AttestationRequest{
		RequestID: "req-1",
		Message:   &strategy.AttestationMessage{},
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestService_CleanupOldBundles_RemovesStaleEntries(t *testing.T) {
	strat := newEd25519Strategy(t, "validator-1", 0)
	svc, err := NewService(Config{ValidatorID: "validator-1", Strategy: strat, TotalWeight: 5})
	require.NoError(t, err)

	_, err = svc.RequestAttestations(context.Background(), sampleMessage())
	require.NoError(t, err)

	removed := svc.CleanupOldBundles(-time.Second) // everything is "older" than now minus a negative duration
	require.Equal(t, 1, removed)
	require.Nil(t, svc.GetAttestationStatus("settle-1"))
}
