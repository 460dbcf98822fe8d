// Copyright 2025 Certen Protocol

package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/certen/intent-router/pkg/eventbus"
)

func testAssets() (Asset, Asset) {
	in := Asset{ChainID: "cosmoshub-4", Denom: "uatom", Amount: decimal.NewFromInt(1_000_000)}
	out := Asset{ChainID: "osmosis-1", Denom: "uusdc", Amount: decimal.NewFromInt(10_000_000)}
	return in, out
}

// S5: two-phase happy path ends in Complete with escrow released and
// vault marked complete.
func TestManager_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)

	rec, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)
	require.Equal(t, StatusUserLocked, rec.Status)
	require.NotEmpty(t, rec.EscrowID)

	rec, err = m.Advance(ctx, rec.ID, EventSolverLocked, now)
	require.NoError(t, err)
	require.Equal(t, StatusSolverLocked, rec.Status)
	require.NotEmpty(t, rec.SolverBondID)

	rec, err = m.Advance(ctx, rec.ID, EventTransportStarted, now)
	require.NoError(t, err)
	require.Equal(t, StatusExecuting, rec.Status)

	rec, err = m.Complete(ctx, rec.ID, OutcomeSuccess, "", now)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	history, err := store.GetHistory(ctx, rec.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(history), 4)

	escrowLockEntry := escrow.locks[rec.EscrowID]
	require.True(t, escrowLockEntry.released)
	require.False(t, escrowLockEntry.refunded)
	vaultLockEntry := vault.locks[rec.SolverBondID]
	require.True(t, vaultLockEntry.complete)
	require.False(t, vaultLockEntry.unlocked)
}

// S6: transport timeout unwinds both locks symmetrically (P7).
func TestManager_TransportTimeoutUnwind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryTimedOut)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)

	rec, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventSolverLocked, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventTransportStarted, now)
	require.NoError(t, err)

	rec, err = m.Complete(ctx, rec.ID, OutcomeTimeout, "transport timed out", now)
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, rec.Status)

	escrowLockEntry := escrow.locks[rec.EscrowID]
	require.True(t, escrowLockEntry.refunded)
	require.False(t, escrowLockEntry.released)
	vaultLockEntry := vault.locks[rec.SolverBondID]
	require.True(t, vaultLockEntry.unlocked)
	require.False(t, vaultLockEntry.complete)
}

func TestManager_UserEscrowLockFailureIsSafe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	escrow.failLock = true
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)

	rec, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.Empty(t, vault.locks) // no vault interaction occurred
}

func TestManager_SolverVaultLockFailureUnwindsEscrow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	vault.failLock = true
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)

	rec, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)

	rec, err = m.Advance(ctx, rec.ID, EventSolverLocked, now)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.True(t, escrow.locks[rec.EscrowID].refunded)
}

func TestManager_IllegalTransitionDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)

	_, err = m.Advance(ctx, rec.ID, EventSolverLocked, now)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	unchanged, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, unchanged.Status)
}

func TestManager_CompleteIsIdempotentOnTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventSolverLocked, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventTransportStarted, now)
	require.NoError(t, err)
	rec, err = m.Complete(ctx, rec.ID, OutcomeSuccess, "", now)
	require.NoError(t, err)

	again, err := m.Complete(ctx, rec.ID, OutcomeSuccess, "", now)
	require.NoError(t, err)
	require.Equal(t, rec.Status, again.Status)
}

func TestManager_FindStuck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	cfg := TimeoutConfig{TransportTimeoutSecs: 10, SafetyBufferSecs: 5, MaxTimeoutSecs: 20}
	m, err := NewManager(store, escrow, vault, transport, cfg, nil)
	require.NoError(t, err)

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)

	stuck, err := m.FindStuck(ctx, now.Add(1*time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, rec.ID, stuck[0].ID)

	notYet, err := m.FindStuck(ctx, now)
	require.NoError(t, err)
	require.Empty(t, notYet)
}

// S7: a happy-path run driven by Advance and Complete publishes
// EscrowLocked, SolverLocked, TransportStarted and SettlementComplete, in
// order, on an attached bus.
func TestManager_PublishesLifecycleEventsOnAttachedBus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)
	bus := eventbus.New(8, nil)
	m.WithEventBus(bus)
	sub, unsub := bus.Subscribe()
	defer unsub()

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)

	rec, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventSolverLocked, now)
	require.NoError(t, err)
	rec, err = m.Advance(ctx, rec.ID, EventTransportStarted, now)
	require.NoError(t, err)
	rec, err = m.Complete(ctx, rec.ID, OutcomeSuccess, "", now)
	require.NoError(t, err)

	wantOrder := []eventbus.EventType{
		eventbus.EventEscrowLocked,
		eventbus.EventSolverLocked,
		eventbus.EventTransportStarted,
		eventbus.EventSettlementComplete,
	}
	for _, want := range wantOrder {
		select {
		case evt := <-sub:
			require.Equal(t, want, evt.Type)
			require.Equal(t, rec.ID, evt.SettlementID)
		case <-time.After(time.Second):
			t.Fatalf("expected event %s was not published", want)
		}
	}
}

func TestManager_PublishesSettlementFailedOnUnwind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	escrow := newFakeEscrow()
	escrow.failLock = true
	vault := newFakeVault()
	transport := newFakeTransport(DeliveryDelivered)

	m, err := NewManager(store, escrow, vault, transport, DefaultTimeoutConfig(), nil)
	require.NoError(t, err)
	bus := eventbus.New(8, nil)
	m.WithEventBus(bus)
	sub, unsub := bus.Subscribe()
	defer unsub()

	now := time.Now()
	in, out := testAssets()
	rec, err := m.StartSettlement(ctx, "intent-1", "solver-1", "user-1", in, out, now)
	require.NoError(t, err)
	_, err = m.Advance(ctx, rec.ID, EventUserLocked, now)
	require.NoError(t, err)

	select {
	case evt := <-sub:
		require.Equal(t, eventbus.EventSettlementFailed, evt.Type)
		require.False(t, evt.Recoverable)
	case <-time.After(time.Second):
		t.Fatal("expected SettlementFailed event was not published")
	}
}

func TestTimeoutConfig_ValidateRejectsBadConfig(t *testing.T) {
	bad := TimeoutConfig{TransportTimeoutSecs: 1000, SafetyBufferSecs: 500, MaxTimeoutSecs: 1000}
	require.ErrorIs(t, bad.Validate(), ErrInvalidTimeoutConfig)

	_, err := NewManager(NewMemoryStore(), newFakeEscrow(), newFakeVault(), newFakeTransport(DeliveryDelivered), bad, nil)
	require.ErrorIs(t, err, ErrInvalidTimeoutConfig)
}
