// Copyright 2025 Certen Protocol
//
// External collaborator interfaces (spec §6). Settlement is written
// against these capability sets only; concrete chain-backed
// implementations live in pkg/transport and pkg/store. Test doubles are
// the reference implementations for the unit test suite, per spec §9.

package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EscrowHandle identifies a held user lock.
type EscrowHandle struct {
	ID     string
	Expiry time.Time
}

// Escrow locks and releases a user's funds for the duration of a
// settlement attempt.
type Escrow interface {
	Lock(ctx context.Context, user, denom string, amount decimal.Decimal, expiry time.Time) (EscrowHandle, error)
	ReleaseTo(ctx context.Context, handle EscrowHandle, recipient string) error
	Refund(ctx context.Context, handle EscrowHandle) error
}

// VaultHandle identifies a held solver bond.
type VaultHandle struct {
	ID       string
	SolverID string
	Expiry   time.Time
}

// SolverVault locks and releases a solver's bond for the duration of a
// settlement attempt.
type SolverVault interface {
	Lock(ctx context.Context, solverID, denom string, amount decimal.Decimal, expiry time.Time) (VaultHandle, error)
	Unlock(ctx context.Context, handle VaultHandle) error
	MarkComplete(ctx context.Context, handle VaultHandle) error
}

// DeliveryResult is what Transport.AwaitDelivery resolves to.
type DeliveryResult int

const (
	DeliveryDelivered DeliveryResult = iota
	DeliveryTimedOut
	DeliveryError
)

// TransportHandle identifies an in-flight cross-chain transfer.
type TransportHandle struct {
	Sequence uint64
	Detail   string
}

// Transport moves funds across the chain boundary a settlement crosses.
// AwaitDelivery is the long-running suspension point (spec §5): it must
// be cancellable via ctx without corrupting the settlement record, since
// the record is fully determined by prior persisted state.
type Transport interface {
	Submit(ctx context.Context, fromChain, toChain, denom string, amount decimal.Decimal, sender, receiver string, timeoutSecs uint64) (TransportHandle, error)
	AwaitDelivery(ctx context.Context, handle TransportHandle) (DeliveryResult, string, error)
}

// Store is the settlement persistence capability set (named IntentStore
// in spec §6; renamed here to avoid colliding with pkg/intent, since it
// stores SettlementRecords, not Intents). update and AppendTransition
// must commit as a single atomic unit — UpdateWithTransition expresses
// that as one call rather than two, per the supplemented feature in
// SPEC_FULL.md §3 grounded on crates/settlement/src/store.rs.
type Store interface {
	Create(ctx context.Context, record SettlementRecord) error
	Get(ctx context.Context, id string) (SettlementRecord, error)
	GetByIntent(ctx context.Context, intentID string) (SettlementRecord, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]SettlementRecord, error)
	ListStuck(ctx context.Context, now time.Time) ([]SettlementRecord, error)
	ListBySolver(ctx context.Context, solverID string, limit int) ([]SettlementRecord, error)
	UpdateWithTransition(ctx context.Context, record SettlementRecord, transition StateTransition) error
	GetHistory(ctx context.Context, id string) ([]StateTransition, error)
}
