// Copyright 2025 Certen Protocol

package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeEscrow, fakeVault and fakeTransport are in-memory reference
// implementations of the Escrow/SolverVault/Transport capability sets
// (spec §9: "test doubles are the reference implementations for the
// test suite"). Each can be told to fail on demand to exercise the
// manager's unwind paths.

type escrowLock struct {
	user, denom string
	amount      decimal.Decimal
	released    bool
	refunded    bool
	recipient   string
}

type fakeEscrow struct {
	mu       sync.Mutex
	locks    map[string]*escrowLock
	failLock bool
}

func newFakeEscrow() *fakeEscrow { return &fakeEscrow{locks: make(map[string]*escrowLock)} }

func (f *fakeEscrow) Lock(_ context.Context, user, denom string, amount decimal.Decimal, expiry time.Time) (EscrowHandle, error) {
	if f.failLock {
		return EscrowHandle{}, errFakeLockFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.locks[id] = &escrowLock{user: user, denom: denom, amount: amount}
	return EscrowHandle{ID: id, Expiry: expiry}, nil
}

func (f *fakeEscrow) ReleaseTo(_ context.Context, handle EscrowHandle, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[handle.ID]
	if !ok {
		return errFakeNotFound
	}
	l.released = true
	l.recipient = recipient
	return nil
}

func (f *fakeEscrow) Refund(_ context.Context, handle EscrowHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[handle.ID]
	if !ok {
		return errFakeNotFound
	}
	l.refunded = true
	return nil
}

type vaultLock struct {
	solverID string
	denom    string
	amount   decimal.Decimal
	unlocked bool
	complete bool
}

type fakeVault struct {
	mu       sync.Mutex
	locks    map[string]*vaultLock
	failLock bool
}

func newFakeVault() *fakeVault { return &fakeVault{locks: make(map[string]*vaultLock)} }

func (f *fakeVault) Lock(_ context.Context, solverID, denom string, amount decimal.Decimal, expiry time.Time) (VaultHandle, error) {
	if f.failLock {
		return VaultHandle{}, errFakeLockFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.locks[id] = &vaultLock{solverID: solverID, denom: denom, amount: amount}
	return VaultHandle{ID: id, SolverID: solverID, Expiry: expiry}, nil
}

func (f *fakeVault) Unlock(_ context.Context, handle VaultHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[handle.ID]
	if !ok {
		return errFakeNotFound
	}
	l.unlocked = true
	return nil
}

func (f *fakeVault) MarkComplete(_ context.Context, handle VaultHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[handle.ID]
	if !ok {
		return errFakeNotFound
	}
	l.complete = true
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	seq      uint64
	outcome  DeliveryResult
	failSubmit bool
	detail   string
}

func newFakeTransport(outcome DeliveryResult) *fakeTransport {
	return &fakeTransport{outcome: outcome}
}

func (f *fakeTransport) Submit(_ context.Context, fromChain, toChain, denom string, amount decimal.Decimal, sender, receiver string, timeoutSecs uint64) (TransportHandle, error) {
	if f.failSubmit {
		return TransportHandle{}, errFakeSubmitFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return TransportHandle{Sequence: f.seq, Detail: "fake-transport"}, nil
}

func (f *fakeTransport) AwaitDelivery(_ context.Context, handle TransportHandle) (DeliveryResult, string, error) {
	return f.outcome, f.detail, nil
}

var (
	errFakeLockFailed   = fakeErr("lock failed")
	errFakeNotFound     = fakeErr("handle not found")
	errFakeSubmitFailed = fakeErr("submit failed")
)

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
