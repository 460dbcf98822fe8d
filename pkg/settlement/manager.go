// Copyright 2025 Certen Protocol
//
// Two-phase settlement manager (spec §4.3), grounded on
// crates/settlement/src/two_phase.rs: each external action and the
// status transition it drives are performed together, so a crash can
// only ever be observed between one atomic (action, transition) pair and
// the next — never mid-pair.

package settlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certen/intent-router/pkg/eventbus"
	"github.com/certen/intent-router/pkg/metrics"
)

// Manager drives SettlementRecords through the two-phase commit state
// machine. One Manager serves every settlement record; individual
// records are independent, so concurrent Advance/Complete/Fail calls on
// different ids never interfere (spec §5: each settlement is a
// logically independent task).
type Manager struct {
	store     Store
	escrow    Escrow
	vault     SolverVault
	transport Transport
	timeouts  TimeoutConfig
	logger    *log.Logger
	metrics   *metrics.Recorder
	events    *eventbus.Bus
}

// NewManager validates timeouts per spec §4.3 before returning a usable
// Manager: a misconfigured escrow/transport timeout relationship is
// rejected at construction, not discovered mid-settlement.
func NewManager(store Store, escrow Escrow, vault SolverVault, transport Transport, timeouts TimeoutConfig, logger *log.Logger) (*Manager, error) {
	if err := timeouts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{store: store, escrow: escrow, vault: vault, transport: transport, timeouts: timeouts, logger: logger}, nil
}

// WithMetrics attaches a Recorder that subsequent calls report against. A
// Manager with no Recorder attached reports nothing; this is optional
// instrumentation, not a correctness dependency.
func (m *Manager) WithMetrics(rec *metrics.Recorder) *Manager {
	m.metrics = rec
	return m
}

// WithEventBus attaches a Bus that subsequent lifecycle transitions
// publish to. A Manager with no Bus attached publishes nothing; this is
// best-effort observability, never a correctness dependency (spec §6:
// subscribers that miss an event must reconstruct state from the store).
func (m *Manager) WithEventBus(bus *eventbus.Bus) *Manager {
	m.events = bus
	return m
}

// StartSettlement creates a Pending record with expiry = now +
// escrow_timeout and persists it before returning, per spec §4.3.
func (m *Manager) StartSettlement(ctx context.Context, intentID, solverID, userAddress string, input, output Asset, now time.Time) (SettlementRecord, error) {
	rec := SettlementRecord{
		ID:          uuid.NewString(),
		IntentID:    intentID,
		SolverID:    solverID,
		UserAddress: userAddress,
		InputAsset:  input,
		OutputAsset: output,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(m.timeouts.EscrowTimeoutSecs()) * time.Second),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return SettlementRecord{}, err
	}
	if m.metrics != nil {
		m.metrics.SettlementsStarted.Inc()
		m.metrics.ActiveSettlements.Inc()
	}
	return rec, nil
}

// Advance drives one non-terminal edge of the transition graph: it
// performs the edge's external action and, only on success, commits the
// status transition. On failure it unwinds whatever it locked and drives
// the record to Failed itself, per the §4.3 failure semantics table, so
// callers never have to separately call Fail after a failed Advance.
func (m *Manager) Advance(ctx context.Context, id string, event Event, now time.Time) (SettlementRecord, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return SettlementRecord{}, err
	}

	switch event {
	case EventUserLocked:
		if rec.Status != StatusPending {
			return SettlementRecord{}, ErrInvalidStateTransition
		}
		handle, lockErr := m.escrow.Lock(ctx, rec.UserAddress, rec.InputAsset.Denom, rec.InputAsset.Amount, rec.ExpiresAt)
		if lockErr != nil {
			// lock_user_escrow fails → Failed; no vault interaction occurred.
			return m.transitionToFailed(ctx, rec, now, "lock_user_escrow failed: "+lockErr.Error())
		}
		rec.EscrowID = handle.ID
		res, err := m.transitionTo(ctx, rec, StatusUserLocked, now, "", "")
		if err == nil && m.events != nil {
			m.events.EscrowLocked(res.ID, res.EscrowID, res.InputAsset.Amount, res.InputAsset.Denom)
		}
		return res, err

	case EventSolverLocked:
		if rec.Status != StatusUserLocked {
			return SettlementRecord{}, ErrInvalidStateTransition
		}
		handle, lockErr := m.vault.Lock(ctx, rec.SolverID, rec.OutputAsset.Denom, rec.OutputAsset.Amount, rec.ExpiresAt)
		if lockErr != nil {
			// lock_solver_vault fails → user escrow must be unwound first.
			if refundErr := m.escrow.Refund(ctx, EscrowHandle{ID: rec.EscrowID}); refundErr != nil {
				m.logger.Printf("settlement %s: escrow refund after failed vault lock also failed: %v", id, refundErr)
			}
			return m.transitionToFailed(ctx, rec, now, "lock_solver_vault failed: "+lockErr.Error())
		}
		rec.SolverBondID = handle.ID
		res, err := m.transitionTo(ctx, rec, StatusSolverLocked, now, "", "")
		if err == nil && m.events != nil {
			m.events.SolverLocked(res.ID, res.SolverBondID)
		}
		return res, err

	case EventTransportStarted:
		if rec.Status != StatusSolverLocked {
			return SettlementRecord{}, ErrInvalidStateTransition
		}
		handle, subErr := m.transport.Submit(ctx, rec.InputAsset.ChainID, rec.OutputAsset.ChainID, rec.OutputAsset.Denom, rec.OutputAsset.Amount, rec.UserAddress, rec.SolverID, m.timeouts.TransportTimeoutSecs)
		if subErr != nil {
			m.unwindBothLocks(ctx, rec, id)
			return m.transitionToFailed(ctx, rec, now, "submit_transport failed: "+subErr.Error())
		}
		rec.TransportSequence = handle.Sequence
		rec.TransportDetail = handle.Detail
		res, err := m.transitionTo(ctx, rec, StatusExecuting, now, "", handle.Detail)
		if err == nil && m.events != nil {
			m.events.TransportStarted(res.ID, res.TransportSequence)
		}
		return res, err

	default:
		return SettlementRecord{}, ErrInvalidStateTransition
	}
}

// RunToTerminal drives a settlement through every remaining edge,
// including awaiting transport delivery, and returns the terminal
// record. This is the synchronous convenience the execution coordinator
// uses (spec §4.4 step 4: "await or asynchronously track each settlement
// to terminal"); callers that need cancellable async tracking can
// instead call Advance/Complete directly and run AwaitDelivery themselves
// on a cancellable context.
func (m *Manager) RunToTerminal(ctx context.Context, id string, now time.Time) (SettlementRecord, error) {
	rec, err := m.Advance(ctx, id, EventUserLocked, now)
	if err != nil {
		return rec, err
	}
	rec, err = m.Advance(ctx, id, EventSolverLocked, now)
	if err != nil {
		return rec, err
	}
	rec, err = m.Advance(ctx, id, EventTransportStarted, now)
	if err != nil {
		return rec, err
	}

	result, detail, deliveryErr := m.transport.AwaitDelivery(ctx, TransportHandle{Sequence: rec.TransportSequence, Detail: rec.TransportDetail})
	outcome := OutcomeSuccess
	switch {
	case deliveryErr != nil:
		outcome = OutcomeError
		detail = deliveryErr.Error()
	case result == DeliveryTimedOut:
		outcome = OutcomeTimeout
	case result == DeliveryError:
		outcome = OutcomeError
	}
	if m.events != nil {
		m.events.TransportComplete(id)
	}
	return m.Complete(ctx, id, outcome, detail, now)
}

// Complete drives the terminal transition out of Executing. It is
// idempotent: completing an already-terminal record is a no-op that
// returns the record as-is.
func (m *Manager) Complete(ctx context.Context, id string, outcome TransportOutcome, detail string, now time.Time) (SettlementRecord, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return SettlementRecord{}, err
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	if rec.Status != StatusExecuting {
		return SettlementRecord{}, ErrInvalidStateTransition
	}

	switch outcome {
	case OutcomeSuccess:
		releaseErr := m.escrow.ReleaseTo(ctx, EscrowHandle{ID: rec.EscrowID}, rec.SolverID)
		completeErr := m.vault.MarkComplete(ctx, VaultHandle{ID: rec.SolverBondID, SolverID: rec.SolverID})
		if releaseErr != nil {
			return m.transitionToFailed(ctx, rec, now, (&FinalizationError{Stage: "escrow_release", Cause: releaseErr}).Error())
		}
		if completeErr != nil {
			return m.transitionToFailed(ctx, rec, now, (&FinalizationError{Stage: "vault_complete", Cause: completeErr}).Error())
		}
		res, transErr := m.transitionTo(ctx, rec, StatusComplete, now, detail, "")
		if transErr == nil {
			res.CompletedAt = &now
			if m.events != nil {
				m.events.SettlementComplete(res.ID, true)
			}
		}
		return res, transErr

	case OutcomeTimeout, OutcomeError:
		m.unwindBothLocks(ctx, rec, id)
		target := StatusTimedOut
		if outcome == OutcomeError {
			target = StatusFailed
		}
		res, transErr := m.transitionTo(ctx, rec, target, now, detail, "")
		if transErr == nil && m.events != nil {
			m.events.SettlementFailed(res.ID, detail, target == StatusTimedOut)
		}
		return res, transErr

	default:
		return SettlementRecord{}, ErrInvalidStateTransition
	}
}

// Fail drives a terminal Failed{reason} transition from any non-terminal
// state, releasing whichever locks were held. It is the operator/
// coordinator-initiated abort path (e.g. validation caught something
// downstream of start_settlement); Complete is reserved for the
// transport-outcome-driven terminal transitions.
func (m *Manager) Fail(ctx context.Context, id, reason string, now time.Time) (SettlementRecord, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return SettlementRecord{}, err
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	m.unwindBothLocks(ctx, rec, id)
	return m.transitionToFailed(ctx, rec, now, reason)
}

// FindStuck returns non-terminal records past their expiry, per spec
// §4.3 find_stuck.
func (m *Manager) FindStuck(ctx context.Context, now time.Time) ([]SettlementRecord, error) {
	return m.store.ListStuck(ctx, now)
}

// unwindBothLocks refunds the user escrow and unlocks the solver vault
// if they were held, logging (not propagating) any unwind failure: per
// spec §4.3 this path is already handling a failure, and the record is
// headed to a terminal Failed/TimedOut state regardless.
func (m *Manager) unwindBothLocks(ctx context.Context, rec SettlementRecord, id string) {
	if rec.EscrowID != "" {
		if err := m.escrow.Refund(ctx, EscrowHandle{ID: rec.EscrowID}); err != nil {
			m.logger.Printf("settlement %s: escrow refund during unwind failed: %v", id, err)
		}
	}
	if rec.SolverBondID != "" {
		if err := m.vault.Unlock(ctx, VaultHandle{ID: rec.SolverBondID, SolverID: rec.SolverID}); err != nil {
			m.logger.Printf("settlement %s: vault unlock during unwind failed: %v", id, err)
		}
	}
}

// transitionToFailed commits a Failed transition and, on success,
// publishes SettlementFailed with recoverable=false: every Failed path
// here follows an unrecoverable external-action error, as opposed to
// Complete's OutcomeTimeout branch which is recoverable by retry.
func (m *Manager) transitionToFailed(ctx context.Context, rec SettlementRecord, now time.Time, reason string) (SettlementRecord, error) {
	res, err := m.transitionTo(ctx, rec, StatusFailed, now, reason, "")
	if err == nil && m.events != nil {
		m.events.SettlementFailed(res.ID, reason, false)
	}
	return res, err
}

// transitionTo updates rec's status and commits it with the
// corresponding StateTransition as one atomic store operation (spec §5:
// "the store must ensure the record update and the appended
// StateTransition row commit atomically").
func (m *Manager) transitionTo(ctx context.Context, rec SettlementRecord, to Status, now time.Time, details, txHash string) (SettlementRecord, error) {
	from := rec.Status
	rec.Status = to
	rec.UpdatedAt = now
	if to == StatusFailed && details != "" {
		rec.ErrorMessage = details
	}

	transition := StateTransition{From: from, To: to, Timestamp: now, Details: details, TxHash: txHash}
	if err := m.store.UpdateWithTransition(ctx, rec, transition); err != nil {
		return SettlementRecord{}, fmt.Errorf("settlement %s: commit transition %s->%s: %w", rec.ID, from, to, err)
	}

	if m.metrics != nil {
		m.metrics.SettlementStatus.WithLabelValues(string(to)).Inc()
		if to.IsTerminal() {
			m.metrics.ActiveSettlements.Dec()
			m.metrics.SettlementDuration.Observe(float64(now.Sub(rec.CreatedAt).Milliseconds()))
			if to == StatusComplete {
				m.metrics.SettlementsCompleted.Inc()
			} else {
				m.metrics.SettlementsFailed.Inc()
			}
		}
	}
	return rec, nil
}
