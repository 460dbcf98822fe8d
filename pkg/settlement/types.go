// Copyright 2025 Certen Protocol
//
// Settlement Data Model - the two-phase commit state machine that carries
// one solver-routed fill from matched intent to delivered funds (spec
// §4.3), grounded on crates/settlement/src/store.rs and two_phase.rs.

package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a settlement record's position in the transition graph.
type Status string

const (
	StatusPending      Status = "pending"
	StatusUserLocked   Status = "user_locked"
	StatusSolverLocked Status = "solver_locked"
	StatusExecuting    Status = "executing"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
	StatusTimedOut     Status = "timed_out"
)

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusTimedOut
}

// Event drives a non-terminal advance() call. Terminal transitions go
// through Complete/Fail instead, since they carry an outcome/reason.
type Event int

const (
	EventUserLocked Event = iota
	EventSolverLocked
	EventTransportStarted
)

func (e Event) String() string {
	switch e {
	case EventUserLocked:
		return "user_locked"
	case EventSolverLocked:
		return "solver_locked"
	case EventTransportStarted:
		return "transport_started"
	default:
		return "unknown"
	}
}

// TransportOutcome is the result complete() drives a record's final
// transition from.
type TransportOutcome int

const (
	OutcomeSuccess TransportOutcome = iota
	OutcomeTimeout
	OutcomeError
)

// Asset is a denomination-and-amount pair, mirroring intent.Asset without
// importing pkg/intent (settlement has no business knowing about fill
// strategies or constraints, only the two assets it is moving).
type Asset struct {
	ChainID string
	Denom   string
	Amount  decimal.Decimal
}

// SettlementRecord is the persisted unit of two-phase settlement state.
type SettlementRecord struct {
	ID                 string
	IntentID           string
	SolverID           string
	UserAddress        string
	InputAsset         Asset
	OutputAsset        Asset
	Status             Status
	EscrowID           string
	SolverBondID       string
	TransportSequence  uint64
	TransportDetail    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          time.Time
	CompletedAt        *time.Time
	ErrorMessage       string
}

// IsStuck reports whether the record is past its expiry and not in a
// terminal state, per spec §4.3 find_stuck.
func (r SettlementRecord) IsStuck(now time.Time) bool {
	return now.After(r.ExpiresAt) && !r.Status.IsTerminal()
}

// StateTransition is one append-only entry in a record's history.
type StateTransition struct {
	From      Status
	To        Status
	Timestamp time.Time
	Details   string
	TxHash    string
}

// TimeoutConfig governs the three durations safety depends on (spec
// §4.3): the escrow lock must outlive the transport timeout by at least
// the safety buffer, and never exceed the absolute ceiling.
type TimeoutConfig struct {
	TransportTimeoutSecs uint64
	SafetyBufferSecs     uint64
	MaxTimeoutSecs       uint64
}

// DefaultTimeoutConfig matches the Rust original's defaults
// (crates/settlement/src/two_phase.rs TimeoutConfig::default).
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		TransportTimeoutSecs: 600,
		SafetyBufferSecs:     300,
		MaxTimeoutSecs:       1800,
	}
}

// EscrowTimeoutSecs is the duration the user escrow lock must be held
// for: strictly longer than the transport is given, by the safety
// buffer.
func (c TimeoutConfig) EscrowTimeoutSecs() uint64 {
	return c.TransportTimeoutSecs + c.SafetyBufferSecs
}

// Validate rejects a zero safety buffer (the escrow lock would expire no
// later than the transport timeout) and an escrow duration above the
// absolute ceiling, per spec §4.3: "escrow_expiry ≤ max_timeout".
func (c TimeoutConfig) Validate() error {
	if c.SafetyBufferSecs == 0 || c.EscrowTimeoutSecs() > c.MaxTimeoutSecs {
		return ErrInvalidTimeoutConfig
	}
	return nil
}
