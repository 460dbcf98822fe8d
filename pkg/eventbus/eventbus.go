// Copyright 2025 Certen Protocol
//
// Package eventbus is the core's external observable stream: best-effort
// fan-out of settlement lifecycle events to any number of subscribers,
// grounded on pkg/anchor/event_watcher.go's buffered-channel-per-consumer
// pattern, generalized from one Events() channel to one per subscriber so
// a slow consumer can't stall the others.
//
// Subscribers that miss an event must reconstruct state from the
// settlement store; this bus makes no delivery guarantee beyond best
// effort, matching spec section 6.
package eventbus

import (
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names the kind of lifecycle event carried in an Event.
type EventType string

const (
	EventEscrowLocked       EventType = "escrow_locked"
	EventSolverLocked       EventType = "solver_locked"
	EventTransportStarted   EventType = "transport_started"
	EventTransportComplete  EventType = "transport_complete"
	EventSettlementComplete EventType = "settlement_complete"
	EventSettlementFailed   EventType = "settlement_failed"
)

// Event is the envelope published on the bus; only the field matching
// Type is expected to be populated.
type Event struct {
	Type      EventType
	Timestamp time.Time

	SettlementID string

	// EscrowLocked
	EscrowID string
	Amount   decimal.Decimal
	Denom    string

	// SolverLocked
	BondID string

	// TransportStarted
	Sequence uint64

	// SettlementComplete
	OutputDelivered bool

	// SettlementFailed
	Reason      string
	Recoverable bool
}

// Bus fans settlement lifecycle events out to subscribers. Each
// subscriber gets its own buffered channel; Publish never blocks on a
// slow subscriber beyond the buffer — once full, further events for that
// subscriber are dropped and logged, not queued without bound.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
	logger      *log.Logger
}

// DefaultBufferSize matches the teacher's default event channel buffer.
const DefaultBufferSize = 1000

// New returns a Bus with the given per-subscriber buffer size. A
// bufferSize of 0 uses DefaultBufferSize.
func New(bufferSize int, logger *log.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and returns its event channel and
// an unsubscribe function. The channel is closed when Unsubscribe is
// called; callers need not drain it afterward.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish fans event out to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it and a warning logged,
// rather than blocking every other subscriber.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Printf("eventbus: subscriber %d buffer full, dropping %s event for settlement %s", id, event.Type, event.SettlementID)
		}
	}
}

// EscrowLocked publishes an EventEscrowLocked event.
func (b *Bus) EscrowLocked(settlementID, escrowID string, amount decimal.Decimal, denom string) {
	b.Publish(Event{Type: EventEscrowLocked, SettlementID: settlementID, EscrowID: escrowID, Amount: amount, Denom: denom})
}

// SolverLocked publishes an EventSolverLocked event.
func (b *Bus) SolverLocked(settlementID, bondID string) {
	b.Publish(Event{Type: EventSolverLocked, SettlementID: settlementID, BondID: bondID})
}

// TransportStarted publishes an EventTransportStarted event.
func (b *Bus) TransportStarted(settlementID string, sequence uint64) {
	b.Publish(Event{Type: EventTransportStarted, SettlementID: settlementID, Sequence: sequence})
}

// TransportComplete publishes an EventTransportComplete event.
func (b *Bus) TransportComplete(settlementID string) {
	b.Publish(Event{Type: EventTransportComplete, SettlementID: settlementID})
}

// SettlementComplete publishes an EventSettlementComplete event.
func (b *Bus) SettlementComplete(settlementID string, outputDelivered bool) {
	b.Publish(Event{Type: EventSettlementComplete, SettlementID: settlementID, OutputDelivered: outputDelivered})
}

// SettlementFailed publishes an EventSettlementFailed event.
func (b *Bus) SettlementFailed(settlementID, reason string, recoverable bool) {
	b.Publish(Event{Type: EventSettlementFailed, SettlementID: settlementID, Reason: reason, Recoverable: recoverable})
}
