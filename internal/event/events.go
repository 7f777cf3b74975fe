package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/fixedpoint"
)

// Type discriminator for outbound event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypePositionOpened
	TypePositionClosed
	TypePositionLiquidated
	TypePositionResized
)

func (t Type) String() string {
	switch t {
	case TypePositionOpened:
		return "PositionOpened"
	case TypePositionClosed:
		return "PositionClosed"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypePositionResized:
		return "PositionResized"
	default:
		return "Unknown"
	}
}

// Event is the interface all outbound payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key for downstream consumers
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() Type

	// Trader returns the position owner
	Trader() uuid.UUID
}

// PositionOpened is emitted when a position transitions from flat to open.
// Every event carries the full post-event position state so the durable
// log can rebuild the book during startup recovery.
type PositionOpened struct {
	TraderID         uuid.UUID
	Size             fixedpoint.Dec
	Collateral       fixedpoint.Dec
	MarkPrice        fixedpoint.Dec
	LiquidationPrice fixedpoint.Dec
	Version          int64
	Sequence         int64
	Timestamp        time.Time
}

func (e *PositionOpened) IdempotencyKey() string {
	return fmt.Sprintf("%s:opened:%d", e.TraderID, e.Sequence)
}

func (e *PositionOpened) EventType() Type { return TypePositionOpened }

func (e *PositionOpened) Trader() uuid.UUID { return e.TraderID }

// PositionClosed is emitted when a position transitions from open to flat
// through a normal apply (not a liquidation). The post-event state is the
// zero position at Version.
type PositionClosed struct {
	TraderID  uuid.UUID
	Version   int64
	Sequence  int64
	Timestamp time.Time
}

func (e *PositionClosed) IdempotencyKey() string {
	return fmt.Sprintf("%s:closed:%d", e.TraderID, e.Sequence)
}

func (e *PositionClosed) EventType() Type { return TypePositionClosed }

func (e *PositionClosed) Trader() uuid.UUID { return e.TraderID }

// PositionLiquidated is emitted when the monitor force-closes a position.
// Seized is the full collateral forfeited to the settlement pool.
type PositionLiquidated struct {
	TraderID  uuid.UUID
	Seized    fixedpoint.Dec
	MarkPrice fixedpoint.Dec
	Version   int64
	Sequence  int64
	Timestamp time.Time
}

func (e *PositionLiquidated) IdempotencyKey() string {
	return fmt.Sprintf("%s:liquidated:%d", e.TraderID, e.Sequence)
}

func (e *PositionLiquidated) EventType() Type { return TypePositionLiquidated }

func (e *PositionLiquidated) Trader() uuid.UUID { return e.TraderID }

// PositionResized is emitted when an open position changes without
// touching zero. It exists for the durable log only; the outbound
// publisher does not forward it.
type PositionResized struct {
	TraderID         uuid.UUID
	Size             fixedpoint.Dec
	Collateral       fixedpoint.Dec
	MarkPrice        fixedpoint.Dec
	LiquidationPrice fixedpoint.Dec
	Version          int64
	Sequence         int64
	Timestamp        time.Time
}

func (e *PositionResized) IdempotencyKey() string {
	return fmt.Sprintf("%s:resized:%d", e.TraderID, e.Sequence)
}

func (e *PositionResized) EventType() Type { return TypePositionResized }

func (e *PositionResized) Trader() uuid.UUID { return e.TraderID }

// Sink receives outbound events. Delivery is fire-and-forget from the
// engine's perspective: implementations must not block the caller and no
// acknowledgment is required.
type Sink interface {
	Publish(Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// ChanSink forwards events to a buffered channel, dropping on overflow so
// a slow consumer cannot stall the ledger.
type ChanSink struct {
	C chan Event
}

func NewChanSink(capacity int) *ChanSink {
	return &ChanSink{C: make(chan Event, capacity)}
}

func (s *ChanSink) Publish(e Event) {
	select {
	case s.C <- e:
	default:
		// dropped, consumers can rebuild from the event log
	}
}

// TeeSink fans out to two channels with different loss semantics: Persist
// uses a blocking send so the ledger stalls rather than lose an event on
// the durable path, Outbound drops on overflow since downstream consumers
// can replay from the event log.
type TeeSink struct {
	Persist  chan Event
	Outbound chan Event

	// Dropped, when set, is called once per event lost on the outbound
	// side.
	Dropped func()
}

func NewTeeSink(persistCap, outboundCap int) *TeeSink {
	return &TeeSink{
		Persist:  make(chan Event, persistCap),
		Outbound: make(chan Event, outboundCap),
	}
}

func (s *TeeSink) Publish(e Event) {
	s.Persist <- e
	select {
	case s.Outbound <- e:
	default:
		if s.Dropped != nil {
			s.Dropped()
		}
	}
}

// Close closes both channels. Call only after all publishers stopped.
func (s *TeeSink) Close() {
	close(s.Persist)
	close(s.Outbound)
}
