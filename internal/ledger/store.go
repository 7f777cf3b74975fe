package ledger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/event"
	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/margin"
)

// Store is the authoritative per-trader position state plus the aggregate
// directional skew. It exclusively owns both; no other component mutates
// either. Updates to distinct traders proceed in parallel; each trader's
// position is locked for the duration of its own apply/close sequence, and
// skew mutations are serialized under a dedicated mutex. The store never
// locks two positions simultaneously, so there is no lock ordering concern.
type Store struct {
	params margin.Params
	sink   event.Sink

	mu    sync.RWMutex
	slots map[uuid.UUID]*slot

	skewMu    sync.Mutex
	totalSkew fixedpoint.Dec

	sequence atomic.Int64
}

type slot struct {
	mu  sync.Mutex
	pos Position
}

func NewStore(params margin.Params, sink event.Sink) *Store {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Store{
		params: params,
		sink:   sink,
		slots:  make(map[uuid.UUID]*slot),
	}
}

// slot returns the trader's slot, creating a zero position on first
// reference.
func (s *Store) slot(trader uuid.UUID) *slot {
	s.mu.RLock()
	sl, ok := s.slots[trader]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[trader]; ok {
		return sl
	}
	sl = &slot{pos: Position{TraderID: trader}}
	s.slots[trader] = sl
	return sl
}

// Applied reports the outcome of a committed apply.
type Applied struct {
	Position Position

	// Fee charged on the size change, already deducted from collateral.
	Fee fixedpoint.Dec

	// Refund is collateral left over after a full close. The settlement
	// collaborator transfers it back to the trader; the stored position
	// holds no collateral while flat.
	Refund fixedpoint.Dec

	// Opened: old size was zero and new size is non-zero.
	// Closed: old size was non-zero and new size is zero.
	// Mutually exclusive; both false on a plain resize.
	Opened bool
	Closed bool
}

// Apply validates and commits a requested position change at the given mark
// price. All-or-nothing: a reject at any step leaves the position, the skew,
// and the event stream untouched. The reject kinds are surfaced verbatim to
// the caller.
func (s *Store) Apply(
	trader uuid.UUID,
	collateralDelta, sizeDelta, markPrice fixedpoint.Dec,
	ts time.Time,
) (Applied, error) {
	sl := s.slot(trader)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	pos := &sl.pos

	// Step 1: collateral delta
	newCollateral := pos.Collateral.Add(collateralDelta)
	if newCollateral.IsNegative() {
		return Applied{}, event.Rejectf(event.RejectNegativeCollateral,
			"withdrawal exceeds collateral %s by %s", pos.Collateral, newCollateral.Abs())
	}

	// Step 2: size delta
	newSize := pos.Size.Add(sizeDelta)

	// Step 3: an open position cannot run on zero collateral
	if !newSize.IsZero() && newCollateral.IsZero() {
		return Applied{}, event.Rejectf(event.RejectInsufficientCollateral,
			"non-zero size %s with zero collateral", newSize)
	}

	// Step 4: initial margin check on the resulting position
	if !newSize.IsZero() {
		required := s.params.RequiredCollateral(newSize.Abs(), markPrice)
		if newCollateral.Cmp(required) < 0 {
			return Applied{}, event.Rejectf(event.RejectMarginRequirementFailed,
				"collateral %s below required margin %s", newCollateral, required)
		}
	}

	// Step 5: trading fee on the size change
	var fee fixedpoint.Dec
	if !sizeDelta.IsZero() {
		fee = s.params.TradeFee(sizeDelta.Abs(), markPrice)
		if fee.Cmp(newCollateral) > 0 {
			return Applied{}, event.Rejectf(event.RejectInsufficientCollateral,
				"fee %s exceeds collateral %s", fee, newCollateral)
		}
		newCollateral = newCollateral.Sub(fee)
	}

	// Step 6: classify the transition
	opened := pos.Size.IsZero() && !newSize.IsZero()
	closed := !pos.Size.IsZero() && newSize.IsZero()

	// Step 7: commit
	var refund fixedpoint.Dec
	if newSize.IsZero() {
		// Whatever remains after the fee goes back to the trader; a flat
		// position holds no collateral.
		refund = newCollateral
		pos.reset()
	} else {
		pos.Size = newSize
		pos.Collateral = newCollateral
		pos.EntryPrice = markPrice
		pos.LiquidationPrice = s.params.LiquidationThreshold(markPrice, newSize.IsPositive())
		pos.Version++
	}
	s.addSkew(sizeDelta)

	pos.checkInvariant()

	// Step 8: exactly one event per committed apply. Each carries the
	// full post-event state so the durable log replays into an identical
	// book; resizes stay off the outbound subjects.
	seq := s.sequence.Add(1)
	switch {
	case opened:
		s.sink.Publish(&event.PositionOpened{
			TraderID:         trader,
			Size:             pos.Size,
			Collateral:       pos.Collateral,
			MarkPrice:        markPrice,
			LiquidationPrice: pos.LiquidationPrice,
			Version:          pos.Version,
			Sequence:         seq,
			Timestamp:        ts,
		})
	case closed:
		s.sink.Publish(&event.PositionClosed{
			TraderID:  trader,
			Version:   pos.Version,
			Sequence:  seq,
			Timestamp: ts,
		})
	default:
		// Covers plain resizes and the degenerate flat no-op, whose
		// post-state is the reset position.
		s.sink.Publish(&event.PositionResized{
			TraderID:         trader,
			Size:             pos.Size,
			Collateral:       pos.Collateral,
			MarkPrice:        markPrice,
			LiquidationPrice: pos.LiquidationPrice,
			Version:          pos.Version,
			Sequence:         seq,
			Timestamp:        ts,
		})
	}

	return Applied{
		Position: *pos,
		Fee:      fee,
		Refund:   refund,
		Opened:   opened,
		Closed:   closed,
	}, nil
}

// ForceClose seizes the full collateral of a non-flat position when the
// eligible predicate holds, resetting the position and reversing its skew
// contribution. Returns the seized amount and whether a close happened.
// Used by the liquidation monitor; eligibility is the monitor's business,
// the mutation is the store's.
func (s *Store) ForceClose(
	trader uuid.UUID,
	markPrice fixedpoint.Dec,
	ts time.Time,
	eligible func(Position) bool,
) (fixedpoint.Dec, bool) {
	sl := s.slot(trader)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	pos := &sl.pos
	if pos.IsFlat() || !eligible(*pos) {
		return fixedpoint.Zero(), false
	}

	seized := pos.Collateral
	s.addSkew(pos.Size.Neg())
	pos.reset()
	pos.checkInvariant()

	s.sink.Publish(&event.PositionLiquidated{
		TraderID:  trader,
		Seized:    seized,
		MarkPrice: markPrice,
		Version:   pos.Version,
		Sequence:  s.sequence.Add(1),
		Timestamp: ts,
	})

	return seized, true
}

func (s *Store) addSkew(delta fixedpoint.Dec) {
	if delta.IsZero() {
		return
	}
	s.skewMu.Lock()
	s.totalSkew = s.totalSkew.Add(delta)
	s.skewMu.Unlock()
}

// Get returns a copy of the trader's position. A never-referenced trader
// reads as the zero position.
func (s *Store) Get(trader uuid.UUID) Position {
	s.mu.RLock()
	sl, ok := s.slots[trader]
	s.mu.RUnlock()
	if !ok {
		return Position{TraderID: trader}
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.pos
}

// TotalSkew returns the net signed sum of all open position sizes.
func (s *Store) TotalSkew() fixedpoint.Dec {
	s.skewMu.Lock()
	defer s.skewMu.Unlock()
	return s.totalSkew
}

// Params returns the risk parameters the store was built with.
func (s *Store) Params() margin.Params {
	return s.params
}

// Snapshot returns a copy of every referenced position, open or flat.
func (s *Store) Snapshot() []Position {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]Position, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		out = append(out, sl.pos)
		sl.mu.Unlock()
	}
	return out
}

// Restore replaces the store's state from a snapshot, recomputing the skew
// aggregate. Only for startup recovery, before the store is shared.
func (s *Store) Restore(positions []Position, sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = make(map[uuid.UUID]*slot, len(positions))
	skew := fixedpoint.Zero()
	for _, pos := range positions {
		pos.checkInvariant()
		s.slots[pos.TraderID] = &slot{pos: pos}
		skew = skew.Add(pos.Size)
	}

	s.skewMu.Lock()
	s.totalSkew = skew
	s.skewMu.Unlock()

	s.sequence.Store(sequence)
}

// ApplyReplayed installs the post-event position of one persisted event
// during startup recovery, advancing the sequence counter and the skew
// aggregate. No event is published. Only for recovery, in ascending
// sequence order, before the store is shared.
func (s *Store) ApplyReplayed(pos Position, sequence int64) {
	pos.checkInvariant()

	sl := s.slot(pos.TraderID)
	sl.mu.Lock()
	delta := pos.Size.Sub(sl.pos.Size)
	sl.pos = pos
	sl.mu.Unlock()

	s.addSkew(delta)
	s.sequence.Store(sequence)
}

// Sequence returns the last event sequence the store assigned.
func (s *Store) Sequence() int64 {
	return s.sequence.Load()
}
