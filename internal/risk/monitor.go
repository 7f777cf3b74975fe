package risk

import (
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/ledger"
)

// Monitor decides when a position has breached its maintenance margin and
// drives the forced close through the ledger. It never mutates positions
// itself; the store owns all state transitions.
type Monitor struct {
	store *ledger.Store
}

func NewMonitor(store *ledger.Store) *Monitor {
	return &Monitor{store: store}
}

// Eligible reports whether a position is liquidatable at the given mark
// price. Longs breach when the mark falls to or below the liquidation
// price, shorts when it rises to or above it. Flat positions are never
// eligible.
func Eligible(pos ledger.Position, markPrice fixedpoint.Dec) bool {
	if pos.IsFlat() {
		return false
	}
	if pos.IsLong() {
		return markPrice.Cmp(pos.LiquidationPrice) <= 0
	}
	return markPrice.Cmp(pos.LiquidationPrice) >= 0
}

// Check force-closes the trader's position if it is eligible at the given
// mark price. Returns the seized collateral and whether a liquidation
// happened. A healthy or flat position is a no-op.
func (m *Monitor) Check(trader uuid.UUID, markPrice fixedpoint.Dec, now time.Time) (fixedpoint.Dec, bool) {
	return m.store.ForceClose(trader, markPrice, now, func(pos ledger.Position) bool {
		return Eligible(pos, markPrice)
	})
}

// Sweep runs Check over every known trader and returns the total seized
// collateral and the number of positions closed. Used on mark price
// updates, where any open position may have crossed its threshold.
func (m *Monitor) Sweep(markPrice fixedpoint.Dec, now time.Time) (fixedpoint.Dec, int) {
	seized := fixedpoint.Zero()
	closed := 0
	for _, pos := range m.store.Snapshot() {
		if amount, ok := m.Check(pos.TraderID, markPrice, now); ok {
			seized = seized.Add(amount)
			closed++
		}
	}
	return seized, closed
}
