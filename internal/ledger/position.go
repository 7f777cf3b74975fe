package ledger

import (
	"github.com/google/uuid"

	"MarginCore/internal/fixedpoint"
)

// Position is one trader's open exposure. A position is implicitly created
// (all zero) the first time a trader is referenced; it is never deleted,
// only reset to the zero state on full close or liquidation.
//
// Invariant: Size == 0 implies Collateral == 0 and LiquidationPrice == 0.
type Position struct {
	TraderID uuid.UUID

	// Size is signed: positive = long, negative = short, zero = flat.
	Size fixedpoint.Dec

	// Collateral in the settlement asset. Never negative; zero only when
	// the position is flat.
	Collateral fixedpoint.Dec

	// EntryPrice recorded at the most recent size/collateral change.
	// Conventionally zero when flat.
	EntryPrice fixedpoint.Dec

	// LiquidationPrice at which the position becomes eligible for forced
	// closure. Zero when flat.
	LiquidationPrice fixedpoint.Dec

	// Version for optimistic concurrency in read models.
	Version int64
}

// IsFlat returns true if the position has no exposure.
func (p *Position) IsFlat() bool {
	return p.Size.IsZero()
}

// IsLong returns true for positive size.
func (p *Position) IsLong() bool {
	return p.Size.IsPositive()
}

// reset returns the position to the zero state, keeping identity and
// bumping the version.
func (p *Position) reset() {
	p.Size = fixedpoint.Zero()
	p.Collateral = fixedpoint.Zero()
	p.EntryPrice = fixedpoint.Zero()
	p.LiquidationPrice = fixedpoint.Zero()
	p.Version++
}

// checkInvariant panics on a violated flat-position invariant. A violation
// here is a solvency bug, not a recoverable condition.
func (p *Position) checkInvariant() {
	if !p.Size.IsZero() {
		return
	}
	if !p.Collateral.IsZero() || !p.LiquidationPrice.IsZero() {
		panic("ledger: flat position holds collateral or liquidation price")
	}
}
