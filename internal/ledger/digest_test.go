package ledger_test

import (
	"testing"

	"github.com/google/uuid"

	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/ledger"
)

func digestFixture() []ledger.Position {
	return []ledger.Position{
		{
			TraderID:         uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			Size:             fixedpoint.FromUnits(5),
			Collateral:       fixedpoint.FromUnits(9999),
			EntryPrice:       fixedpoint.FromUnits(2000),
			LiquidationPrice: fixedpoint.FromUnits(1900),
			Version:          1,
		},
		{
			TraderID:         uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			Size:             fixedpoint.FromUnits(-3),
			Collateral:       fixedpoint.FromUnits(7000),
			EntryPrice:       fixedpoint.FromUnits(2000),
			LiquidationPrice: fixedpoint.FromUnits(2100),
			Version:          4,
		},
	}
}

func TestStateDigest_Deterministic(t *testing.T) {
	positions := digestFixture()

	a := ledger.StateDigest(positions, 42)
	b := ledger.StateDigest(positions, 42)
	if a != b {
		t.Error("same input produced different digests")
	}
}

func TestStateDigest_OrderIndependent(t *testing.T) {
	positions := digestFixture()
	reversed := []ledger.Position{positions[1], positions[0]}

	if ledger.StateDigest(positions, 42) != ledger.StateDigest(reversed, 42) {
		t.Error("digest depends on position order")
	}
}

func TestStateDigest_SensitiveToChanges(t *testing.T) {
	positions := digestFixture()
	base := ledger.StateDigest(positions, 42)

	if ledger.StateDigest(positions, 43) == base {
		t.Error("digest ignores sequence")
	}

	mutated := digestFixture()
	mutated[0].Collateral = fixedpoint.FromUnits(9998)
	if ledger.StateDigest(mutated, 42) == base {
		t.Error("digest ignores collateral change")
	}

	negated := digestFixture()
	negated[0].Size = negated[0].Size.Neg()
	if ledger.StateDigest(negated, 42) == base {
		t.Error("digest ignores sign flip")
	}
}
