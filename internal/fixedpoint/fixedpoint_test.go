package fixedpoint_test

import (
	"math/big"
	"testing"

	"MarginCore/internal/fixedpoint"
)

func TestFromUnits(t *testing.T) {
	d := fixedpoint.FromUnits(2000)
	want, _ := new(big.Int).SetString("2000000000000000000000", 10)
	if d.Raw().Cmp(want) != 0 {
		t.Errorf("got %s, want %s", d.Raw(), want)
	}
}

func TestFromString_TruncatesBeyondEnginePrecision(t *testing.T) {
	d, err := fixedpoint.FromString("1.0000000000000000019")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := fixedpoint.MustFromRaw(new(big.Int).Add(
		fixedpoint.FromUnits(1).Raw(), big.NewInt(1)))
	if !d.Equal(want) {
		t.Errorf("got %s, want %s", d.Raw(), want.Raw())
	}
}

func TestFromString_Invalid(t *testing.T) {
	if _, err := fixedpoint.FromString("not-a-number"); err == nil {
		t.Error("expected parse error")
	}
}

func TestMulFloor_Notional(t *testing.T) {
	// 5.0 * 2000.0 = 10000.0
	size := fixedpoint.FromUnits(5)
	price := fixedpoint.FromUnits(2000)

	notional := size.MulFloor(price)
	if !notional.Equal(fixedpoint.FromUnits(10000)) {
		t.Errorf("got %s, want 10000", notional)
	}
}

func TestMulFloor_Truncates(t *testing.T) {
	// 1e-18 * 0.5 truncates to 0
	tiny := fixedpoint.MustFromRaw(big.NewInt(1))
	half, _ := fixedpoint.FromString("0.5")

	if !tiny.MulFloor(half).IsZero() {
		t.Error("expected truncation to zero")
	}
}

func TestMulRate(t *testing.T) {
	// 10000.0 * 100_000ppm = 1000.0
	notional := fixedpoint.FromUnits(10000)
	if got := notional.MulRate(100_000); !got.Equal(fixedpoint.FromUnits(1000)) {
		t.Errorf("got %s, want 1000", got)
	}

	// 10000.0 * 100ppm = 1.0
	if got := notional.MulRate(100); !got.Equal(fixedpoint.FromUnits(1)) {
		t.Errorf("got %s, want 1", got)
	}
}

func TestScaleFromDecimals_Upscale(t *testing.T) {
	// Chainlink-style 8-decimal quote: 2000_00000000 -> 2000.0
	d := fixedpoint.ScaleFromDecimals(200_000_000_000, 8)
	if !d.Equal(fixedpoint.FromUnits(2000)) {
		t.Errorf("got %s, want 2000", d)
	}
}

func TestScaleFromDecimals_DownscaleTruncates(t *testing.T) {
	// 20-decimal source: the two extra digits are dropped, not rounded
	d := fixedpoint.ScaleFromDecimals(199, 20)
	if d.Raw().Int64() != 1 {
		t.Errorf("got %s, want 1 (raw)", d.Raw())
	}
}

func TestScaleFromDecimals_SameScale(t *testing.T) {
	d := fixedpoint.ScaleFromDecimals(42, 18)
	if d.Raw().Int64() != 42 {
		t.Errorf("got %s, want 42 (raw)", d.Raw())
	}
}

func TestArithmeticIdentities(t *testing.T) {
	a := fixedpoint.FromUnits(7)
	b := fixedpoint.FromUnits(3)

	if !a.Sub(b).Equal(fixedpoint.FromUnits(4)) {
		t.Error("7 - 3 != 4")
	}
	if !a.Add(a.Neg()).IsZero() {
		t.Error("a + (-a) != 0")
	}
	if !a.Neg().Abs().Equal(a) {
		t.Error("|-a| != a")
	}
	if fixedpoint.Zero().Sign() != 0 {
		t.Error("zero value should have sign 0")
	}
	if !b.Neg().IsNegative() {
		t.Error("-3 should be negative")
	}
}

func TestFromRaw_Bounds(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 210)
	if _, err := fixedpoint.FromRaw(huge); err == nil {
		t.Error("expected out-of-range error")
	}
}
