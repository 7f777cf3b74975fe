package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Engine precision: all prices, sizes, and collateral amounts carry 18
// fractional digits. Rate parameters (margin rates, fee rate) use a
// parts-per-million scale where 1_000_000 == 100%.
const (
	EngineDecimals = 18
	RateScale      = 1_000_000
)

var (
	// oneScale = 10^18
	oneScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(EngineDecimals), nil)

	rateScale = big.NewInt(RateScale)

	// maxAbs bounds every Dec to 2^200. Engine arithmetic is big.Int and
	// cannot wrap, but a bound keeps persisted and wire values sane.
	maxAbs = new(big.Int).Lsh(big.NewInt(1), 200)
)

// Dec is an 18-decimal fixed-point number. The scale lives in the type so
// raw integers with an implied precision never leak between components.
// The zero value is 0. All operations return a new Dec; a Dec is never
// mutated after creation.
type Dec struct {
	v *big.Int
}

func Zero() Dec {
	return Dec{}
}

// FromUnits returns n whole units, i.e. n * 10^18.
func FromUnits(n int64) Dec {
	return Dec{v: new(big.Int).Mul(big.NewInt(n), oneScale)}
}

// FromRaw wraps an already-scaled integer. The argument is copied.
func FromRaw(raw *big.Int) (Dec, error) {
	if raw == nil {
		return Dec{}, nil
	}
	if new(big.Int).Abs(raw).Cmp(maxAbs) > 0 {
		return Dec{}, fmt.Errorf("fixedpoint: value out of range: %s", raw)
	}
	return Dec{v: new(big.Int).Set(raw)}, nil
}

// MustFromRaw is FromRaw for values a caller has already bounds-checked.
func MustFromRaw(raw *big.Int) Dec {
	d, err := FromRaw(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// FromString parses a decimal string ("2000.5") into engine precision.
// Digits past the 18th fractional place are truncated, not rounded.
func FromString(s string) (Dec, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Dec{}, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	return FromRaw(d.Truncate(EngineDecimals).Shift(EngineDecimals).BigInt())
}

// big returns the backing integer, treating the zero value as 0.
func (d Dec) big() *big.Int {
	if d.v == nil {
		return new(big.Int)
	}
	return d.v
}

// Raw returns a copy of the scaled integer representation.
func (d Dec) Raw() *big.Int {
	return new(big.Int).Set(d.big())
}

// String renders the value as a decimal string with trailing zeros trimmed.
func (d Dec) String() string {
	return decimal.NewFromBigInt(d.big(), -EngineDecimals).String()
}

// Float64 returns the value in whole units, lossy. Only for metrics and
// display, never for engine arithmetic.
func (d Dec) Float64() float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(d.big()),
		new(big.Float).SetInt(oneScale),
	).Float64()
	return f
}

func (d Dec) Add(o Dec) Dec {
	return Dec{v: new(big.Int).Add(d.big(), o.big())}
}

func (d Dec) Sub(o Dec) Dec {
	return Dec{v: new(big.Int).Sub(d.big(), o.big())}
}

func (d Dec) Neg() Dec {
	return Dec{v: new(big.Int).Neg(d.big())}
}

func (d Dec) Abs() Dec {
	return Dec{v: new(big.Int).Abs(d.big())}
}

func (d Dec) Cmp(o Dec) int {
	return d.big().Cmp(o.big())
}

func (d Dec) Equal(o Dec) bool {
	return d.Cmp(o) == 0
}

func (d Dec) Sign() int {
	return d.big().Sign()
}

func (d Dec) IsZero() bool {
	return d.Sign() == 0
}

func (d Dec) IsNegative() bool {
	return d.Sign() < 0
}

func (d Dec) IsPositive() bool {
	return d.Sign() > 0
}

// MulFloor computes trunc(d * o / 10^18): fixed-point multiplication with
// truncation toward zero. This matches the engine's notional computation
// exactly; never substitute rounding here.
func (d Dec) MulFloor(o Dec) Dec {
	p := new(big.Int).Mul(d.big(), o.big())
	return Dec{v: p.Quo(p, oneScale)}
}

// MulRate applies a parts-per-million rate: trunc(d * ppm / 10^6).
func (d Dec) MulRate(ppm int64) Dec {
	p := new(big.Int).Mul(d.big(), big.NewInt(ppm))
	return Dec{v: p.Quo(p, rateScale)}
}

// ScaleFromDecimals rescales a raw integer quoted with its own decimal
// precision to engine precision. Upscaling multiplies by a power of ten;
// downscaling divides with truncation.
func ScaleFromDecimals(raw int64, decimals uint8) Dec {
	v := big.NewInt(raw)
	switch {
	case int(decimals) < EngineDecimals:
		exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(EngineDecimals-int(decimals))), nil)
		v.Mul(v, exp)
	case int(decimals) > EngineDecimals:
		exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(int(decimals)-EngineDecimals)), nil)
		v.Quo(v, exp)
	}
	return Dec{v: v}
}
