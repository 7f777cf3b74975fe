package margin

import (
	"fmt"

	"MarginCore/internal/fixedpoint"
)

// Params defines the engine's risk parameters in parts-per-million
// (1_000_000 == 100%). They are external configuration read by the engine;
// governance of who may change them is out of scope.
type Params struct {
	InitialMarginRate     int64 // Minimum collateral fraction of notional to open/hold
	MaintenanceMarginRate int64 // Fraction below which a position becomes liquidatable
	FeeRate               int64 // Trading fee fraction of traded notional
}

// DefaultParams: 10% initial margin, 5% maintenance margin, 0.01% fee.
func DefaultParams() Params {
	return Params{
		InitialMarginRate:     100_000,
		MaintenanceMarginRate: 50_000,
		FeeRate:               100,
	}
}

func (p Params) Validate() error {
	if p.InitialMarginRate < 0 || p.InitialMarginRate > fixedpoint.RateScale {
		return fmt.Errorf("initial margin rate out of range: %d", p.InitialMarginRate)
	}
	if p.MaintenanceMarginRate < 0 || p.MaintenanceMarginRate >= fixedpoint.RateScale {
		return fmt.Errorf("maintenance margin rate out of range: %d", p.MaintenanceMarginRate)
	}
	if p.MaintenanceMarginRate > p.InitialMarginRate {
		return fmt.Errorf("maintenance margin %d exceeds initial margin %d",
			p.MaintenanceMarginRate, p.InitialMarginRate)
	}
	if p.FeeRate < 0 || p.FeeRate > fixedpoint.RateScale {
		return fmt.Errorf("fee rate out of range: %d", p.FeeRate)
	}
	return nil
}

// RequiredCollateral returns the initial margin for a position of absSize at
// price: trunc(trunc(absSize*price/1e18) * IMR / 1e6). Pure and total.
func (p Params) RequiredCollateral(absSize, price fixedpoint.Dec) fixedpoint.Dec {
	return absSize.MulFloor(price).MulRate(p.InitialMarginRate)
}

// LiquidationThreshold returns the price at which a position opened at
// price becomes eligible for forced closure. Longs liquidate below
// price*(1-MMR), shorts above price*(1+MMR).
//
// This is a deliberate simplification: it ignores realized/unrealized PnL
// curvature and pool-side losses. A known approximation, not a bug.
func (p Params) LiquidationThreshold(price fixedpoint.Dec, isLong bool) fixedpoint.Dec {
	if isLong {
		return price.MulRate(fixedpoint.RateScale - p.MaintenanceMarginRate)
	}
	return price.MulRate(fixedpoint.RateScale + p.MaintenanceMarginRate)
}

// TradeFee returns the fee charged on a size change:
// trunc(trunc(|delta|*price/1e18) * FeeRate / 1e6).
func (p Params) TradeFee(absSizeDelta, price fixedpoint.Dec) fixedpoint.Dec {
	return absSizeDelta.MulFloor(price).MulRate(p.FeeRate)
}
