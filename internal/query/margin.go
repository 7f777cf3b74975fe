package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/risk"
)

// MarginInfoResponse contains derived margin metrics for one trader,
// computed at query time from the live position and the current mark
// price. Not persisted state.
type MarginInfoResponse struct {
	TraderID uuid.UUID `json:"trader_id"`
	Asset    string    `json:"asset"`

	// Position-level
	Notional         string `json:"notional"`          // |size| * mark_price
	RequiredInitial  string `json:"required_initial"`  // notional at the initial margin rate
	RequiredMaintain string `json:"required_maintain"` // notional at the maintenance rate
	Collateral       string `json:"collateral"`
	MarkPrice        string `json:"mark_price"`
	LiquidationPrice string `json:"liquidation_price"`

	// Status
	IsLiquidatable bool `json:"is_liquidatable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetMarginInfo computes the trader's margin metrics against the latest
// normalized mark price for the asset. Fails if no fresh price is
// available.
func (qs *QueryService) GetMarginInfo(ctx context.Context, trader uuid.UUID, asset string) (*MarginInfoResponse, error) {
	markPrice, err := qs.normalizer.Latest(ctx, asset, time.Now())
	if err != nil {
		return nil, err
	}

	pos := qs.store.Get(trader)
	params := qs.store.Params()

	notional := pos.Size.Abs().MulFloor(markPrice)
	return &MarginInfoResponse{
		TraderID:         trader,
		Asset:            asset,
		Notional:         notional.String(),
		RequiredInitial:  params.RequiredCollateral(pos.Size.Abs(), markPrice).String(),
		RequiredMaintain: notional.MulRate(params.MaintenanceMarginRate).String(),
		Collateral:       pos.Collateral.String(),
		MarkPrice:        markPrice.String(),
		LiquidationPrice: pos.LiquidationPrice.String(),
		IsLiquidatable:   risk.Eligible(pos, markPrice),
		AsOfSequence:     qs.store.Sequence(),
	}, nil
}
