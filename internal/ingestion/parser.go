package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/event"
	"MarginCore/internal/fixedpoint"
)

// ParseTradeRequest converts a JSON trade request from the execution
// pipeline into a typed event. Amounts arrive as decimal strings; raw
// integers with an implied scale are not accepted on the wire.
func ParseTradeRequest(data []byte) (*event.TradeRequest, error) {
	var j tradeRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeRequest: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	traderID, err := uuid.Parse(j.TraderID)
	if err != nil {
		return nil, fmt.Errorf("parse trader_id: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("missing asset")
	}

	collateralDelta, err := fixedpoint.FromString(j.CollateralDelta)
	if err != nil {
		return nil, fmt.Errorf("parse collateral_delta: %w", err)
	}
	sizeDelta, err := fixedpoint.FromString(j.SizeDelta)
	if err != nil {
		return nil, fmt.Errorf("parse size_delta: %w", err)
	}

	return &event.TradeRequest{
		RequestID:       requestID,
		TraderID:        traderID,
		Asset:           j.Asset,
		CollateralDelta: collateralDelta,
		SizeDelta:       sizeDelta,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

// ParseMarkPriceUpdate converts a JSON mark price tick. The raw price
// stays in source precision; normalization happens in the oracle layer.
func ParseMarkPriceUpdate(data []byte) (*event.MarkPriceUpdate, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkPriceUpdate: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("missing asset")
	}
	if j.SourceDecimals > 30 {
		return nil, fmt.Errorf("source_decimals %d out of range", j.SourceDecimals)
	}

	return &event.MarkPriceUpdate{
		Asset:          j.Asset,
		RawPrice:       j.RawPrice,
		SourceDecimals: uint8(j.SourceDecimals),
		PriceSequence:  j.PriceSequence,
		UpdatedAt:      j.TimestampUs,
	}, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type tradeRequestJSON struct {
	RequestID       string `json:"request_id"`
	TraderID        string `json:"trader_id"`
	Asset           string `json:"asset"`
	CollateralDelta string `json:"collateral_delta"`
	SizeDelta       string `json:"size_delta"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

type markPriceJSON struct {
	Asset          string `json:"asset"`
	RawPrice       int64  `json:"raw_price"`
	SourceDecimals int    `json:"source_decimals"`
	PriceSequence  int64  `json:"price_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}
