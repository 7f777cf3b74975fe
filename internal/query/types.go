package query

import (
	"time"

	"github.com/google/uuid"
)

// PositionResponse represents a position for API queries. Fixed-point
// amounts are decimal strings; AsOfSequence is the engine sequence the
// data reflects.
type PositionResponse struct {
	TraderID         uuid.UUID `json:"trader_id"`
	Size             string    `json:"size"`
	Collateral       string    `json:"collateral"`
	EntryPrice       string    `json:"entry_price"`
	LiquidationPrice string    `json:"liquidation_price"`
	Version          int64     `json:"version"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// SkewResponse reports the book-wide net position.
type SkewResponse struct {
	TotalSkew     string `json:"total_skew"`
	OpenPositions int    `json:"open_positions"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// PriceResponse reports the latest normalized mark price for an asset.
type PriceResponse struct {
	Asset         string    `json:"asset"`
	Price         string    `json:"price"`
	PriceSequence int64     `json:"price_sequence"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EventHistoryEntry represents a persisted position event for API queries.
type EventHistoryEntry struct {
	Sequence       int64          `json:"sequence"`
	EventType      string         `json:"event_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	TraderID       uuid.UUID      `json:"trader_id"`
	Payload        map[string]any `json:"payload"`
	Timestamp      time.Time      `json:"timestamp"`
}
