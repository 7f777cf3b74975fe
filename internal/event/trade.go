package event

import (
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/fixedpoint"
)

// TradeRequest is the inbound unit of work from the trade-execution
// collaborator: a requested change to one trader's position.
// Idempotency key: request_id (UUID from the execution pipeline).
type TradeRequest struct {
	RequestID       uuid.UUID // Idempotency key
	TraderID        uuid.UUID
	Asset           string
	CollateralDelta fixedpoint.Dec // signed: deposit (+) or withdrawal (-)
	SizeDelta       fixedpoint.Dec // signed: long (+) or short (-) delta
	Sequence        int64          // Source sequence from the execution pipeline
	Timestamp       time.Time      // Versioned input timestamp (NOT wall-clock)
}

func (t *TradeRequest) Key() string {
	return t.RequestID.String()
}
