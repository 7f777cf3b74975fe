package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"MarginCore/internal/engine"
)

// SettlementSubject carries money-movement instructions for the custody
// system.
const SettlementSubject = "margin.settlements"

// NATSSettler publishes settlement instructions to JetStream. The custody
// consumer executes transfers and reconciles failures from the event log;
// a publish error here never unwinds the ledger.
type NATSSettler struct {
	js jetstream.JetStream
}

func NewNATSSettler(js jetstream.JetStream) *NATSSettler {
	return &NATSSettler{js: js}
}

func (ns *NATSSettler) Settle(ctx context.Context, s engine.Settlement) error {
	data, err := json.Marshal(settlementJSON{
		TraderID:        s.TraderID.String(),
		CollateralDelta: s.CollateralDelta.String(),
		Fee:             s.Fee.String(),
		Refund:          s.Refund.String(),
		Seized:          s.Seized.String(),
		TimestampUs:     time.Now().UnixMicro(),
	})
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}

	if _, err := ns.js.Publish(ctx, SettlementSubject, data); err != nil {
		return fmt.Errorf("publish settlement: %w", err)
	}
	return nil
}

type settlementJSON struct {
	TraderID        string `json:"trader_id"`
	CollateralDelta string `json:"collateral_delta"`
	Fee             string `json:"fee"`
	Refund          string `json:"refund"`
	Seized          string `json:"seized"`
	TimestampUs     int64  `json:"timestamp_us"`
}

// EnsureSettlementStream creates the settlement instruction stream.
func EnsureSettlementStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARGIN_SETTLEMENTS",
		Subjects:  []string{SettlementSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create settlement stream: %w", err)
	}
	log.Println("INFO: ensured settlement stream MARGIN_SETTLEMENTS")
	return nil
}
