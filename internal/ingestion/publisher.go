package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"MarginCore/internal/event"
	"MarginCore/internal/observability"
)

// OutboundPublisher drains the engine's event sink channel and publishes
// position events to NATS for downstream consumers (settlement,
// notifications, analytics). Subjects follow margin.positions.{event}.
type OutboundPublisher struct {
	js      jetstream.JetStream
	input   <-chan event.Event
	metrics *observability.Metrics
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan event.Event, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		input:   input,
		metrics: metrics,
	}
}

// Run starts the outbound publisher loop and blocks until the context is
// cancelled or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.input:
			if !ok {
				return nil
			}

			// Resize records exist for the durable log; downstream
			// consumers only see open/close/liquidate transitions.
			if evt.EventType() == event.TypePositionResized {
				continue
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can rebuild from the
				// event log in Postgres.
				log.Printf("WARN: outbound publish failed key=%s: %v", evt.IdempotencyKey(), err)
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(evt.EventType().String()).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(wirePayload(evt))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var subject string
	switch evt.EventType() {
	case event.TypePositionOpened:
		subject = "margin.positions.opened"
	case event.TypePositionClosed:
		subject = "margin.positions.closed"
	case event.TypePositionLiquidated:
		subject = "margin.positions.liquidated"
	default:
		return fmt.Errorf("unpublishable event type %v", evt.EventType())
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// wirePayload converts an event to its JSON wire form. Fixed-point values
// go out as decimal strings, never raw scaled integers.
func wirePayload(evt event.Event) any {
	switch e := evt.(type) {
	case *event.PositionOpened:
		return openedJSON{
			IdempotencyKey: e.IdempotencyKey(),
			TraderID:       e.TraderID.String(),
			Size:           e.Size.String(),
			Collateral:     e.Collateral.String(),
			MarkPrice:      e.MarkPrice.String(),
			Sequence:       e.Sequence,
			TimestampUs:    e.Timestamp.UnixMicro(),
		}
	case *event.PositionClosed:
		return closedJSON{
			IdempotencyKey: e.IdempotencyKey(),
			TraderID:       e.TraderID.String(),
			Sequence:       e.Sequence,
			TimestampUs:    e.Timestamp.UnixMicro(),
		}
	case *event.PositionLiquidated:
		return liquidatedJSON{
			IdempotencyKey: e.IdempotencyKey(),
			TraderID:       e.TraderID.String(),
			Seized:         e.Seized.String(),
			MarkPrice:      e.MarkPrice.String(),
			Sequence:       e.Sequence,
			TimestampUs:    e.Timestamp.UnixMicro(),
		}
	default:
		return nil
	}
}

type openedJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	TraderID       string `json:"trader_id"`
	Size           string `json:"size"`
	Collateral     string `json:"collateral"`
	MarkPrice      string `json:"mark_price"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

type closedJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	TraderID       string `json:"trader_id"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

type liquidatedJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	TraderID       string `json:"trader_id"`
	Seized         string `json:"seized"`
	MarkPrice      string `json:"mark_price"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARGIN_POSITIONS",
		Subjects:  []string{"margin.positions.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream MARGIN_POSITIONS")
	return nil
}
