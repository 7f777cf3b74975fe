package ingestion

import (
	"context"
	"log"

	"MarginCore/internal/engine"
	"MarginCore/internal/event"
)

// Loop drains the raw event channel, parses each message, and dispatches
// it to the engine. It owns the ack/nak decision: parse failures and
// business rejects are final (ack, no redelivery); infrastructure errors
// nak so JetStream redelivers.
type Loop struct {
	engine *engine.Engine
	events <-chan RawEvent
}

func NewLoop(eng *engine.Engine, events <-chan RawEvent) *Loop {
	return &Loop{engine: eng, events: events}
}

// Run blocks until the context is cancelled or the channel closes.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-l.events:
			if !ok {
				return nil
			}
			l.dispatch(ctx, raw)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, raw RawEvent) {
	switch raw.Kind {
	case "TradeRequest":
		req, err := ParseTradeRequest(raw.Data)
		if err != nil {
			// Malformed payload: redelivery cannot fix it.
			log.Printf("WARN: dropping unparseable trade request on %s: %v", raw.Subject, err)
			raw.AckFunc()
			return
		}
		if _, err := l.engine.Process(ctx, req); err != nil {
			if _, rejected := event.KindOf(err); rejected {
				// Business reject: final outcome, already counted and
				// logged by the engine.
				raw.AckFunc()
				return
			}
			raw.NakFunc()
			return
		}
		raw.AckFunc()

	case "MarkPriceUpdate":
		upd, err := ParseMarkPriceUpdate(raw.Data)
		if err != nil {
			log.Printf("WARN: dropping unparseable mark price on %s: %v", raw.Subject, err)
			raw.AckFunc()
			return
		}
		// The sweep is in-memory and cannot fail; every accepted update
		// is final.
		l.engine.HandleMarkPrice(upd)
		raw.AckFunc()

	default:
		log.Printf("WARN: unknown message kind %q on %s", raw.Kind, raw.Subject)
		raw.AckFunc()
	}
}
