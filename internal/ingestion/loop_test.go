package ingestion_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginCore/internal/engine"
	"MarginCore/internal/ingestion"
	"MarginCore/internal/ledger"
	"MarginCore/internal/margin"
	"MarginCore/internal/oracle"
)

// ackRecorder tracks the ack/nak outcome of one raw message.
type ackRecorder struct {
	acked, naked bool
}

func (a *ackRecorder) raw(kind string, data []byte) ingestion.RawEvent {
	return ingestion.RawEvent{
		Kind:    kind,
		Subject: "margin.test",
		Data:    data,
		AckFunc: func() { a.acked = true },
		NakFunc: func() { a.naked = true },
	}
}

func newLoopEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store := ledger.NewStore(margin.DefaultParams(), nil)
	feed := oracle.NewFeedSource()
	registry := oracle.NewRegistry()
	registry.RegisterSource("ETH-USD", feed)
	return engine.New(
		engine.DefaultConfig(),
		store,
		oracle.NewNormalizer(registry, 0),
		feed,
		nil,
		nil,
		nil,
		zerolog.Nop(),
	)
}

func runLoop(t *testing.T, eng *engine.Engine, events ...ingestion.RawEvent) {
	t.Helper()
	ch := make(chan ingestion.RawEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	if err := ingestion.NewLoop(eng, ch).Run(context.Background()); err != nil {
		t.Fatalf("loop run: %v", err)
	}
}

// Every mark price outcome is final: stale sequences, unsweepable quotes,
// and clean sweeps all ack without redelivery.
func TestLoop_MarkPriceAlwaysAcked(t *testing.T) {
	eng := newLoopEngine(t)

	fresh := &ackRecorder{}
	stale := &ackRecorder{}
	payload := marshal(t, map[string]any{
		"asset": "ETH-USD", "raw_price": int64(2000_00000000),
		"source_decimals": 8, "price_sequence": int64(2),
		"timestamp_us": int64(1_700_000_000_000_000),
	})
	stalePayload := marshal(t, map[string]any{
		"asset": "ETH-USD", "raw_price": int64(1900_00000000),
		"source_decimals": 8, "price_sequence": int64(1),
		"timestamp_us": int64(1_700_000_000_000_000),
	})

	runLoop(t, eng,
		fresh.raw("MarkPriceUpdate", payload),
		stale.raw("MarkPriceUpdate", stalePayload),
	)

	for name, rec := range map[string]*ackRecorder{"fresh": fresh, "stale": stale} {
		if !rec.acked || rec.naked {
			t.Errorf("%s update: acked=%v naked=%v, want ack only", name, rec.acked, rec.naked)
		}
	}
}

func TestLoop_UnparseableMessagesAcked(t *testing.T) {
	eng := newLoopEngine(t)

	badTrade := &ackRecorder{}
	badPrice := &ackRecorder{}
	unknown := &ackRecorder{}

	runLoop(t, eng,
		badTrade.raw("TradeRequest", []byte(`{"request_id":"not-a-uuid"}`)),
		badPrice.raw("MarkPriceUpdate", []byte(`not json`)),
		unknown.raw("FundingUpdate", []byte(`{}`)),
	)

	for name, rec := range map[string]*ackRecorder{
		"trade": badTrade, "price": badPrice, "unknown kind": unknown,
	} {
		if !rec.acked || rec.naked {
			t.Errorf("%s: acked=%v naked=%v, want ack only", name, rec.acked, rec.naked)
		}
	}
}

// Business rejects are final outcomes; redelivering the same request
// cannot change the verdict.
func TestLoop_RejectedTradeAcked(t *testing.T) {
	eng := newLoopEngine(t)

	rec := &ackRecorder{}
	payload := marshal(t, map[string]any{
		"request_id":       uuid.NewString(),
		"trader_id":        uuid.NewString(),
		"asset":            "ETH-USD",
		"collateral_delta": "10000",
		"size_delta":       "5",
		"timestamp_us":     int64(1_700_000_000_000_000),
	})

	// No quote in the feed yet, so the engine rejects the trade.
	runLoop(t, eng, rec.raw("TradeRequest", payload))

	if !rec.acked || rec.naked {
		t.Errorf("rejected trade: acked=%v naked=%v, want ack only", rec.acked, rec.naked)
	}
}
