package ingestion_test

import (
	"encoding/json"
	"testing"

	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/ingestion"
)

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseTradeRequest(t *testing.T) {
	payload := map[string]any{
		"request_id":       "550e8400-e29b-41d4-a716-446655440000",
		"trader_id":        "660e8400-e29b-41d4-a716-446655440001",
		"asset":            "ETH-USD",
		"collateral_delta": "10000",
		"size_delta":       "-2.5",
		"sequence":         int64(42),
		"timestamp_us":     int64(1700000000000000),
	}

	req, err := ingestion.ParseTradeRequest(marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if req.Asset != "ETH-USD" {
		t.Errorf("asset: got %s, want ETH-USD", req.Asset)
	}
	if !req.CollateralDelta.Equal(fixedpoint.FromUnits(10_000)) {
		t.Errorf("collateral_delta: got %s, want 10000", req.CollateralDelta)
	}
	want, _ := fixedpoint.FromString("-2.5")
	if !req.SizeDelta.Equal(want) {
		t.Errorf("size_delta: got %s, want -2.5", req.SizeDelta)
	}
	if req.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", req.Sequence)
	}
	if req.Key() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("key: got %s", req.Key())
	}
	if req.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", req.Timestamp.UnixMicro())
	}
}

func TestParseTradeRequest_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"bad request_id", map[string]any{
			"request_id": "nope", "trader_id": "660e8400-e29b-41d4-a716-446655440001",
			"asset": "ETH-USD", "collateral_delta": "1", "size_delta": "1",
		}},
		{"bad trader_id", map[string]any{
			"request_id": "550e8400-e29b-41d4-a716-446655440000", "trader_id": "nope",
			"asset": "ETH-USD", "collateral_delta": "1", "size_delta": "1",
		}},
		{"missing asset", map[string]any{
			"request_id":       "550e8400-e29b-41d4-a716-446655440000",
			"trader_id":        "660e8400-e29b-41d4-a716-446655440001",
			"collateral_delta": "1", "size_delta": "1",
		}},
		{"bad amount", map[string]any{
			"request_id": "550e8400-e29b-41d4-a716-446655440000",
			"trader_id":  "660e8400-e29b-41d4-a716-446655440001",
			"asset":      "ETH-USD", "collateral_delta": "abc", "size_delta": "1",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ingestion.ParseTradeRequest(marshal(t, tc.payload)); err == nil {
				t.Error("expected parse error")
			}
		})
	}

	if _, err := ingestion.ParseTradeRequest([]byte("{not json")); err == nil {
		t.Error("expected parse error for malformed JSON")
	}
}

func TestParseMarkPriceUpdate(t *testing.T) {
	payload := map[string]any{
		"asset":           "ETH-USD",
		"raw_price":       int64(2000_00000000),
		"source_decimals": 8,
		"price_sequence":  int64(7),
		"timestamp_us":    int64(1700000000000000),
	}

	upd, err := ingestion.ParseMarkPriceUpdate(marshal(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if upd.Asset != "ETH-USD" {
		t.Errorf("asset: got %s", upd.Asset)
	}
	if upd.RawPrice != 2000_00000000 {
		t.Errorf("raw_price: got %d", upd.RawPrice)
	}
	if upd.SourceDecimals != 8 {
		t.Errorf("source_decimals: got %d", upd.SourceDecimals)
	}
	if upd.PriceSequence != 7 {
		t.Errorf("price_sequence: got %d", upd.PriceSequence)
	}
}

func TestParseMarkPriceUpdate_Invalid(t *testing.T) {
	noAsset := map[string]any{"raw_price": int64(1), "source_decimals": 8}
	if _, err := ingestion.ParseMarkPriceUpdate(marshal(t, noAsset)); err == nil {
		t.Error("expected error for missing asset")
	}

	badDecimals := map[string]any{"asset": "ETH-USD", "raw_price": int64(1), "source_decimals": 99}
	if _, err := ingestion.ParseMarkPriceUpdate(marshal(t, badDecimals)); err == nil {
		t.Error("expected error for out-of-range decimals")
	}
}
