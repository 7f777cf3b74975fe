package event

import "fmt"

// MarkPriceUpdate is an inbound raw quote from the external price source.
// The payload stays in source precision; normalization to engine precision
// happens in the oracle, once per phase.
type MarkPriceUpdate struct {
	Asset          string
	RawPrice       int64 // Source precision, signed (negative/zero is rejected downstream)
	SourceDecimals uint8
	PriceSequence  int64 // Monotonic per asset; gaps tolerated
	UpdatedAt      int64 // Epoch microseconds (versioned input)
}

func (m *MarkPriceUpdate) Key() string {
	return fmt.Sprintf("%s:price:%d", m.Asset, m.PriceSequence)
}
