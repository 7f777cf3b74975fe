package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarginCore/internal/event"
)

// FeedSource is an in-memory Source fed by streamed mark-price updates.
// Per-asset price sequences are monotonic: stale or duplicate updates are
// silently ignored (idempotent), gaps are tolerated since a price is a
// snapshot, not a delta.
type FeedSource struct {
	mu     sync.RWMutex
	quotes map[string]feedQuote
}

type feedQuote struct {
	Quote
	sequence int64
}

func NewFeedSource() *FeedSource {
	return &FeedSource{quotes: make(map[string]feedQuote)}
}

// Update ingests a raw mark-price update. Returns true if the quote was
// accepted (newer than the stored sequence).
func (f *FeedSource) Update(upd *event.MarkPriceUpdate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok := f.quotes[upd.Asset]
	if ok && upd.PriceSequence <= current.sequence {
		return false
	}

	f.quotes[upd.Asset] = feedQuote{
		Quote: Quote{
			RawPrice:       upd.RawPrice,
			SourceDecimals: upd.SourceDecimals,
			UpdatedAt:      time.UnixMicro(upd.UpdatedAt),
		},
		sequence: upd.PriceSequence,
	}
	return true
}

func (f *FeedSource) GetQuote(_ context.Context, asset string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[asset]
	if !ok {
		return Quote{}, fmt.Errorf("no quote received for %s", asset)
	}
	return q.Quote, nil
}

// Sequence returns the last accepted price sequence for an asset, 0 if none.
func (f *FeedSource) Sequence(asset string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quotes[asset].sequence
}

// StaticSource returns a fixed quote, for tests and bootstrap tooling.
type StaticSource struct {
	Quote Quote
}

func (s *StaticSource) GetQuote(context.Context, string) (Quote, error) {
	return s.Quote, nil
}
