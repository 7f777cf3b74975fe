package oracle

import (
	"context"
	"sync"
	"time"

	"MarginCore/internal/event"
	"MarginCore/internal/fixedpoint"
)

// DefaultMaxPriceAge is the freshness threshold: quotes older than this are
// rejected as stale.
const DefaultMaxPriceAge = time.Hour

// Quote is a transient raw price from an external source. Not persisted.
type Quote struct {
	RawPrice       int64 // Source precision, signed
	SourceDecimals uint8
	UpdatedAt      time.Time
}

// Source is the price source collaborator consumed by the engine.
type Source interface {
	GetQuote(ctx context.Context, asset string) (Quote, error)
}

// Registry maps assets to their registered price sources. Registration is
// external configuration; the engine only reads it. Who may register a
// source is the operator's concern, not enforced here.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) RegisterSource(asset string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[asset] = src
}

func (r *Registry) source(asset string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[asset]
	return src, ok
}

// Normalizer converts raw quotes of arbitrary decimal precision into engine
// prices and enforces validity and staleness rules. It has no side effects
// and is canonically invoked once per pre-trade and once per post-trade
// phase, with potentially different live quotes.
type Normalizer struct {
	registry *Registry
	maxAge   time.Duration
}

func NewNormalizer(registry *Registry, maxAge time.Duration) *Normalizer {
	if maxAge <= 0 {
		maxAge = DefaultMaxPriceAge
	}
	return &Normalizer{registry: registry, maxAge: maxAge}
}

// Normalize scales a raw quote to an 18-decimal engine price, truncating on
// precision loss.
func (n *Normalizer) Normalize(q Quote, now time.Time) (fixedpoint.Dec, error) {
	if q.RawPrice <= 0 {
		return fixedpoint.Zero(), event.Rejectf(event.RejectInvalidPriceFeed,
			"non-positive price %d", q.RawPrice)
	}
	if age := now.Sub(q.UpdatedAt); age > n.maxAge {
		return fixedpoint.Zero(), event.Rejectf(event.RejectStalePrice,
			"quote age %s exceeds %s", age, n.maxAge)
	}
	return fixedpoint.ScaleFromDecimals(q.RawPrice, q.SourceDecimals), nil
}

// Latest fetches the registered source's current quote for an asset and
// normalizes it.
func (n *Normalizer) Latest(ctx context.Context, asset string, now time.Time) (fixedpoint.Dec, error) {
	src, ok := n.registry.source(asset)
	if !ok {
		return fixedpoint.Zero(), event.Rejectf(event.RejectInvalidPriceFeed,
			"no source registered for %s", asset)
	}
	q, err := src.GetQuote(ctx, asset)
	if err != nil {
		return fixedpoint.Zero(), event.Rejectf(event.RejectInvalidPriceFeed,
			"source for %s: %v", asset, err)
	}
	return n.Normalize(q, now)
}
