package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/ledger"
	"MarginCore/internal/oracle"
)

// QueryService provides read-only access to engine state. Live position
// data comes from the in-memory store, which is the single source of
// truth; the persisted event log only backs history queries. All
// responses include as_of_sequence for freshness semantics.
type QueryService struct {
	store      *ledger.Store
	normalizer *oracle.Normalizer
	feed       *oracle.FeedSource
	db         *sql.DB // nil disables history queries
}

func NewQueryService(store *ledger.Store, normalizer *oracle.Normalizer, feed *oracle.FeedSource, db *sql.DB) *QueryService {
	return &QueryService{store: store, normalizer: normalizer, feed: feed, db: db}
}

// GetPosition returns a trader's current position. Unknown traders get a
// flat zero position rather than an error.
func (qs *QueryService) GetPosition(trader uuid.UUID) PositionResponse {
	pos := qs.store.Get(trader)
	return positionResponse(pos, qs.store.Sequence())
}

// ListPositions returns all open positions, ordered by trader ID for
// stable pagination-free output. Flat positions are excluded.
func (qs *QueryService) ListPositions() []PositionResponse {
	asOfSeq := qs.store.Sequence()

	open := qs.openPositions()
	sort.Slice(open, func(i, j int) bool {
		return open[i].TraderID.String() < open[j].TraderID.String()
	})

	out := make([]PositionResponse, 0, len(open))
	for _, pos := range open {
		out = append(out, positionResponse(pos, asOfSeq))
	}
	return out
}

// GetSkew returns the book-wide net position and the open position count.
func (qs *QueryService) GetSkew() SkewResponse {
	asOfSeq := qs.store.Sequence()
	return SkewResponse{
		TotalSkew:     qs.store.TotalSkew().String(),
		OpenPositions: len(qs.openPositions()),
		AsOfSequence:  asOfSeq,
	}
}

func (qs *QueryService) openPositions() []ledger.Position {
	var open []ledger.Position
	for _, pos := range qs.store.Snapshot() {
		if !pos.IsFlat() {
			open = append(open, pos)
		}
	}
	return open
}

// GetPrice returns the latest normalized mark price for an asset. Fails
// if no source is registered, the source has no quote yet, or the quote
// is stale.
func (qs *QueryService) GetPrice(ctx context.Context, asset string) (*PriceResponse, error) {
	price, err := qs.normalizer.Latest(ctx, asset, time.Now())
	if err != nil {
		return nil, err
	}
	resp := &PriceResponse{
		Asset: asset,
		Price: price.String(),
	}
	if qs.feed != nil {
		resp.PriceSequence = qs.feed.Sequence(asset)
		if q, qerr := qs.feed.GetQuote(ctx, asset); qerr == nil {
			resp.UpdatedAt = q.UpdatedAt
		}
	}
	return resp, nil
}

// GetEventHistory returns persisted position events for a trader, newest
// first, with cursor-based pagination on sequence.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	trader uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]EventHistoryEntry, error) {
	if qs.db == nil {
		return nil, fmt.Errorf("event history unavailable: no database configured")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT sequence, event_type, idempotency_key, trader_id, payload, timestamp
		FROM margin.position_events
		WHERE trader_id = $1
	`
	args := []interface{}{trader}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		var payload []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.TraderID,
			&payload, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload at sequence %d: %w", e.Sequence, err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func positionResponse(pos ledger.Position, asOfSeq int64) PositionResponse {
	return PositionResponse{
		TraderID:         pos.TraderID,
		Size:             pos.Size.String(),
		Collateral:       pos.Collateral.String(),
		EntryPrice:       pos.EntryPrice.String(),
		LiquidationPrice: pos.LiquidationPrice.String(),
		Version:          pos.Version,
		AsOfSequence:     asOfSeq,
	}
}
