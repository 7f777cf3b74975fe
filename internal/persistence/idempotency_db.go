package persistence

import (
	"context"
	"database/sql"
	"time"
)

// RequestLog is the Postgres tier of trade-request deduplication,
// implementing the engine's DBDedupChecker. Lookups carry a short timeout
// so a slow database degrades dedup to the LRU instead of stalling trades.
type RequestLog struct {
	db *sql.DB
}

func NewRequestLog(db *sql.DB) *RequestLog {
	return &RequestLog{db: db}
}

// SeenRequest reports whether the request ID was already processed.
func (rl *RequestLog) SeenRequest(requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := rl.db.QueryRowContext(ctx,
		`SELECT 1 FROM margin.trade_requests WHERE request_id = $1 LIMIT 1`,
		requestID,
	).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordRequest durably marks a request as processed.
func (rl *RequestLog) RecordRequest(requestID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := rl.db.ExecContext(ctx,
		`INSERT INTO margin.trade_requests (request_id, processed_at)
		 VALUES ($1, NOW()) ON CONFLICT (request_id) DO NOTHING`,
		requestID,
	)
	return err
}

// RecentRequests returns the most recently processed request IDs, newest
// first, for warming the engine's LRU on startup.
func (rl *RequestLog) RecentRequests(ctx context.Context, limit int) ([]string, error) {
	rows, err := rl.db.QueryContext(ctx,
		`SELECT request_id FROM margin.trade_requests
		 ORDER BY processed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
