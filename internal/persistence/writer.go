package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MarginCore/internal/event"
)

// EventLogWriter batch-writes position events to margin.position_events.
// Multi-row INSERT keeps the driver portable; switch to pgx CopyFrom if
// write throughput ever becomes the bottleneck.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in margin.position_events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	TraderID       string
	Payload        []byte // JSON, fixed-point values as decimal strings
	Timestamp      time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// BuildEventRow converts an event into its persisted form. Payloads carry
// the full post-event position state so the log replays into an identical
// book on recovery.
func BuildEventRow(evt event.Event) (EventRow, error) {
	var (
		payload any
		ts      time.Time
		seq     int64
	)
	switch e := evt.(type) {
	case *event.PositionOpened:
		payload = map[string]string{
			"size":              e.Size.String(),
			"collateral":        e.Collateral.String(),
			"mark_price":        e.MarkPrice.String(),
			"liquidation_price": e.LiquidationPrice.String(),
			"version":           fmt.Sprintf("%d", e.Version),
		}
		ts, seq = e.Timestamp, e.Sequence
	case *event.PositionResized:
		payload = map[string]string{
			"size":              e.Size.String(),
			"collateral":        e.Collateral.String(),
			"mark_price":        e.MarkPrice.String(),
			"liquidation_price": e.LiquidationPrice.String(),
			"version":           fmt.Sprintf("%d", e.Version),
		}
		ts, seq = e.Timestamp, e.Sequence
	case *event.PositionClosed:
		payload = map[string]string{
			"version": fmt.Sprintf("%d", e.Version),
		}
		ts, seq = e.Timestamp, e.Sequence
	case *event.PositionLiquidated:
		payload = map[string]string{
			"seized":     e.Seized.String(),
			"mark_price": e.MarkPrice.String(),
			"version":    fmt.Sprintf("%d", e.Version),
		}
		ts, seq = e.Timestamp, e.Sequence
	default:
		return EventRow{}, fmt.Errorf("unpersistable event type %T", evt)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload: %w", err)
	}

	return EventRow{
		Sequence:       seq,
		EventType:      evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
		TraderID:       evt.Trader().String(),
		Payload:        data,
		Timestamp:      ts,
	}, nil
}

// WriteEventBatch writes a batch of rows inside the given transaction.
// Sequences are assigned once by the store and recovery resumes past the
// persisted head, so a sequence collision means the log and the ledger
// have diverged. The write fails loudly instead of silently dropping the
// conflicting rows.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO margin.position_events
		(sequence, event_type, idempotency_key, trader_id, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.TraderID,
			e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(events)) {
		return fmt.Errorf("event log sequence conflict: wrote %d of %d rows in [%d, %d]",
			n, len(events), events[0].Sequence, events[len(events)-1].Sequence)
	}
	return nil
}

// LatestSequence returns the highest persisted event sequence, 0 when the
// log is empty.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM margin.position_events`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// LoadEventsFrom returns up to limit rows with sequence >= fromSequence in
// ascending order.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, trader_id, payload, timestamp
		FROM margin.position_events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.IdempotencyKey,
			&r.TraderID, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
