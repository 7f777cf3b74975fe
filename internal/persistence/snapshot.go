package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/ledger"
)

// SnapshotManager persists and restores point-in-time copies of the
// position book so a restart replays from the snapshot sequence instead of
// the full event log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of a snapshot. Fixed-point values
// are stored as decimal strings; raw scaled integers never leave the
// process.
type SnapshotData struct {
	Sequence  int64              `json:"sequence"`
	Positions []PositionSnapshot `json:"positions"`

	// StateHash is the hex digest of the position set at Sequence,
	// verified on restore.
	StateHash string    `json:"state_hash"`
	CreatedAt time.Time `json:"created_at"`
}

type PositionSnapshot struct {
	TraderID         string `json:"trader_id"`
	Size             string `json:"size"`
	Collateral       string `json:"collateral"`
	EntryPrice       string `json:"entry_price"`
	LiquidationPrice string `json:"liquidation_price"`
	Version          int64  `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save captures the store's current positions and sequence into
// margin.snapshots.
func (sm *SnapshotManager) Save(ctx context.Context, store *ledger.Store) error {
	seq := store.Sequence()
	positions := store.Snapshot()
	digest := ledger.StateDigest(positions, seq)

	snap := SnapshotData{
		Sequence:  seq,
		StateHash: hex.EncodeToString(digest[:]),
		CreatedAt: time.Now(),
	}
	for _, pos := range positions {
		snap.Positions = append(snap.Positions, PositionSnapshot{
			TraderID:         pos.TraderID.String(),
			Size:             pos.Size.String(),
			Collateral:       pos.Collateral.String(),
			EntryPrice:       pos.EntryPrice.String(),
			LiquidationPrice: pos.LiquidationPrice.String(),
			Version:          pos.Version,
		})
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO margin.snapshots (snapshot_id, sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Sequence, data, len(data), snap.CreatedAt)
	return err
}

// LoadLatest restores the most recent snapshot into the store. Returns the
// snapshot sequence, or 0 with no error on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context, store *ledger.Store) (int64, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM margin.snapshots ORDER BY sequence DESC LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	positions := make([]ledger.Position, 0, len(snap.Positions))
	for _, ps := range snap.Positions {
		pos, err := restorePosition(ps)
		if err != nil {
			return 0, fmt.Errorf("snapshot position %s: %w", ps.TraderID, err)
		}
		positions = append(positions, pos)
	}

	if snap.StateHash != "" {
		digest := ledger.StateDigest(positions, snap.Sequence)
		if got := hex.EncodeToString(digest[:]); got != snap.StateHash {
			return 0, fmt.Errorf("snapshot digest mismatch at sequence %d: stored %s, computed %s",
				snap.Sequence, snap.StateHash, got)
		}
	}

	store.Restore(positions, snap.Sequence)
	return snap.Sequence, nil
}

func restorePosition(ps PositionSnapshot) (ledger.Position, error) {
	traderID, err := uuid.Parse(ps.TraderID)
	if err != nil {
		return ledger.Position{}, fmt.Errorf("parse trader_id: %w", err)
	}

	var pos ledger.Position
	pos.TraderID = traderID
	pos.Version = ps.Version

	for _, f := range []struct {
		src string
		dst *fixedpoint.Dec
	}{
		{ps.Size, &pos.Size},
		{ps.Collateral, &pos.Collateral},
		{ps.EntryPrice, &pos.EntryPrice},
		{ps.LiquidationPrice, &pos.LiquidationPrice},
	} {
		d, err := fixedpoint.FromString(f.src)
		if err != nil {
			return ledger.Position{}, err
		}
		*f.dst = d
	}
	return pos, nil
}
