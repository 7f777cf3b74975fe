package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sort"

	"MarginCore/internal/fixedpoint"
)

const digestSeed = "margincore:positions:v1"

// StateDigest computes a deterministic SHA-256 digest over a set of
// positions and the engine sequence. Snapshots store it so a restore can
// detect corrupted or tampered data. Positions are sorted by trader ID
// before hashing, so the digest is independent of iteration order.
func StateDigest(positions []Position, sequence int64) [32]byte {
	sorted := make([]Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].TraderID, sorted[j].TraderID
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	h := sha256.New()
	seed := sha256.Sum256([]byte(digestSeed))
	h.Write(seed[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(sequence))
	h.Write(buf[:])

	for _, pos := range sorted {
		h.Write(pos.TraderID[:])
		writeDec(h, pos.Size)
		writeDec(h, pos.Collateral)
		writeDec(h, pos.EntryPrice)
		writeDec(h, pos.LiquidationPrice)
		binary.LittleEndian.PutUint64(buf[:], uint64(pos.Version))
		h.Write(buf[:])
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// writeDec encodes a Dec unambiguously: sign byte, length-prefixed
// big-endian magnitude.
func writeDec(h io.Writer, d fixedpoint.Dec) {
	raw := d.Raw()

	sign := byte(0)
	if raw.Sign() < 0 {
		sign = 1
	}
	h.Write([]byte{sign})

	mag := raw.Bytes()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(mag)))
	h.Write(lenBuf[:])
	h.Write(mag)
}
