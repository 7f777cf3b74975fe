package engine

import (
	"container/list"
	"sync"
)

// DBDedupChecker is the Postgres-backed second tier of the duplicate
// lookup. Implemented by the persistence layer. RecordRequest makes a
// processed request durable so a restart with a cold LRU still dedupes.
type DBDedupChecker interface {
	SeenRequest(requestID string) (bool, error)
	RecordRequest(requestID string) error
}

// dedupTier identifies which tier caught a duplicate, for metrics labels.
type dedupTier string

const (
	dedupTierLRU dedupTier = "lru"
	dedupTierDB  dedupTier = "postgres"
)

// Deduper is the two-tier request deduplicator: an in-memory LRU in front
// of a Postgres lookup. Unlike the store's per-trader locks this is a
// single shared structure, so it carries its own mutex.
type Deduper struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	order    *list.List

	db DBDedupChecker
}

func NewDeduper(capacity int, db DBDedupChecker) *Deduper {
	return &Deduper{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		db:       db,
	}
}

// IsDuplicate reports whether the request ID has been seen, checking the
// LRU first and falling back to the database. A database error is treated
// as not-a-duplicate so a DB outage cannot stall trade processing; the
// event log's unique constraint is the backstop.
func (d *Deduper) IsDuplicate(requestID string) (bool, dedupTier) {
	d.mu.Lock()
	if elem, ok := d.cache[requestID]; ok {
		d.order.MoveToFront(elem)
		d.mu.Unlock()
		return true, dedupTierLRU
	}
	d.mu.Unlock()

	if d.db != nil {
		seen, err := d.db.SeenRequest(requestID)
		if err == nil && seen {
			d.add(requestID)
			return true, dedupTierDB
		}
	}
	return false, ""
}

// MarkProcessed records the request ID after successful processing, in the
// LRU and best-effort in the database. A failed durable write narrows the
// dedup window to the LRU until the next successful write.
func (d *Deduper) MarkProcessed(requestID string) {
	d.add(requestID)
	if d.db != nil {
		_ = d.db.RecordRequest(requestID)
	}
}

// Warm preloads recent request IDs, typically from the event log on
// startup, so recently processed requests never hit the cold path.
func (d *Deduper) Warm(requestIDs []string) {
	for _, id := range requestIDs {
		d.add(id)
	}
}

// Size returns the current LRU occupancy.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

func (d *Deduper) add(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.cache[requestID]; ok {
		d.order.MoveToFront(elem)
		return
	}
	elem := d.order.PushFront(requestID)
	d.cache[requestID] = elem

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.cache, oldest.Value.(string))
		}
	}
}
