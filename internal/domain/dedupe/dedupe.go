// Package dedupe is the front-line filter for redelivered event ids.
//
// It only short-circuits obvious duplicates at ingestion. The authoritative
// idempotency check is the store's conditional update keyed by event id, so a
// false negative here (evicted id) is harmless.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen event IDs.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a rejected event (e.g. queue backpressure) can be resent.
	Unrecord(ctx context.Context, id string)

	// Reset forgets every id. Used when the competition is reset.
	Reset(ctx context.Context)

	Size() int64
}

// inMemoryDeduper keeps ids in a map. In bounded mode a ring of slots
// remembers insertion order and the oldest id is evicted first.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // id -> ring slot, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int // <= 0 means unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if d.maxSize <= 0 {
		d.seen[id] = -1
		d.size.Add(1)
		return false
	}

	// Evict whatever occupies the next slot.
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
		d.size.Add(-1)
	}
	d.ring[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[id]
	if !ok {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		d.ring[slot] = ""
	}
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Reset(_ context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(d.seen)
	for i := range d.ring {
		d.ring[i] = ""
	}
	d.next = 0
	d.size.Store(0)
}

// Size returns the current number of remembered ids.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
