// Package transport runs the per-transport send/receive loops (UDP, TCP,
// DoT, DoH) that drive an engine.Producer and feed an engine.Consumer.
package transport

import (
	"sync"
	"time"
)

// samplingStride implements sample_predicate(txn_id): only a 1-in-10 slice
// of outstanding queries gets a PendingSendTable entry, bounding the table's
// size under heavy load while still giving the histogram a representative
// cross-section of latencies.
const samplingStride = 10

// PendingSendTable maps a sampled transaction ID to the time its query was
// sent, so a later recv can compute elapsed latency. Entries are removed on
// lookup; an entry that's never claimed (the response never arrives, or
// arrived unsampled) simply ages out when the worker exits.
type PendingSendTable struct {
	mu      sync.Mutex
	entries map[uint16]time.Time
}

// NewPendingSendTable returns an empty table.
func NewPendingSendTable() *PendingSendTable {
	return &PendingSendTable{entries: make(map[uint16]time.Time)}
}

// Sampled reports whether id falls within the sampling slice.
func Sampled(id uint16) bool {
	return id%samplingStride == 1
}

// Record inserts (id, at) if id is sampled; a no-op otherwise.
func (t *PendingSendTable) Record(id uint16, at time.Time) {
	if !Sampled(id) {
		return
	}
	t.mu.Lock()
	t.entries[id] = at
	t.mu.Unlock()
}

// Take removes and returns the send time for id, or ok=false on a miss
// (unsampled send, or a response for a query this table never saw).
func (t *PendingSendTable) Take(id uint16) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return at, ok
}
