// Package hoptab tracks an inferred hop count to each peer the diverter has
// observed a SYN/ACK from, so fake_autottl can pick a TTL that expires
// before reaching the real server without a user-supplied value. The table
// is small and bounded by construction: 128 entries, linear scan, LRU
// eviction by last-seen time. At this size a linear scan beats a map's
// hashing overhead and needs no resizing logic.
package hoptab

import (
	"sync"
	"time"
)

// Capacity is the fixed number of peers the table remembers at once.
const Capacity = 128

// referenceHops are the TTL values real stacks most commonly start a
// segment at. Inference rounds an observed TTL up to the nearest one of
// these and reports the difference as the hop count.
var referenceHops = [...]uint8{64, 128, 255}

// InferHops returns the number of hops a segment observed with TTL
// observedTTL is estimated to have crossed, assuming it started from the
// nearest reference value at or above observedTTL.
func InferHops(observedTTL uint8) uint8 {
	for _, r := range referenceHops {
		if observedTTL <= r {
			return r - observedTTL
		}
	}
	// observedTTL > 255 cannot happen for a uint8, so this is unreachable;
	// kept for an exhaustive switch-like feel without a panic.
	return 0
}

type entry struct {
	peer     string
	hops     uint8
	lastSeen time.Time
	used     bool
}

// Table is a bounded, mutex-guarded map from peer address to inferred hop
// count.
type Table struct {
	mu      sync.Mutex
	entries [Capacity]entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Observe records that a SYN/ACK from peer arrived with observedTTL,
// inferring and storing its hop count. If peer is already present, its
// entry is refreshed in place; otherwise a free slot is used, or — when the
// table is full — the least-recently-seen entry is evicted.
func (t *Table) Observe(peer string, observedTTL uint8) uint8 {
	hops := InferHops(observedTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	for i := range t.entries {
		if t.entries[i].used && t.entries[i].peer == peer {
			t.entries[i].hops = hops
			t.entries[i].lastSeen = now
			return hops
		}
	}

	for i := range t.entries {
		if !t.entries[i].used {
			t.entries[i] = entry{peer: peer, hops: hops, lastSeen: now, used: true}
			return hops
		}
	}

	oldest := 0
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].lastSeen.Before(t.entries[oldest].lastSeen) {
			oldest = i
		}
	}
	t.entries[oldest] = entry{peer: peer, hops: hops, lastSeen: now, used: true}
	return hops
}

// Lookup returns the inferred hop count for peer and whether it is present.
func (t *Table) Lookup(peer string) (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].used && t.entries[i].peer == peer {
			return t.entries[i].hops, true
		}
	}
	return 0, false
}

// Len reports the number of occupied entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.entries {
		if t.entries[i].used {
			n++
		}
	}
	return n
}
