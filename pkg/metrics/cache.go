package metrics

import (
	"sync"
	"time"
)

// Snapshot is one point-in-time aggregate pushed into the ring.
type Snapshot struct {
	Timestamp time.Time
	Totals    Totals
}

// WriteEvent is one pending upsert destined for persistence. Counts
// and usage must be deltas since the last event for the same (Date,
// Model) pair — UpsertBatch sums on conflict, so re-sending the same
// line twice double-counts it.
type WriteEvent struct {
	Date              string
	Model             string
	Usage             Usage
	Cost              Cost
	MessageCount      int
	ConversationCount int
}

// DefaultRingCapacity and DefaultPendingCapacity match spec defaults.
const (
	DefaultRingCapacity    = 1000
	DefaultPendingCapacity = 100
)

// Cache holds the in-memory snapshot ring and pending-write buffer
// that sit between the log parser and persistence. All methods are
// safe for concurrent use.
type Cache struct {
	ringMu   sync.RWMutex
	ring     []Snapshot
	ringCap  int

	pendingMu  sync.Mutex
	pending    []WriteEvent
	pendingCap int
}

// NewCache constructs a Cache. A zero capacity falls back to the
// package default.
func NewCache(ringCap, pendingCap int) *Cache {
	if ringCap <= 0 {
		ringCap = DefaultRingCapacity
	}
	if pendingCap <= 0 {
		pendingCap = DefaultPendingCapacity
	}
	return &Cache{
		ring:       make([]Snapshot, 0, ringCap),
		ringCap:    ringCap,
		pending:    make([]WriteEvent, 0, pendingCap),
		pendingCap: pendingCap,
	}
}

// Update pushes a snapshot onto the ring, dropping the oldest entry
// when the ring is full.
func (c *Cache) Update(snap Snapshot) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	if len(c.ring) >= c.ringCap {
		c.ring = append(c.ring[1:], snap)
		return
	}
	c.ring = append(c.ring, snap)
}

// GetLatest returns the most recently pushed snapshot, or the zero
// value and false if the ring is empty.
func (c *Cache) GetLatest() (Snapshot, bool) {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()

	if len(c.ring) == 0 {
		return Snapshot{}, false
	}
	return c.ring[len(c.ring)-1], true
}

// GetRange returns snapshots with Timestamp in [start, end], in
// insertion order.
func (c *Cache) GetRange(start, end time.Time) []Snapshot {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()

	out := make([]Snapshot, 0)
	for _, s := range c.ring {
		if (s.Timestamp.Equal(start) || s.Timestamp.After(start)) &&
			(s.Timestamp.Equal(end) || s.Timestamp.Before(end)) {
			out = append(out, s)
		}
	}
	return out
}

// GetAll returns every snapshot currently in the ring, in insertion
// order.
func (c *Cache) GetAll() []Snapshot {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()

	out := make([]Snapshot, len(c.ring))
	copy(out, c.ring)
	return out
}

// QueueWrite appends a pending write event. needsFlush reports
// whether the buffer has reached capacity and should be drained.
func (c *Cache) QueueWrite(event WriteEvent) (needsFlush bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	c.pending = append(c.pending, event)
	return len(c.pending) >= c.pendingCap
}

// TakePendingWrites atomically drains and returns the pending buffer,
// swapping in a fresh slice so a concurrent QueueWrite is never
// blocked behind the drain.
func (c *Cache) TakePendingWrites() []WriteEvent {
	c.pendingMu.Lock()
	taken := c.pending
	c.pending = make([]WriteEvent, 0, c.pendingCap)
	c.pendingMu.Unlock()
	return taken
}
