// Package buffer provides a generic, thread-safe ring buffer used to
// decouple bursty ingest sockets from downstream publishing.
package buffer

import (
	"sync"

	"github.com/siffror/iiot-machine-health/errors"
)

// OverflowPolicy defines how a full ring handles new writes.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when the ring is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// Stats exposes counters for observability. All counters are cumulative
// over the ring's lifetime.
type Stats struct {
	Written uint64
	Read    uint64
	Dropped uint64
}

// Ring is a fixed-capacity circular buffer. All methods are safe for
// concurrent use.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	policy   OverflowPolicy
	stats    Stats
	closed   bool
}

// NewRing creates a ring with the given capacity and overflow policy.
func NewRing[T any](capacity int, policy OverflowPolicy) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Ring", "NewRing", "capacity must be positive")
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
	}, nil
}

// Write adds an item according to the overflow policy. It returns an
// error only when the ring is closed; dropped items are counted, not
// errors, since drops are an expected backpressure outcome.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Ring", "Write", "buffer closed")
	}

	if r.size == r.capacity {
		switch r.policy {
		case DropOldest:
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			r.stats.Dropped++
		case DropNewest:
			r.stats.Dropped++
			return nil
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Written++
	return nil
}

// Read removes and returns the oldest item. The second return value is
// false when the ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Read++
	return item, true
}

// ReadBatch removes and returns up to max items, oldest first.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max <= 0 || r.size == 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	var zero T
	batch := make([]T, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
	}
	r.size -= n
	r.stats.Read += uint64(n)
	return batch
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Utilization returns the fill ratio in [0,1], for backpressure gauges.
func (r *Ring[T]) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.size) / float64(r.capacity)
}

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close marks the ring closed. Buffered items remain readable; further
// writes fail.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
