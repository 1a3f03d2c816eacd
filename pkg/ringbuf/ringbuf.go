// Package ringbuf provides a generic, thread-safe bounded ring buffer.
//
// The buffer always holds a contiguous window of the most recently accepted
// items: Push is O(1) and, when the buffer is full, evicts the oldest item
// (invoking the optional eviction callback) rather than blocking the
// producer. Pop and Peek are O(1) FIFO. Statistics are always collected for
// observability; Prometheus metrics can be enabled via WithMetrics().
package ringbuf

import (
	"sync"

	"github.com/c360/deltastream/metric"
)

// EvictCallback is called with each item evicted to make room for a newer one.
type EvictCallback[T any] func(item T)

// Option configures ring behavior using the functional options pattern.
type Option[T any] func(*ringOptions[T])

type ringOptions[T any] struct {
	evictCallback EvictCallback[T]
	metricsReg    *metric.Registry
	metricsPrefix string
}

// WithEvictCallback sets a callback invoked for every item evicted on
// overflow (and for items discarded by Clear).
func WithEvictCallback[T any](callback EvictCallback[T]) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.evictCallback = callback
	}
}

// WithMetrics enables Prometheus metrics export for ring statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[T any](registry *metric.Registry, prefix string) Option[T] {
	return func(opts *ringOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// Ring is a fixed-capacity FIFO buffer that evicts its oldest item on
// overflow. Safe for concurrent use.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics  // always initialized
	metrics  *ringMetrics // optional Prometheus metrics
	opts     *ringOptions[T]
}

// New creates a ring buffer with the given capacity. Stats are always
// collected; metrics are optional via WithMetrics(). Returns an error only
// if metrics registration fails.
func New[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	opts := &ringOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Push adds an item, evicting the oldest item first when the ring is full.
// The eviction callback, if any, runs after the lock is released.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()

	var evicted T
	var didEvict bool

	if r.size == r.capacity {
		evicted = r.items[r.tail]
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		didEvict = true

		r.stats.Evict()
		if r.metrics != nil {
			r.metrics.recordEvict()
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Push()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordPush(r.size, r.capacity)
	}

	r.mu.Unlock()

	// Callback runs outside the lock to avoid deadlock if it re-enters
	if didEvict && r.opts.evictCallback != nil {
		r.opts.evictCallback(evicted)
	}
}

// Pop removes and returns the oldest item. Returns false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // clear for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Pop()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordPop(r.size, r.capacity)
	}

	return item, true
}

// PopBatch removes and returns up to max oldest items in FIFO order.
func (r *Ring[T]) PopBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Pop()
	}

	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}

	return result
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity // immutable, no lock needed
}

// Utilization returns size/capacity in [0, 1].
func (r *Ring[T]) Utilization() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return float64(r.size) / float64(r.capacity)
}

// Dropped returns the total number of items evicted on overflow.
func (r *Ring[T]) Dropped() int64 {
	return r.stats.Evictions()
}

// IsFull reports whether the ring is at capacity.
func (r *Ring[T]) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == r.capacity
}

// IsEmpty reports whether the ring holds no items.
func (r *Ring[T]) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == 0
}

// Clear removes all items, invoking the eviction callback for each.
func (r *Ring[T]) Clear() {
	r.mu.Lock()

	var dropped []T
	if r.opts.evictCallback != nil && r.size > 0 {
		dropped = make([]T, r.size)
		for i := 0; i < r.size; i++ {
			dropped[i] = r.items[(r.tail+i)%r.capacity]
		}
	}

	var zero T
	for i := 0; i < r.capacity; i++ {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}

	r.mu.Unlock()

	for _, item := range dropped {
		r.opts.evictCallback(item)
	}
}

// Stats returns ring statistics (always available for observability).
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}
