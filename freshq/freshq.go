// Package freshq provides a bounded queue that trades completeness for
// freshness: capacity overflow evicts the oldest messages and dequeue
// discards messages older than a configured maximum age. Memory and
// staleness are bounded deterministically by sacrificing completeness; the
// drops are reported, not hidden.
//
// Sequence numbers are assigned at enqueue time, strictly increasing per
// queue instance, and are the sole ordering authority. Wall-clock timestamps
// are used only for staleness and lag computation, never for ordering.
package freshq

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/deltastream/errors"
	"github.com/c360/deltastream/metric"
	"github.com/c360/deltastream/pkg/ringbuf"
)

// Message is one timestamped queue entry.
type Message[T any] struct {
	Seq            uint64
	Payload        T
	EnqueuedAt     time.Time
	IdempotencyKey string
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth           int
	Capacity        int
	LastSeq         uint64
	DroppedOverflow int64
	DroppedStale    int64
	MaxLag          time.Duration
}

// Option configures queue behavior.
type Option[T any] func(*Queue[T])

// WithMaxAge sets the maximum message age. Messages older than maxAge are
// discarded (as stale drops) instead of being returned by Dequeue. Zero
// disables age-based eviction.
func WithMaxAge[T any](maxAge time.Duration) Option[T] {
	return func(q *Queue[T]) {
		q.maxAge = maxAge
	}
}

// WithMetrics enables Prometheus metrics export for the underlying ring.
func WithMetrics[T any](registry *metric.Registry, prefix string) Option[T] {
	return func(q *Queue[T]) {
		q.metricsReg = registry
		q.metricsPrefix = prefix
	}
}

// Queue is a bounded, freshness-aware FIFO of timestamped messages.
// Safe for concurrent producers; designed for a single consumer.
type Queue[T any] struct {
	mu   sync.Mutex
	ring *ringbuf.Ring[Message[T]]

	maxAge  time.Duration
	nextSeq uint64 // owned by this instance, never process-global
	closed  bool

	// notify wakes the consumer; 1-buffered so producers never block on it
	notify chan struct{}

	droppedOverflow int64 // atomic
	droppedStale    int64 // atomic
	maxLagNanos     int64 // atomic, max observed lag

	metricsReg    *metric.Registry
	metricsPrefix string
}

// New creates a freshness queue with the given capacity.
func New[T any](capacity int, options ...Option[T]) (*Queue[T], error) {
	q := &Queue[T]{
		notify: make(chan struct{}, 1),
	}
	for _, opt := range options {
		if opt != nil {
			opt(q)
		}
	}

	ringOpts := []ringbuf.Option[Message[T]]{
		ringbuf.WithEvictCallback[Message[T]](func(Message[T]) {
			atomic.AddInt64(&q.droppedOverflow, 1)
		}),
	}
	if q.metricsReg != nil && q.metricsPrefix != "" {
		ringOpts = append(ringOpts, ringbuf.WithMetrics[Message[T]](q.metricsReg, q.metricsPrefix))
	}

	ring, err := ringbuf.New(capacity, ringOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Queue", "New", "ring creation")
	}
	q.ring = ring

	return q, nil
}

// Enqueue assigns the next sequence number and the current timestamp, then
// pushes the message. The oldest message may be evicted for capacity,
// reported as an overflow drop. Returns the assigned sequence number.
func (q *Queue[T]) Enqueue(payload T) (uint64, error) {
	return q.EnqueueKeyed(payload, "")
}

// EnqueueKeyed is Enqueue with an idempotency key carried on the message.
// The queue itself does not deduplicate; that is the processor's concern.
func (q *Queue[T]) EnqueueKeyed(payload T, idempotencyKey string) (uint64, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, errors.WrapInvalid(errors.ErrQueueClosed, "Queue", "Enqueue", "enqueue after close")
	}

	q.nextSeq++
	msg := Message[T]{
		Seq:            q.nextSeq,
		Payload:        payload,
		EnqueuedAt:     time.Now(),
		IdempotencyKey: idempotencyKey,
	}
	q.ring.Push(msg)
	q.observeLag()
	q.mu.Unlock()

	// Wake the consumer without ever blocking the producer
	select {
	case q.notify <- struct{}{}:
	default:
	}

	return msg.Seq, nil
}

// Dequeue waits up to timeout for at least one message, then pops up to
// maxCount oldest messages, discarding as stale any whose age exceeds the
// configured max age, and returns the survivors sorted by sequence.
// A timeout returns an empty batch and no error.
func (q *Queue[T]) Dequeue(ctx context.Context, maxCount int, timeout time.Duration) ([]Message[T], error) {
	if maxCount <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		batch, closed := q.drain(maxCount)
		if closed {
			return batch, errors.WrapInvalid(errors.ErrQueueClosed, "Queue", "Dequeue", "queue closed")
		}
		if len(batch) > 0 {
			return batch, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil // empty result, not an error
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
			timer.Stop()
		}
	}
}

// drain pops up to maxCount messages and filters stale ones. Returns the
// surviving batch and whether the queue is closed.
func (q *Queue[T]) drain(maxCount int) ([]Message[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed && q.ring.IsEmpty() {
		return nil, true
	}

	q.observeLag()

	popped := q.ring.PopBatch(maxCount)
	if len(popped) == 0 {
		return nil, false
	}

	now := time.Now()
	survivors := popped[:0]
	for _, msg := range popped {
		if q.maxAge > 0 && now.Sub(msg.EnqueuedAt) > q.maxAge {
			atomic.AddInt64(&q.droppedStale, 1)
			continue
		}
		survivors = append(survivors, msg)
	}

	// FIFO already orders by seq; sort anyway so the contract does not
	// depend on ring internals.
	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Seq < survivors[j].Seq
	})

	return survivors, false
}

// DropStale proactively evicts messages older than age from the front of
// the queue without waiting for a dequeue. Returns the number dropped.
func (q *Queue[T]) DropStale(age time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	dropped := 0
	for {
		msg, ok := q.ring.Peek()
		if !ok || now.Sub(msg.EnqueuedAt) <= age {
			break
		}
		q.ring.Pop()
		atomic.AddInt64(&q.droppedStale, 1)
		dropped++
	}
	return dropped
}

// Lag returns now minus the oldest retained timestamp, 0 if empty.
func (q *Queue[T]) Lag() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lagLocked()
}

// IsLagging reports whether the current lag exceeds threshold.
func (q *Queue[T]) IsLagging(threshold time.Duration) bool {
	return q.Lag() > threshold
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	return q.ring.Len()
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.ring.Cap()
}

// Stats returns a snapshot of queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	lastSeq := q.nextSeq
	depth := q.ring.Len()
	q.mu.Unlock()

	return Stats{
		Depth:           depth,
		Capacity:        q.ring.Cap(),
		LastSeq:         lastSeq,
		DroppedOverflow: atomic.LoadInt64(&q.droppedOverflow),
		DroppedStale:    atomic.LoadInt64(&q.droppedStale),
		MaxLag:          time.Duration(atomic.LoadInt64(&q.maxLagNanos)),
	}
}

// Close marks the queue closed. Pending messages remain drainable; new
// enqueues fail. The consumer is woken so it can observe the close.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// lagLocked computes current lag; caller holds q.mu.
func (q *Queue[T]) lagLocked() time.Duration {
	msg, ok := q.ring.Peek()
	if !ok {
		return 0
	}
	return time.Since(msg.EnqueuedAt)
}

// observeLag folds the current lag into the max-lag watermark; caller holds q.mu.
func (q *Queue[T]) observeLag() {
	lag := int64(q.lagLocked())
	for {
		cur := atomic.LoadInt64(&q.maxLagNanos)
		if lag <= cur || atomic.CompareAndSwapInt64(&q.maxLagNanos, cur, lag) {
			return
		}
	}
}
