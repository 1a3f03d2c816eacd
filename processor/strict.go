package processor

import (
	"context"
	"sync"
	"time"

	"github.com/c360/deltastream/errors"
	"github.com/c360/deltastream/freshq"
	"github.com/c360/deltastream/zset"
)

// strictQueue is an unbounded FIFO source. It never drops: a caller wanting
// backpressure must use PushAndWait against an external bound. Sustained
// overload grows the queue without limit; that is the strict variant's
// documented trade, not an oversight.
type strictQueue[T any] struct {
	mu      sync.Mutex
	items   []freshq.Message[T]
	nextSeq uint64
	closed  bool
	maxLag  time.Duration

	// notify wakes the consumer; 1-buffered so producers never block
	notify chan struct{}
}

func newStrictQueue[T any]() *strictQueue[T] {
	return &strictQueue[T]{
		notify: make(chan struct{}, 1),
	}
}

func (q *strictQueue[T]) enqueue(payload T, idempotencyKey string) (uint64, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, errors.WrapInvalid(errors.ErrQueueClosed, "strictQueue", "enqueue", "enqueue after close")
	}

	q.nextSeq++
	msg := freshq.Message[T]{
		Seq:            q.nextSeq,
		Payload:        payload,
		EnqueuedAt:     time.Now(),
		IdempotencyKey: idempotencyKey,
	}
	q.items = append(q.items, msg)
	q.observeLagLocked()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return msg.Seq, nil
}

func (q *strictQueue[T]) dequeue(ctx context.Context, maxCount int, timeout time.Duration) ([]freshq.Message[T], error) {
	if maxCount <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := maxCount
			if n > len(q.items) {
				n = len(q.items)
			}
			batch := make([]freshq.Message[T], n)
			copy(batch, q.items[:n])
			q.items = q.items[n:]
			q.observeLagLocked()
			q.mu.Unlock()
			return batch, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, errors.WrapInvalid(errors.ErrQueueClosed, "strictQueue", "dequeue", "queue closed")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
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

// requeue puts a failed batch back at the tail with its original sequence
// numbers. Retried messages therefore reappear after anything pushed in the
// meantime; per-batch sorting restores order within a drained batch only.
func (q *strictQueue[T]) requeue(msgs []freshq.Message[T]) bool {
	q.mu.Lock()
	q.items = append(q.items, msgs...)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *strictQueue[T]) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *strictQueue[T]) lag() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	return time.Since(q.items[0].EnqueuedAt)
}

func (q *strictQueue[T]) stats() freshq.Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return freshq.Stats{
		Depth:   len(q.items),
		LastSeq: q.nextSeq,
		MaxLag:  q.maxLag,
	}
}

func (q *strictQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// observeLagLocked folds current lag into the watermark; caller holds q.mu.
func (q *strictQueue[T]) observeLagLocked() {
	if len(q.items) == 0 {
		return
	}
	if lag := time.Since(q.items[0].EnqueuedAt); lag > q.maxLag {
		q.maxLag = lag
	}
}

// NewStrict creates a strict-ordering processor backed by an unbounded FIFO.
// It never drops data; transform failures re-enqueue the batch for
// at-least-once retry.
func NewStrict[T, R any](
	name string,
	key zset.KeyFunc[T],
	transform Transform[T, R],
	cfg Config,
	opts ...Option[T, R],
) (*Processor[T, R], error) {
	return newProcessor(name, key, transform, cfg, newStrictQueue[T](), opts...)
}
