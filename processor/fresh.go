package processor

import (
	"context"
	"time"

	"github.com/c360/deltastream/freshq"
	"github.com/c360/deltastream/metric"
	"github.com/c360/deltastream/zset"
)

// FreshConfig extends Config with the bounded-queue settings of the
// freshness variant.
type FreshConfig struct {
	Config `yaml:",inline"`
	// Capacity bounds the queue; overflow evicts the oldest messages.
	Capacity int `yaml:"capacity"`
	// MaxAge bounds staleness; older messages are discarded at dequeue.
	MaxAge time.Duration `yaml:"max_age"`
}

// DefaultFreshConfig returns freshness-variant defaults.
func DefaultFreshConfig() FreshConfig {
	return FreshConfig{
		Config:   DefaultConfig(),
		Capacity: 10000,
		MaxAge:   30 * time.Second,
	}
}

// freshSource adapts freshq.Queue to the scheduler's source interface.
type freshSource[T any] struct {
	q *freshq.Queue[T]
}

func (s *freshSource[T]) enqueue(payload T, idempotencyKey string) (uint64, error) {
	return s.q.EnqueueKeyed(payload, idempotencyKey)
}

func (s *freshSource[T]) dequeue(ctx context.Context, maxCount int, timeout time.Duration) ([]freshq.Message[T], error) {
	return s.q.Dequeue(ctx, maxCount, timeout)
}

// requeue reports false: freshness mode trades completeness for recency, so
// a failed batch is dropped rather than retried against newer data.
func (s *freshSource[T]) requeue([]freshq.Message[T]) bool {
	return false
}

func (s *freshSource[T]) depth() int {
	return s.q.Len()
}

func (s *freshSource[T]) lag() time.Duration {
	return s.q.Lag()
}

func (s *freshSource[T]) stats() freshq.Stats {
	return s.q.Stats()
}

func (s *freshSource[T]) close() {
	s.q.Close()
}

// NewFresh creates a freshness processor backed by a bounded freshness
// queue. Producers are never blocked: overflow evicts the oldest messages
// and stale messages are dropped at dequeue, both reported in Stats.
func NewFresh[T, R any](
	name string,
	key zset.KeyFunc[T],
	transform Transform[T, R],
	cfg FreshConfig,
	opts ...Option[T, R],
) (*Processor[T, R], error) {
	return NewFreshWithRegistry(name, key, transform, cfg, nil, opts...)
}

// NewFreshWithRegistry is NewFresh with queue-level Prometheus metrics
// registered under name in the given registry.
func NewFreshWithRegistry[T, R any](
	name string,
	key zset.KeyFunc[T],
	transform Transform[T, R],
	cfg FreshConfig,
	registry *metric.Registry,
	opts ...Option[T, R],
) (*Processor[T, R], error) {
	qopts := []freshq.Option[T]{
		freshq.WithMaxAge[T](cfg.MaxAge),
	}
	if registry != nil {
		qopts = append(qopts, freshq.WithMetrics[T](registry, name))
		opts = append(opts, WithMetrics[T, R](registry, name))
	}

	q, err := freshq.New(cfg.Capacity, qopts...)
	if err != nil {
		return nil, err
	}

	return newProcessor(name, key, transform, cfg.Config, &freshSource[T]{q: q}, opts...)
}
