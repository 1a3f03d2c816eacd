// Package processor implements the streaming scheduler that turns a sequence
// of pushed records into windowed Z-set deltas and drives them through a
// user-supplied transform.
//
// Two variants share one scheduler core. The strict processor is backed by
// an unbounded FIFO, never drops, and (by default) sorts every drained batch
// by sequence so emitted batches reflect global push order; a failed
// transform re-enqueues the batch for at-least-once retry. The freshness
// processor is backed by a bounded freshness queue that may drop for
// overflow or staleness, and a failed transform loses that batch. In both
// modes a transiently failing transform is retried in place, per the
// configured retry policy, before the requeue-or-drop decision is made.
//
// Each processor instance runs a single cooperative loop goroutine; flushes
// are serialized through a single-owner mutex so at most one transform runs
// at a time no matter how flush triggers race. The loop survives any
// transform error: a bad batch never terminates the scheduler.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/deltastream/errors"
	"github.com/c360/deltastream/freshq"
	"github.com/c360/deltastream/metric"
	"github.com/c360/deltastream/pkg/dedup"
	"github.com/c360/deltastream/pkg/retry"
	"github.com/c360/deltastream/zset"
)

// Transform is the user-supplied per-batch computation: typically a circuit
// tick or a Z-set/columnar aggregate. It may block (e.g. to call an external
// service); the scheduler never runs two transforms concurrently.
type Transform[T, R any] func(ctx context.Context, delta *zset.ZSet[T]) (R, error)

// SeqRange is the inclusive sequence window a batch covered.
type SeqRange struct {
	First uint64
	Last  uint64
}

// Batch is the result delivered to every output subscriber after a
// successful flush.
type Batch[R any] struct {
	Output         R
	ProcessedCount int
	ProcessingTime time.Duration
	Seqs           SeqRange
}

// OutputFn receives each successfully processed batch.
type OutputFn[R any] func(Batch[R])

// ErrorFn receives transform and subscriber errors. It must not block.
type ErrorFn func(error)

// Config holds scheduler settings shared by both variants.
type Config struct {
	// MaxBatchSize caps how many messages one flush processes.
	MaxBatchSize int `yaml:"max_batch_size"`
	// PollTimeout bounds each wait for queue data.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// StrictOrdering sorts each drained batch by sequence (strict variant).
	StrictOrdering bool `yaml:"strict_ordering"`
	// DedupTTL is the idempotency-key window; 0 retains keys forever.
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	// Retry paces the backoff after transform failures.
	Retry errors.RetryConfig `yaml:"-"`
}

// DefaultConfig returns scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   100,
		PollTimeout:    50 * time.Millisecond,
		StrictOrdering: true,
		DedupTTL:       10 * time.Minute,
		Retry:          errors.DefaultRetryConfig(),
	}
}

// Validate checks config sanity.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_batch_size must be positive")
	}
	if c.PollTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"poll_timeout must be positive")
	}
	return nil
}

// source abstracts the backing queue the two variants differ in.
type source[T any] interface {
	enqueue(payload T, idempotencyKey string) (uint64, error)
	dequeue(ctx context.Context, maxCount int, timeout time.Duration) ([]freshq.Message[T], error)
	// requeue returns false when the source does not support retry
	// (freshness mode drops the batch instead).
	requeue(msgs []freshq.Message[T]) bool
	depth() int
	lag() time.Duration
	stats() freshq.Stats
	close()
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	QueueDepth        int
	PendingBatch      int
	LastProcessedSeq  uint64
	BatchesProcessed  int64
	BatchesFailed     int64
	ItemsProcessed    int64
	DroppedOverflow   int64
	DroppedStale      int64
	DuplicatesSkipped int64
	AvgProcessingTime time.Duration
	MaxLag            time.Duration
}

// subscriber is one registered output callback.
type subscriber[R any] struct {
	token string
	fn    OutputFn[R]
}

// Processor is the shared scheduler core. Construct via NewStrict or
// NewFresh.
type Processor[T, R any] struct {
	name      string
	cfg       Config
	key       zset.KeyFunc[T]
	transform Transform[T, R]
	src       source[T]
	dedup     *dedup.Tracker
	logger    *slog.Logger

	// Lifecycle
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	stopCh      chan struct{}
	doneCh      chan struct{}

	// Serializes transforms: the explicit form of a one-owner flush chain.
	flushMu sync.Mutex

	// flushReq asks the loop for a forced flush; the inner channel reports
	// completion.
	flushReq chan chan error

	// Subscribers; ordered, guarded by subMu.
	subMu       sync.Mutex
	subscribers []subscriber[R]
	errorFns    []ErrorFn

	// Waiters for PushAndWait, keyed by sequence.
	waitMu  sync.Mutex
	waiters map[uint64]chan Batch[R]

	// Pending batch; touched only from within the loop. pendingLen mirrors
	// len(pending) for lock-free Stats reads.
	pending    []freshq.Message[T]
	pendingLen int64

	// Counters (atomic)
	batchesProcessed int64
	batchesFailed    int64
	itemsProcessed   int64
	duplicates       int64
	lastProcessedSeq uint64
	totalProcNanos   int64

	// errLimiter rate-limits error logging so a poison batch cannot flood
	// the log while the loop retries.
	errLimiter *rate.Limiter

	metrics *procMetrics
}

// Option configures a processor instance.
type Option[T, R any] func(*Processor[T, R])

// WithLogger sets the structured logger; defaults to slog.Default().
func WithLogger[T, R any](logger *slog.Logger) Option[T, R] {
	return func(p *Processor[T, R]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithErrorHandler registers a callback for transform and subscriber errors.
func WithErrorHandler[T, R any](fn ErrorFn) Option[T, R] {
	return func(p *Processor[T, R]) {
		if fn != nil {
			p.errorFns = append(p.errorFns, fn)
		}
	}
}

// WithMetrics enables Prometheus metrics export via the given registry.
func WithMetrics[T, R any](registry *metric.Registry, prefix string) Option[T, R] {
	return func(p *Processor[T, R]) {
		if registry != nil && prefix != "" {
			m, err := newProcMetrics(registry, prefix)
			if err != nil {
				// Surface the misconfiguration; do not silently run unmetered
				panic(err)
			}
			p.metrics = m
		}
	}
}

// newProcessor wires the shared core around a source.
func newProcessor[T, R any](
	name string,
	key zset.KeyFunc[T],
	transform Transform[T, R],
	cfg Config,
	src source[T],
	opts ...Option[T, R],
) (*Processor[T, R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transform == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Processor", "New", "nil transform")
	}

	p := &Processor[T, R]{
		name:       name,
		cfg:        cfg,
		key:        key,
		transform:  transform,
		src:        src,
		dedup:      dedup.New(cfg.DedupTTL, 0),
		logger:     slog.Default(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		flushReq:   make(chan chan error),
		waiters:    make(map[uint64]chan Batch[R]),
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.logger = p.logger.With("processor", name, "instance", uuid.NewString())
	return p, nil
}

// PushOption modifies a single push call.
type PushOption func(*pushOptions)

type pushOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey marks the push so a replay with the same key within the
// dedup window is a silent no-op returning no sequence numbers.
func WithIdempotencyKey(key string) PushOption {
	return func(o *pushOptions) {
		o.idempotencyKey = key
	}
}

// Push enqueues one record and returns its assigned sequence number.
// A suppressed duplicate returns an empty slice and no error.
func (p *Processor[T, R]) Push(payload T, opts ...PushOption) ([]uint64, error) {
	return p.PushAll([]T{payload}, opts...)
}

// PushAll enqueues records in order and returns their sequence numbers.
// The idempotency key, if any, covers the whole call: a replay suppresses
// every record in it.
func (p *Processor[T, R]) PushAll(payloads []T, opts ...PushOption) ([]uint64, error) {
	var po pushOptions
	for _, opt := range opts {
		opt(&po)
	}

	if po.idempotencyKey != "" && p.dedup.Seen(po.idempotencyKey) {
		atomic.AddInt64(&p.duplicates, 1)
		return nil, nil // DuplicateSuppressed: a no-op, not an error
	}

	seqs := make([]uint64, 0, len(payloads))
	for _, payload := range payloads {
		seq, err := p.src.enqueue(payload, po.idempotencyKey)
		if err != nil {
			return seqs, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// EnqueueBatch enqueues records without an idempotency key.
func (p *Processor[T, R]) EnqueueBatch(payloads []T) ([]uint64, error) {
	return p.PushAll(payloads)
}

// PushAndWait enqueues one record and blocks until the batch containing it
// has been processed, returning that batch. In freshness mode the record may
// be dropped before processing; bound the wait with ctx.
func (p *Processor[T, R]) PushAndWait(ctx context.Context, payload T, opts ...PushOption) (Batch[R], error) {
	var zero Batch[R]

	ch := make(chan Batch[R], 1)

	// Register the waiter before the push so the flush cannot race past it.
	p.waitMu.Lock()
	seqs, err := func() ([]uint64, error) {
		defer p.waitMu.Unlock()
		seqs, err := p.PushAll([]T{payload}, opts...)
		if err != nil || len(seqs) == 0 {
			return seqs, err
		}
		p.waiters[seqs[0]] = ch
		return seqs, nil
	}()
	if err != nil {
		return zero, err
	}
	if len(seqs) == 0 {
		return zero, nil // duplicate suppressed, nothing to wait for
	}

	select {
	case <-ctx.Done():
		p.waitMu.Lock()
		delete(p.waiters, seqs[0])
		p.waitMu.Unlock()
		return zero, errors.WrapTransient(ctx.Err(), "Processor", "PushAndWait", "wait for batch")
	case batch := <-ch:
		return batch, nil
	}
}

// OnOutput registers an output subscriber, returning its token and an
// unsubscribe function. Subscribers are invoked in registration order.
func (p *Processor[T, R]) OnOutput(fn OutputFn[R]) (string, func()) {
	token := uuid.NewString()

	p.subMu.Lock()
	p.subscribers = append(p.subscribers, subscriber[R]{token: token, fn: fn})
	p.subMu.Unlock()

	unsubscribe := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		for i, s := range p.subscribers {
			if s.token == token {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				return
			}
		}
	}
	return token, unsubscribe
}

// OnError registers an error callback invoked for transform and subscriber
// failures.
func (p *Processor[T, R]) OnError(fn ErrorFn) {
	if fn == nil {
		return
	}
	p.subMu.Lock()
	p.errorFns = append(p.errorFns, fn)
	p.subMu.Unlock()
}

// Start launches the scheduler loop.
func (p *Processor[T, R]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Processor", "Start", "start")
	}
	p.started = true

	go p.run(ctx)
	p.logger.Info("processor started")
	return nil
}

// Stop is cooperative: it stops scheduling new waits, lets the loop flush
// any pending partial batch, and waits up to timeout for the loop to exit.
// An in-flight batch is never interrupted.
func (p *Processor[T, R]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Processor", "Stop", "stop")
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	p.lifecycleMu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrFlushTimeout, "Processor", "Stop", "wait for loop exit")
	}

	p.dedup.Close()
	p.logger.Info("processor stopped")
	return nil
}

// Flush forces one flush of whatever is pending plus currently queued data
// and waits for it to complete.
func (p *Processor[T, R]) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case p.flushReq <- reply:
	case <-p.doneCh:
		return errors.WrapInvalid(errors.ErrNotStarted, "Processor", "Flush", "loop not running")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of processor counters.
func (p *Processor[T, R]) Stats() Stats {
	src := p.src.stats()

	batches := atomic.LoadInt64(&p.batchesProcessed)
	var avg time.Duration
	if batches > 0 {
		avg = time.Duration(atomic.LoadInt64(&p.totalProcNanos) / batches)
	}

	return Stats{
		QueueDepth:        p.src.depth(),
		PendingBatch:      int(atomic.LoadInt64(&p.pendingLen)),
		LastProcessedSeq:  atomic.LoadUint64(&p.lastProcessedSeq),
		BatchesProcessed:  batches,
		BatchesFailed:     atomic.LoadInt64(&p.batchesFailed),
		ItemsProcessed:    atomic.LoadInt64(&p.itemsProcessed),
		DroppedOverflow:   src.DroppedOverflow,
		DroppedStale:      src.DroppedStale,
		DuplicatesSkipped: atomic.LoadInt64(&p.duplicates),
		AvgProcessingTime: avg,
		MaxLag:            src.MaxLag,
	}
}

// Lag returns the age of the oldest queued message.
func (p *Processor[T, R]) Lag() time.Duration {
	return p.src.lag()
}

// IsLagging reports whether queue lag exceeds threshold.
func (p *Processor[T, R]) IsLagging(threshold time.Duration) bool {
	return p.src.lag() > threshold
}

// run is the single cooperative scheduler loop. It repeatedly waits for
// data, drains up to MaxBatchSize messages into the pending batch, and
// flushes when the batch is full or the queue is empty and the batch is
// non-empty. On stop it drains what is queued, flushes the remainder, and
// exits.
func (p *Processor[T, R]) run(ctx context.Context) {
	defer close(p.doneCh)

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			p.drainAndExit(context.Background())
			return
		case <-p.stopCh:
			p.drainAndExit(ctx)
			return
		case reply := <-p.flushReq:
			p.fill(ctx)
			reply <- p.flush(ctx)
			continue
		default:
		}

		want := p.cfg.MaxBatchSize - len(p.pending)
		msgs, err := p.src.dequeue(ctx, want, p.cfg.PollTimeout)
		if err != nil {
			// Closed queue or cancelled context; the outer select exits us.
			continue
		}
		p.pending = append(p.pending, msgs...)
		atomic.StoreInt64(&p.pendingLen, int64(len(p.pending)))

		if len(p.pending) == 0 {
			continue
		}
		if len(p.pending) < p.cfg.MaxBatchSize && p.src.depth() > 0 {
			continue // keep filling toward a full batch
		}

		if err := p.flush(ctx); err != nil {
			consecutiveFailures++
			// Brief backoff; the loop itself never dies on a bad batch.
			delay := p.cfg.Retry.BackoffDelay(consecutiveFailures - 1)
			select {
			case <-time.After(delay):
			case <-p.stopCh:
			case <-ctx.Done():
			}
		} else {
			consecutiveFailures = 0
		}
	}
}

// fill tops the pending batch up from the queue without waiting.
func (p *Processor[T, R]) fill(ctx context.Context) {
	for len(p.pending) < p.cfg.MaxBatchSize && p.src.depth() > 0 {
		msgs, err := p.src.dequeue(ctx, p.cfg.MaxBatchSize-len(p.pending), 0)
		if err != nil || len(msgs) == 0 {
			return
		}
		p.pending = append(p.pending, msgs...)
		atomic.StoreInt64(&p.pendingLen, int64(len(p.pending)))
	}
}

// drainAndExit flushes everything left before the loop exits so no batch is
// ever left half-collected.
func (p *Processor[T, R]) drainAndExit(ctx context.Context) {
	p.src.close()
	for {
		p.fill(ctx)
		if len(p.pending) == 0 {
			return
		}
		if err := p.flush(ctx); err != nil {
			// Retrying forever would stall shutdown; report and drop.
			p.reportError(errors.WrapTransient(err, "Processor", "Stop", "final flush"))
			p.pending = nil
			atomic.StoreInt64(&p.pendingLen, 0)
			return
		}
	}
}

// flush runs the pending batch through the transform and broadcasts the
// result. Serialized by flushMu so at most one transform runs at a time.
func (p *Processor[T, R]) flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}

	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	batch := p.pending
	p.pending = nil
	atomic.StoreInt64(&p.pendingLen, 0)

	if p.cfg.StrictOrdering {
		sort.Slice(batch, func(i, j int) bool { return batch[i].Seq < batch[j].Seq })
	}

	// Each payload enters the delta at weight +1.
	delta := zset.New(p.key)
	for _, msg := range batch {
		delta.Insert(msg.Payload, 1)
	}

	start := time.Now()
	output, err := p.runTransform(ctx, delta)
	elapsed := time.Since(start)

	if err != nil {
		atomic.AddInt64(&p.batchesFailed, 1)
		if p.metrics != nil {
			p.metrics.recordFailure()
		}
		p.reportError(errors.WrapTransient(err, "Processor", "flush", "transform"))

		if p.src.requeue(batch) {
			// Strict mode: at-least-once. Retried messages reappear after
			// newer pushes; callers must expect that reordering.
			if p.errLimiter.Allow() {
				p.logger.Warn("transform failed, batch re-enqueued",
					"batch_size", len(batch), "error", err)
			}
		} else {
			// Freshness mode: completeness is already forfeit; drop.
			if p.errLimiter.Allow() {
				p.logger.Warn("transform failed, batch dropped",
					"batch_size", len(batch), "error", err)
			}
		}
		return errors.WrapTransient(errors.ErrTransformFailed, "Processor", "flush", "transform")
	}

	atomic.AddInt64(&p.batchesProcessed, 1)
	atomic.AddInt64(&p.itemsProcessed, int64(len(batch)))
	atomic.AddInt64(&p.totalProcNanos, int64(elapsed))
	atomic.StoreUint64(&p.lastProcessedSeq, batch[len(batch)-1].Seq)
	if p.metrics != nil {
		p.metrics.recordBatch(len(batch), elapsed, p.src.depth())
	}

	result := Batch[R]{
		Output:         output,
		ProcessedCount: len(batch),
		ProcessingTime: elapsed,
		Seqs:           SeqRange{First: batch[0].Seq, Last: batch[len(batch)-1].Seq},
	}

	p.broadcast(result)
	p.completeWaiters(batch, result)
	return nil
}

// runTransform drives the transform through the configured retry policy.
// Transient failures are retried in place with jittered backoff before the
// batch is requeued (strict) or dropped (fresh); anything else fails fast.
func (p *Processor[T, R]) runTransform(ctx context.Context, delta *zset.ZSet[T]) (R, error) {
	return retry.DoWithResult(ctx, p.cfg.Retry.ToRetryConfig(), func() (R, error) {
		out, err := p.transform(ctx, delta)
		if err != nil && !errors.IsTransient(err) {
			return out, retry.NonRetryable(err)
		}
		return out, err
	})
}

// broadcast delivers the batch to every subscriber in registration order.
// A panicking subscriber is isolated: its failure goes to the error handler
// and delivery continues.
func (p *Processor[T, R]) broadcast(result Batch[R]) {
	p.subMu.Lock()
	subs := make([]subscriber[R], len(p.subscribers))
	copy(subs, p.subscribers)
	p.subMu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.reportError(errors.WrapTransient(
						fmt.Errorf("subscriber %s panicked: %v", s.token, r),
						"Processor", "broadcast", "subscriber callback"))
				}
			}()
			s.fn(result)
		}()
	}
}

// completeWaiters releases PushAndWait callers whose sequence was covered.
func (p *Processor[T, R]) completeWaiters(batch []freshq.Message[T], result Batch[R]) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()

	if len(p.waiters) == 0 {
		return
	}
	for _, msg := range batch {
		if ch, ok := p.waiters[msg.Seq]; ok {
			ch <- result
			delete(p.waiters, msg.Seq)
		}
	}
}

// reportError fans an error out to the registered error callbacks.
func (p *Processor[T, R]) reportError(err error) {
	p.subMu.Lock()
	fns := make([]ErrorFn, len(p.errorFns))
	copy(fns, p.errorFns)
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}
