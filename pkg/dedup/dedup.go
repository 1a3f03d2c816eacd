// Package dedup provides a TTL-windowed idempotency-key tracker.
//
// Keys are remembered for a configurable window; a replayed key inside the
// window is reported as seen and suppressed by callers. A window of zero
// keeps keys for the lifetime of the tracker, which preserves unbounded
// growth and is only appropriate for short-lived instances.
package dedup

import (
	"sync"
	"time"
)

// Tracker remembers idempotency keys for a sliding TTL window.
// Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	seen   map[string]time.Time
	closed bool

	// Background cleanup coordination
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a tracker with the given TTL window. A ttl of 0 disables
// expiry entirely (keys are retained forever). cleanupInterval controls how
// often expired keys are swept; it defaults to the ttl when non-positive.
func New(ttl, cleanupInterval time.Duration) *Tracker {
	t := &Tracker{
		ttl:      ttl,
		seen:     make(map[string]time.Time),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if ttl > 0 {
		if cleanupInterval <= 0 {
			cleanupInterval = ttl
		}
		go t.cleanup(cleanupInterval)
	} else {
		close(t.done)
	}

	return t
}

// Seen records key and reports whether it was already present within the
// window. The check and the record are one atomic step.
func (t *Tracker) Seen(key string) bool {
	if key == "" {
		return false
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if at, ok := t.seen[key]; ok {
		if t.ttl == 0 || now.Sub(at) < t.ttl {
			return true
		}
		// Expired entry: treat as unseen and refresh below
	}

	t.seen[key] = now
	return false
}

// Len returns the number of tracked keys, including not-yet-swept expired ones.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Close stops the background sweeper and waits for it to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.ttl > 0 {
		close(t.shutdown)
	}
	<-t.done
}

// cleanup periodically removes expired keys.
func (t *Tracker) cleanup(interval time.Duration) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-t.ttl)
			t.mu.Lock()
			for k, at := range t.seen {
				if at.Before(cutoff) {
					delete(t.seen, k)
				}
			}
			t.mu.Unlock()
		}
	}
}
