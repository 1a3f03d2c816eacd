package ringbuf

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks ring buffer activity.
type Statistics struct {
	// Atomic counters for thread-safe updates
	pushes    int64
	pops      int64
	evictions int64

	// Protected by mutex
	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Push records a push operation.
func (s *Statistics) Push() {
	atomic.AddInt64(&s.pushes, 1)
}

// Pop records a pop operation.
func (s *Statistics) Pop() {
	atomic.AddInt64(&s.pops, 1)
}

// Evict records an item evicted on overflow.
func (s *Statistics) Evict() {
	atomic.AddInt64(&s.evictions, 1)
}

// UpdateSize updates the current buffer size.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Pushes returns the total number of push operations.
func (s *Statistics) Pushes() int64 {
	return atomic.LoadInt64(&s.pushes)
}

// Pops returns the total number of pop operations.
func (s *Statistics) Pops() int64 {
	return atomic.LoadInt64(&s.pops)
}

// Evictions returns the total number of items evicted on overflow.
func (s *Statistics) Evictions() int64 {
	return atomic.LoadInt64(&s.evictions)
}

// CurrentSize returns the current number of items in the buffer.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the maximum number of items the buffer has held.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// DropRate returns the fraction of pushes that caused evictions (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	pushes := s.Pushes()
	if pushes == 0 {
		return 0.0
	}
	return float64(s.Evictions()) / float64(pushes)
}

// Uptime returns how long the buffer has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.pushes, 0)
	atomic.StoreInt64(&s.pops, 0)
	atomic.StoreInt64(&s.evictions, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.maxSize = 0
	s.mu.Unlock()
}
