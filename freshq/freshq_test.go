package freshq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/deltastream/metric"
)

func TestQueue_EnqueueAssignsSequences(t *testing.T) {
	q, err := New[string](10)
	require.NoError(t, err)

	s1, err := q.Enqueue("a")
	require.NoError(t, err)
	s2, err := q.Enqueue("b")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), s1)
	assert.Equal(t, uint64(2), s2)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_SequencesArePerInstance(t *testing.T) {
	a, err := New[int](4)
	require.NoError(t, err)
	b, err := New[int](4)
	require.NoError(t, err)

	sa, err := a.Enqueue(1)
	require.NoError(t, err)
	sb, err := b.Enqueue(1)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), sa)
	assert.Equal(t, uint64(1), sb)
}

func TestQueue_DequeueReturnsInSeqOrder(t *testing.T) {
	q, err := New[int](10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(i)
		require.NoError(t, err)
	}

	batch, err := q.Dequeue(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 5)
	for i, msg := range batch {
		assert.Equal(t, uint64(i+1), msg.Seq)
		assert.Equal(t, i, msg.Payload)
	}
}

func TestQueue_DequeueTimeoutIsEmptyNotError(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)

	start := time.Now()
	batch, err := q.Dequeue(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_DequeueWakesOnEnqueue(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)

	done := make(chan []Message[int], 1)
	go func() {
		batch, _ := q.Dequeue(context.Background(), 10, time.Second)
		done <- batch
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = q.Enqueue(42)
	require.NoError(t, err)

	select {
	case batch := <-done:
		require.Len(t, batch, 1)
		assert.Equal(t, 42, batch[0].Payload)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueue_DequeueContextCancel(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = q.Dequeue(ctx, 10, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

// Overflow keeps the newest messages and counts the evicted oldest ones.
func TestQueue_OverflowKeepsFreshest(t *testing.T) {
	q, err := New[int](100)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		_, err := q.Enqueue(i)
		require.NoError(t, err)
	}

	stats := q.Stats()
	assert.Equal(t, 100, stats.Depth)
	assert.Equal(t, uint64(1000), stats.LastSeq)
	assert.Equal(t, int64(900), stats.DroppedOverflow)

	batch, err := q.Dequeue(context.Background(), 1000, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 100)

	// Survivors are exactly the newest 100, ascending by sequence.
	for i, msg := range batch {
		assert.Equal(t, uint64(901+i), msg.Seq)
		assert.Equal(t, 900+i, msg.Payload)
	}
}

func TestQueue_MaxAgeDropsStaleAtDequeue(t *testing.T) {
	q, err := New(10, WithMaxAge[int](20*time.Millisecond))
	require.NoError(t, err)

	_, err = q.Enqueue(1)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = q.Enqueue(2)
	require.NoError(t, err)

	batch, err := q.Dequeue(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 2, batch[0].Payload)
	assert.Equal(t, int64(1), q.Stats().DroppedStale)
}

func TestQueue_DropStale(t *testing.T) {
	q, err := New[int](10)
	require.NoError(t, err)

	_, err = q.Enqueue(1)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = q.Enqueue(2)
	require.NoError(t, err)

	dropped := q.DropStale(10 * time.Millisecond)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), q.Stats().DroppedStale)
}

func TestQueue_LagTracksOldestMessage(t *testing.T) {
	q, err := New[int](10)
	require.NoError(t, err)
	assert.Zero(t, q.Lag())

	_, err = q.Enqueue(1)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.GreaterOrEqual(t, q.Lag(), 20*time.Millisecond)
	assert.True(t, q.IsLagging(10*time.Millisecond))
	assert.False(t, q.IsLagging(time.Minute))
}

func TestQueue_CloseDrainsThenErrors(t *testing.T) {
	q, err := New[int](10)
	require.NoError(t, err)
	_, err = q.Enqueue(1)
	require.NoError(t, err)

	q.Close()

	// Pending messages remain drainable after close.
	batch, err := q.Dequeue(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// Once empty, dequeue reports the close.
	_, err = q.Dequeue(context.Background(), 10, 10*time.Millisecond)
	require.Error(t, err)

	// New enqueues are rejected.
	_, err = q.Enqueue(2)
	require.Error(t, err)
}

func TestQueue_EnqueueKeyedCarriesKey(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)

	_, err = q.EnqueueKeyed(1, "evt-123")
	require.NoError(t, err)

	batch, err := q.Dequeue(context.Background(), 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "evt-123", batch[0].IdempotencyKey)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q, err := New[int](1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := q.Enqueue(i)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats := q.Stats()
	assert.Equal(t, uint64(800), stats.LastSeq)
	assert.Equal(t, 800, stats.Depth)

	// All sequences are distinct and strictly increasing after sorting.
	batch, err := q.Dequeue(context.Background(), 800, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 800)
	for i := 1; i < len(batch); i++ {
		assert.Less(t, batch[i-1].Seq, batch[i].Seq)
	}
}

func TestQueue_WithMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	q, err := New(4, WithMetrics[int](reg, "fresh_test"))
	require.NoError(t, err)

	_, err = q.Enqueue(1)
	require.NoError(t, err)
}
