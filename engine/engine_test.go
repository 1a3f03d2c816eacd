package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/deltastream/errors"
	"github.com/c360/deltastream/processor"
	"github.com/c360/deltastream/zset"
)

// fakeRunner records lifecycle calls into a shared journal.
type fakeRunner struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
}

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(event string) {
	j.mu.Lock()
	j.events = append(j.events, event)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	copy(out, j.events)
	return out
}

func (f *fakeRunner) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.journal.add("start:" + f.name)
	return nil
}

func (f *fakeRunner) Stop(time.Duration) error {
	f.journal.add("stop:" + f.name)
	return f.stopErr
}

func TestEngine_RegisterDuplicateName(t *testing.T) {
	e := New()
	j := &journal{}
	require.NoError(t, e.Register("a", &fakeRunner{name: "a", journal: j}))

	err := e.Register("a", &fakeRunner{name: "a", journal: j})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateComponent)
}

func TestEngine_StartStopOrder(t *testing.T) {
	e := New()
	j := &journal{}
	require.NoError(t, e.Register("first", &fakeRunner{name: "first", journal: j}))
	require.NoError(t, e.Register("second", &fakeRunner{name: "second", journal: j}))

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop(time.Second))

	events := j.list()
	require.Len(t, events, 4)
	// Stops run in reverse registration order.
	assert.Equal(t, "stop:second", events[2])
	assert.Equal(t, "stop:first", events[3])
}

func TestEngine_Lifecycle(t *testing.T) {
	e := New()
	j := &journal{}
	require.NoError(t, e.Register("a", &fakeRunner{name: "a", journal: j}))

	// Stop before Start is an error.
	err := e.Stop(time.Second)
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, e.Start(context.Background()))

	// Registration after Start is rejected.
	err = e.Register("b", &fakeRunner{name: "b", journal: j})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	// Double Start is rejected.
	err = e.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, e.Stop(time.Second))
	err = e.Stop(time.Second)
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestEngine_StartFailureRollsBack(t *testing.T) {
	e := New()
	j := &journal{}
	boom := fmt.Errorf("listener bind failed")
	require.NoError(t, e.Register("good", &fakeRunner{name: "good", journal: j}))
	require.NoError(t, e.Register("bad", &fakeRunner{name: "bad", journal: j, startErr: boom}))

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// The component that did start was stopped again.
	events := j.list()
	assert.Contains(t, events, "start:good")
	assert.Contains(t, events, "stop:good")

	// After a failed start the engine can be started again.
	require.NoError(t, e.Register("fixed", &fakeRunner{name: "fixed", journal: j}))
}

func TestEngine_StopReportsFirstError(t *testing.T) {
	e := New()
	j := &journal{}
	boom := fmt.Errorf("close failed")
	require.NoError(t, e.Register("a", &fakeRunner{name: "a", journal: j, stopErr: boom}))
	require.NoError(t, e.Register("b", &fakeRunner{name: "b", journal: j}))

	require.NoError(t, e.Start(context.Background()))
	err := e.Stop(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// Every component is stopped even when one fails.
	events := j.list()
	assert.Contains(t, events, "stop:a")
	assert.Contains(t, events, "stop:b")
}

func TestEngine_SharedRegistry(t *testing.T) {
	e := New()
	assert.NotNil(t, e.Registry())

	// Processors register their metrics into the engine registry and run
	// under the engine lifecycle.
	key := func(s string) string { return s }
	transform := func(_ context.Context, delta *zset.ZSet[string]) (int64, error) {
		return delta.Count(), nil
	}
	cfg := processor.DefaultConfig()
	cfg.PollTimeout = 5 * time.Millisecond

	p, err := processor.NewStrict("words", key, transform, cfg,
		processor.WithMetrics[string, int64](e.Registry(), "words"))
	require.NoError(t, err)
	require.NoError(t, e.Register("words", p))

	require.NoError(t, e.Start(context.Background()))

	_, err = p.PushAndWait(context.Background(), "hello")
	require.NoError(t, err)

	families, err := e.Registry().PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, e.Stop(time.Second))
}
