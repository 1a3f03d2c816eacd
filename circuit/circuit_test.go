package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/deltastream/errors"
)

// intGroup is the additive group over int64, used to exercise the
// type-generic operators without Z-sets.
type intGroup struct{}

func (intGroup) Add(a, b int64) int64 { return a + b }
func (intGroup) Negate(v int64) int64 { return -v }
func (intGroup) Zero() int64          { return 0 }

func intInput(t *testing.T, c *Circuit, name string) *Stream[int64] {
	t.Helper()
	s, err := Input(c, name, func() int64 { return 0 })
	require.NoError(t, err)
	return s
}

func TestCircuit_InputDuplicateName(t *testing.T) {
	c := New()
	intInput(t, c, "in")

	_, err := Input(c, "in", func() int64 { return 0 })
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateInput)
}

func TestCircuit_StepUnknownInput(t *testing.T) {
	c := New()
	intInput(t, c, "in")

	err := c.Step(map[string]any{"nope": int64(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownInput)
	assert.Equal(t, 0, c.Tick())
}

func TestCircuit_StepInputTypeMismatch(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	var seen []int64
	in.Sink(func(v int64) { seen = append(seen, v) })

	err := c.Step(map[string]any{"in": "not an int"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInputType)

	// A failed step must not advance the circuit or fire sinks.
	assert.Equal(t, 0, c.Tick())
	assert.Empty(t, seen)
}

func TestCircuit_MissingInputDefaultsToZero(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	sum := Integrate(in, intGroup{})

	require.NoError(t, c.Step(map[string]any{"in": int64(5)}))
	require.NoError(t, c.Step(map[string]any{}))

	assert.Equal(t, int64(5), sum.Value())
	assert.Equal(t, 2, c.Tick())
}

func TestLift_AppliesPerTick(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	doubled := Lift(in, func(v int64) int64 { return v * 2 })

	var got []int64
	doubled.Sink(func(v int64) { got = append(got, v) })

	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, c.Step(map[string]any{"in": v}))
	}
	assert.Equal(t, []int64{2, 4, 6}, got)
}

func TestLift2_CombinesTwoStreams(t *testing.T) {
	c := New()
	a := intInput(t, c, "a")
	b := intInput(t, c, "b")
	sum := Lift2(a, b, func(x, y int64) int64 { return x + y })

	require.NoError(t, c.Step(map[string]any{"a": int64(3), "b": int64(4)}))
	assert.Equal(t, int64(7), sum.Value())
}

func TestDelay_ShiftsByOneTick(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	prev := Delay(in, intGroup{})

	var got []int64
	prev.Sink(func(v int64) { got = append(got, v) })

	for _, v := range []int64{10, 20, 30} {
		require.NoError(t, c.Step(map[string]any{"in": v}))
	}
	assert.Equal(t, []int64{0, 10, 20}, got)
}

func TestIntegrate_RunningSum(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	total := Integrate(in, intGroup{})

	var got []int64
	total.Sink(func(v int64) { got = append(got, v) })

	for _, v := range []int64{1, 2, 3, -6} {
		require.NoError(t, c.Step(map[string]any{"in": v}))
	}
	assert.Equal(t, []int64{1, 3, 6, 0}, got)
}

func TestDifferentiate_TickOverTickDelta(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	delta := Differentiate(in, intGroup{})

	var got []int64
	delta.Sink(func(v int64) { got = append(got, v) })

	for _, v := range []int64{1, 3, 6, 6} {
		require.NoError(t, c.Step(map[string]any{"in": v}))
	}
	assert.Equal(t, []int64{1, 2, 3, 0}, got)
}

// D(I(s)) = s and I(D(s)) = s for every prefix.
func TestDifferentiateIntegrate_Inverse(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")
	roundTrip := Differentiate(Integrate(in, intGroup{}), intGroup{})
	otherWay := Integrate(Differentiate(in, intGroup{}), intGroup{})

	var rt, ow []int64
	roundTrip.Sink(func(v int64) { rt = append(rt, v) })
	otherWay.Sink(func(v int64) { ow = append(ow, v) })

	inputs := []int64{4, -2, 0, 7, 7}
	for _, v := range inputs {
		require.NoError(t, c.Step(map[string]any{"in": v}))
	}
	assert.Equal(t, inputs, rt)
	assert.Equal(t, inputs, ow)
}

func TestIncrementalize_NonLinearQuery(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")

	// q(x) = x*x over the accumulated input; the incremental form emits
	// q(S[t]) - q(S[t-1]) per tick.
	sq := Incrementalize(in, func(x int64) int64 { return x * x }, intGroup{}, intGroup{})

	var got []int64
	sq.Sink(func(v int64) { got = append(got, v) })

	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, c.Step(map[string]any{"in": v}))
	}
	// Accumulated sums 1, 3, 6 square to 1, 9, 36.
	assert.Equal(t, []int64{1, 8, 27}, got)
}

func TestSink_FiresInRegistrationOrder(t *testing.T) {
	c := New()
	in := intInput(t, c, "in")

	var order []string
	in.Sink(func(int64) { order = append(order, "first") })
	in.Sink(func(int64) { order = append(order, "second") })

	require.NoError(t, c.Step(map[string]any{"in": int64(1)}))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStream_ValueBeforeStepIsZero(t *testing.T) {
	c := New()
	in, err := Input(c, "in", func() string { return "" })
	require.NoError(t, err)
	assert.Equal(t, "", in.Value())
	assert.Equal(t, 0, c.Tick())
}
