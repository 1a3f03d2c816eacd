package circuit

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/deltastream/zset"
)

func intKey(n int) string { return strconv.Itoa(n) }

func delta(values ...int) *zset.ZSet[int] {
	return zset.FromValues(intKey, values)
}

func retraction(values ...int) *zset.ZSet[int] {
	z := zset.New(intKey)
	for _, v := range values {
		z.Insert(v, -1)
	}
	return z
}

func TestZSetInput_StepAndValue(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)

	require.NoError(t, c.Step(map[string]any{"events": delta(1, 2)}))
	assert.Equal(t, int64(1), in.Value().Weight(1))

	// Omitted input means an empty delta, not a stale one.
	require.NoError(t, c.Step(map[string]any{}))
	assert.True(t, in.Value().IsZero())
}

func TestFilterZ_OnDeltas(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)
	evens := FilterZ(in, func(n int) bool { return n%2 == 0 })

	require.NoError(t, c.Step(map[string]any{"events": delta(1, 2, 4)}))
	assert.Equal(t, 2, evens.Value().Size())

	// Retractions flow through the same predicate with negative weight.
	require.NoError(t, c.Step(map[string]any{"events": retraction(2)}))
	assert.Equal(t, int64(-1), evens.Value().Weight(2))
}

func TestMapZ_OnDeltas(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)
	tens := MapZ(in, intKey, func(n int) int { return n * 10 })

	require.NoError(t, c.Step(map[string]any{"events": delta(1, 2)}))
	assert.Equal(t, int64(1), tens.Value().Weight(10))
	assert.Equal(t, int64(1), tens.Value().Weight(20))
}

func TestIntegrateZ_AccumulatesInsertsAndRetractions(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)
	state := IntegrateZ(in, intKey)

	require.NoError(t, c.Step(map[string]any{"events": delta(1, 2)}))
	require.NoError(t, c.Step(map[string]any{"events": retraction(1)}))

	assert.Equal(t, int64(0), state.Value().Weight(1))
	assert.Equal(t, int64(1), state.Value().Weight(2))
}

func TestDifferentiateZ_InvertsIntegrateZ(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)
	roundTrip := DifferentiateZ(IntegrateZ(in, intKey), intKey)

	var got []*zset.ZSet[int]
	roundTrip.Sink(func(z *zset.ZSet[int]) { got = append(got, z) })

	steps := []*zset.ZSet[int]{delta(1), delta(2, 3), retraction(1)}
	for _, d := range steps {
		require.NoError(t, c.Step(map[string]any{"events": d}))
	}
	require.Len(t, got, len(steps))
	for i, d := range steps {
		assert.True(t, got[i].Equals(d), "tick %d", i)
	}
}

func TestCountZ_LinearIncrementalCount(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)

	// Counting weights is linear, so the incremental count is just the
	// integrated per-delta count.
	total := Integrate(CountZ(in), intGroup{})

	require.NoError(t, c.Step(map[string]any{"events": delta(1, 2, 3)}))
	assert.Equal(t, int64(3), total.Value())

	require.NoError(t, c.Step(map[string]any{"events": retraction(2)}))
	assert.Equal(t, int64(2), total.Value())
}

func TestSumZ_TracksWeightedSum(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)
	perTick := SumZ(in, func(n int) float64 { return float64(n) })

	require.NoError(t, c.Step(map[string]any{"events": delta(3, 4)}))
	assert.InDelta(t, 7, perTick.Value(), 1e-9)

	require.NoError(t, c.Step(map[string]any{"events": retraction(3)}))
	assert.InDelta(t, -3, perTick.Value(), 1e-9)
}

func TestDistinctZ_PerDelta(t *testing.T) {
	c := New()
	in, err := ZSetInput(c, "events", intKey)
	require.NoError(t, err)
	d := DistinctZ(in)

	bag := zset.New(intKey)
	bag.Insert(1, 3)
	require.NoError(t, c.Step(map[string]any{"events": bag}))
	assert.Equal(t, int64(1), d.Value().Weight(1))
}

type person struct {
	ID   string
	City string
}

type visit struct {
	ID       string
	PersonID string
}

func personKey(p person) string { return p.ID }
func visitKey(v visit) string   { return v.ID }

func stepJoin(
	t *testing.T, c *Circuit,
	people *zset.ZSet[person], visits *zset.ZSet[visit],
) {
	t.Helper()
	inputs := map[string]any{}
	if people != nil {
		inputs["people"] = people
	}
	if visits != nil {
		inputs["visits"] = visits
	}
	require.NoError(t, c.Step(inputs))
}

// The incremental join's integrated output must always equal the batch join
// of the integrated inputs.
func TestIncrementalJoinZ_MatchesBatchJoin(t *testing.T) {
	c := New()
	people, err := ZSetInput(c, "people", personKey)
	require.NoError(t, err)
	visits, err := ZSetInput(c, "visits", visitKey)
	require.NoError(t, err)

	joinKeyP := func(p person) string { return p.ID }
	joinKeyV := func(v visit) string { return v.PersonID }

	inc := IncrementalJoinZ(people, visits, personKey, visitKey, joinKeyP, joinKeyV)
	pairKey := func(pr zset.Pair[person, visit]) string {
		return pr.Left.ID + "|" + pr.Right.ID
	}
	incState := IntegrateZ(inc, pairKey)

	statePeople := IntegrateZ(people, personKey)
	stateVisits := IntegrateZ(visits, visitKey)

	check := func() {
		t.Helper()
		batch := zset.Join(statePeople.Value(), stateVisits.Value(), joinKeyP, joinKeyV)
		// Re-key under the comparison key so Equals sees the same key space.
		assert.True(t, incState.Value().Equals(zset.FromEntries(pairKey, batch.Entries())))
	}

	alice := person{ID: "p1", City: "oslo"}
	bob := person{ID: "p2", City: "turku"}

	// People arrive first, then visits, then both sides change together.
	stepJoin(t, c, zset.FromValues(personKey, []person{alice, bob}), nil)
	check()

	stepJoin(t, c, nil, zset.FromValues(visitKey, []visit{{ID: "v1", PersonID: "p1"}}))
	check()

	morePeople := zset.FromValues(personKey, []person{{ID: "p3", City: "kiel"}})
	moreVisits := zset.FromValues(visitKey, []visit{
		{ID: "v2", PersonID: "p1"},
		{ID: "v3", PersonID: "p3"},
	})
	stepJoin(t, c, morePeople, moreVisits)
	check()

	// Retract a person; their joined rows must retract with them.
	gone := zset.New(personKey)
	gone.Insert(alice, -1)
	stepJoin(t, c, gone, nil)
	check()
	assert.Equal(t, int64(0), incState.Value().Weight(zset.Pair[person, visit]{
		Left: alice, Right: visit{ID: "v1", PersonID: "p1"},
	}))
}
