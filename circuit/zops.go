package circuit

import (
	"github.com/c360/deltastream/zset"
)

// ZSetGroup adapts Z-sets of T to the Group interface, carrying the key
// function the zero element is built with.
type ZSetGroup[T any] struct {
	Key zset.KeyFunc[T]
}

// Add returns a.Add(b).
func (g ZSetGroup[T]) Add(a, b *zset.ZSet[T]) *zset.ZSet[T] {
	return a.Add(b)
}

// Negate returns the additive inverse.
func (g ZSetGroup[T]) Negate(v *zset.ZSet[T]) *zset.ZSet[T] {
	return v.Negate()
}

// Zero returns the empty Z-set.
func (g ZSetGroup[T]) Zero() *zset.ZSet[T] {
	return zset.New(g.Key)
}

// ZSetInput declares a named input stream of Z-set deltas.
func ZSetInput[T any](c *Circuit, name string, key zset.KeyFunc[T]) (*Stream[*zset.ZSet[T]], error) {
	g := ZSetGroup[T]{Key: key}
	return Input(c, name, g.Zero)
}

// FilterZ lifts zset.Filter onto a delta stream. Filter is linear, so
// running it per delta equals running it over the integrated state.
func FilterZ[T any](s *Stream[*zset.ZSet[T]], pred func(T) bool) *Stream[*zset.ZSet[T]] {
	return Lift(s, func(z *zset.ZSet[T]) *zset.ZSet[T] {
		return z.Filter(pred)
	})
}

// MapZ lifts zset.Map onto a delta stream. Linear, like FilterZ.
func MapZ[A, B any](s *Stream[*zset.ZSet[A]], keyB zset.KeyFunc[B], f func(A) B) *Stream[*zset.ZSet[B]] {
	return Lift(s, func(z *zset.ZSet[A]) *zset.ZSet[B] {
		return zset.Map(z, keyB, f)
	})
}

// DistinctZ lifts the batch-local Distinct onto a stream. Distinct is
// non-linear; applying it tick by tick to deltas is NOT equivalent to
// distinct over the integral. Compose with IntegrateZ when full-state
// distinct semantics are wanted.
func DistinctZ[T any](s *Stream[*zset.ZSet[T]]) *Stream[*zset.ZSet[T]] {
	return Lift(s, func(z *zset.ZSet[T]) *zset.ZSet[T] {
		return z.Distinct()
	})
}

// IntegrateZ emits the accumulated Z-set state of a delta stream.
func IntegrateZ[T any](s *Stream[*zset.ZSet[T]], key zset.KeyFunc[T]) *Stream[*zset.ZSet[T]] {
	return Integrate(s, ZSetGroup[T]{Key: key})
}

// DifferentiateZ emits tick-over-tick differences of a Z-set stream.
func DifferentiateZ[T any](s *Stream[*zset.ZSet[T]], key zset.KeyFunc[T]) *Stream[*zset.ZSet[T]] {
	return Differentiate(s, ZSetGroup[T]{Key: key})
}

// JoinZ lifts the bilinear Z-set join onto two streams of the same circuit.
// Applied to deltas it emits only the delta-x-delta cross term; incremental
// join over accumulated state needs the old-state cross terms too, built by
// joining against integrated streams.
func JoinZ[A, B any](
	a *Stream[*zset.ZSet[A]], b *Stream[*zset.ZSet[B]],
	joinKeyA func(A) string, joinKeyB func(B) string,
) *Stream[*zset.ZSet[zset.Pair[A, B]]] {
	return Lift2(a, b, func(za *zset.ZSet[A], zb *zset.ZSet[B]) *zset.ZSet[zset.Pair[A, B]] {
		return zset.Join(za, zb, joinKeyA, joinKeyB)
	})
}

// IncrementalJoinZ builds the full bilinear incremental join of two delta
// streams: ΔJ = Δa ⋈ I(b) + I(a) ⋈ Δb - Δa ⋈ Δb, folded as
// Δa ⋈ I(b)[t] + I(a)[t-1] ⋈ Δb. Each tick it emits the change to the join
// of the accumulated inputs.
func IncrementalJoinZ[A, B any](
	a *Stream[*zset.ZSet[A]], b *Stream[*zset.ZSet[B]],
	keyA zset.KeyFunc[A], keyB zset.KeyFunc[B],
	joinKeyA func(A) string, joinKeyB func(B) string,
) *Stream[*zset.ZSet[zset.Pair[A, B]]] {
	ia := IntegrateZ(a, keyA)
	ib := IntegrateZ(b, keyB)
	iaPrev := Delay(ia, ZSetGroup[A]{Key: keyA})

	// Δa ⋈ I(b)[t] covers Δa×Δb and Δa×old(b); old(a)×Δb remains.
	left := JoinZ(a, ib, joinKeyA, joinKeyB)
	right := JoinZ(iaPrev, b, joinKeyA, joinKeyB)

	return Lift2(left, right,
		func(l, r *zset.ZSet[zset.Pair[A, B]]) *zset.ZSet[zset.Pair[A, B]] {
			return l.Add(r)
		})
}

// CountZ lifts the linear weight-sum aggregate onto a stream.
func CountZ[T any](s *Stream[*zset.ZSet[T]]) *Stream[int64] {
	return Lift(s, func(z *zset.ZSet[T]) int64 {
		return z.Count()
	})
}

// SumZ lifts the linear weighted-sum aggregate onto a stream.
func SumZ[T any](s *Stream[*zset.ZSet[T]], getValue func(T) float64) *Stream[float64] {
	return Lift(s, func(z *zset.ZSet[T]) float64 {
		return z.Sum(getValue)
	})
}
