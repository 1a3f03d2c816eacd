package zset

// Type-changing operators live at package level because Go methods cannot
// introduce new type parameters. Each takes the key function for the output
// element type explicitly, keeping the Keyed capability caller-supplied.

// Map applies f to every value, carrying weights through unchanged. Values
// mapping to the same output key accumulate weight. Linear:
// Map(a.Add(b)) == Map(a).Add(Map(b)).
func Map[A, B any](z *ZSet[A], keyB KeyFunc[B], f func(A) B) *ZSet[B] {
	out := New(keyB)
	for _, e := range z.entries {
		out.Insert(f(e.Value), e.Weight)
	}
	return out
}

// FlatMap applies f to every value and inserts each produced value at the
// input entry's weight. Linear for the same reason Map is.
func FlatMap[A, B any](z *ZSet[A], keyB KeyFunc[B], f func(A) []B) *ZSet[B] {
	out := New(keyB)
	for _, e := range z.entries {
		for _, v := range f(e.Value) {
			out.Insert(v, e.Weight)
		}
	}
	return out
}

// Reduce folds all entries into an accumulator. Iteration order follows the
// sorted canonical keys so the fold is deterministic.
func Reduce[A, Acc any](z *ZSet[A], init Acc, f func(Acc, A, int64) Acc) Acc {
	acc := init
	for _, e := range z.Entries() {
		acc = f(acc, e.Value, e.Weight)
	}
	return acc
}

// Pair is the output element of CartesianProduct and Join.
type Pair[A, B any] struct {
	Left  A
	Right B
}

// pairKey builds the canonical key of a pair from the keys of its sides.
// The unit separator keeps distinct (left, right) key splits distinct.
func pairKey[A, B any](keyA KeyFunc[A], keyB KeyFunc[B]) KeyFunc[Pair[A, B]] {
	return func(p Pair[A, B]) string {
		return keyA(p.Left) + "\x1f" + keyB(p.Right)
	}
}

// CartesianProduct emits every (x, y) pair with weight
// weightA(x) * weightB(y). Bilinear: linear in each argument separately.
func CartesianProduct[A, B any](a *ZSet[A], b *ZSet[B]) *ZSet[Pair[A, B]] {
	out := New(pairKey(a.key, b.key))
	for _, ea := range a.entries {
		for _, eb := range b.entries {
			out.Insert(Pair[A, B]{Left: ea.Value, Right: eb.Value}, ea.Weight*eb.Weight)
		}
	}
	return out
}

// Join emits (x, y) for every x in a and y in b with joinKeyA(x) ==
// joinKeyB(y), at weight weightA(x) * weightB(y). A hash index is built over
// b and probed once per element of a: O(|a| + |b|) amortized. When several
// elements of b share a join key every pair is emitted, so duplicate weights
// compound correctly under the group laws.
func Join[A, B any](a *ZSet[A], b *ZSet[B], joinKeyA func(A) string, joinKeyB func(B) string) *ZSet[Pair[A, B]] {
	index := make(map[string][]Entry[B], len(b.entries))
	for _, eb := range b.entries {
		jk := joinKeyB(eb.Value)
		index[jk] = append(index[jk], eb)
	}

	out := New(pairKey(a.key, b.key))
	for _, ea := range a.entries {
		for _, eb := range index[joinKeyA(ea.Value)] {
			out.Insert(Pair[A, B]{Left: ea.Value, Right: eb.Value}, ea.Weight*eb.Weight)
		}
	}
	return out
}
