// Package zset implements the weighted-multiset (Z-set) data model that all
// engine operators are defined against.
//
// A Z-set maps a canonical key, derived from each value by a caller-supplied
// KeyFunc, to a (value, integer weight) pair. Entries with weight zero are
// never stored; weight zero is semantically "absent". Z-sets form an abelian
// group under pointwise weight addition, which is what makes delta processing
// possible: linear operators (Filter, Map, FlatMap, Count, Sum) commute with
// addition and can therefore be applied directly to a delta without access to
// the accumulated state.
//
// Every transform returns a new Z-set rather than mutating its input.
package zset

import (
	"sort"

	"github.com/c360/deltastream/errors"
)

// KeyFunc derives the canonical identity key for a value. Two values with the
// same key are treated as the same element; their weights accumulate.
type KeyFunc[T any] func(T) string

// Entry is a single weighted element of a Z-set.
type Entry[T any] struct {
	Value  T
	Weight int64
}

// ZSet is a value-weighted set keyed by a caller-supplied key function.
// The zero weight invariant holds at all times: no stored entry has weight 0.
type ZSet[T any] struct {
	key     KeyFunc[T]
	entries map[string]Entry[T]
}

// New creates an empty Z-set (the group zero) with the given key function.
// Panics if key is nil: a Z-set without an identity function is a
// programming error, not a runtime condition.
func New[T any](key KeyFunc[T]) *ZSet[T] {
	if key == nil {
		panic(errors.ErrKeyFuncNil)
	}
	return &ZSet[T]{
		key:     key,
		entries: make(map[string]Entry[T]),
	}
}

// FromEntries builds a Z-set from explicit (value, weight) pairs.
// Weights for values sharing a key accumulate; zero results are elided.
func FromEntries[T any](key KeyFunc[T], entries []Entry[T]) *ZSet[T] {
	z := New(key)
	for _, e := range entries {
		z.Insert(e.Value, e.Weight)
	}
	return z
}

// FromValues builds a Z-set with weight 1 per value. Duplicate values
// (by key) accumulate weight.
func FromValues[T any](key KeyFunc[T], values []T) *ZSet[T] {
	z := New(key)
	for _, v := range values {
		z.Insert(v, 1)
	}
	return z
}

// KeyFn returns the key function this Z-set was built with.
func (z *ZSet[T]) KeyFn() KeyFunc[T] {
	return z.key
}

// Insert adds weight to the entry at key(value), removing the entry if the
// resulting weight is exactly 0.
func (z *ZSet[T]) Insert(value T, weight int64) {
	if weight == 0 {
		return
	}
	k := z.key(value)
	e, ok := z.entries[k]
	if !ok {
		z.entries[k] = Entry[T]{Value: value, Weight: weight}
		return
	}
	next := e.Weight + weight
	if next == 0 {
		delete(z.entries, k)
		return
	}
	e.Weight = next
	z.entries[k] = e
}

// Size returns the number of distinct stored entries.
func (z *ZSet[T]) Size() int {
	return len(z.entries)
}

// IsZero reports whether the Z-set is the group zero (no entries).
func (z *ZSet[T]) IsZero() bool {
	return len(z.entries) == 0
}

// Weight returns the stored weight for value, or 0 if absent.
func (z *ZSet[T]) Weight(value T) int64 {
	return z.entries[z.key(value)].Weight
}

// Entries returns all entries sorted by canonical key. Sorting gives callers
// and tests a deterministic iteration order; the set itself is unordered.
func (z *ZSet[T]) Entries() []Entry[T] {
	keys := make([]string, 0, len(z.entries))
	for k := range z.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry[T], 0, len(keys))
	for _, k := range keys {
		out = append(out, z.entries[k])
	}
	return out
}

// Clone returns an independent copy.
func (z *ZSet[T]) Clone() *ZSet[T] {
	out := New(z.key)
	for k, e := range z.entries {
		out.entries[k] = e
	}
	return out
}

// Add returns the pointwise weight sum of z and other. Commutative and
// associative; New(key) is the identity.
func (z *ZSet[T]) Add(other *ZSet[T]) *ZSet[T] {
	out := z.Clone()
	for _, e := range other.entries {
		out.Insert(e.Value, e.Weight)
	}
	return out
}

// Negate returns the additive inverse: every weight with its sign flipped.
func (z *ZSet[T]) Negate() *ZSet[T] {
	out := New(z.key)
	for k, e := range z.entries {
		out.entries[k] = Entry[T]{Value: e.Value, Weight: -e.Weight}
	}
	return out
}

// Subtract returns z.Add(other.Negate()).
func (z *ZSet[T]) Subtract(other *ZSet[T]) *ZSet[T] {
	return z.Add(other.Negate())
}

// Filter returns the entries whose value satisfies pred, weights unchanged.
// Filter is linear: Filter(a.Add(b)) == Filter(a).Add(Filter(b)).
func (z *ZSet[T]) Filter(pred func(T) bool) *ZSet[T] {
	out := New(z.key)
	for k, e := range z.entries {
		if pred(e.Value) {
			out.entries[k] = e
		}
	}
	return out
}

// Distinct emits weight 1 for every key whose current weight is positive and
// drops non-positive weights.
//
// This is a batch distinct: it inspects only the Z-set it is called on and
// carries no history across ticks. It is NOT the trace-aware incremental
// distinct of the DBSP formalism; feeding it deltas rather than integrated
// state gives different results than distinct-over-the-integral.
func (z *ZSet[T]) Distinct() *ZSet[T] {
	out := New(z.key)
	for k, e := range z.entries {
		if e.Weight > 0 {
			out.entries[k] = Entry[T]{Value: e.Value, Weight: 1}
		}
	}
	return out
}

// Count returns the sum of all weights. Linear in the Z-set argument.
func (z *ZSet[T]) Count() int64 {
	var total int64
	for _, e := range z.entries {
		total += e.Weight
	}
	return total
}

// Sum returns the weighted sum of a projected numeric field:
// Σ weight(v) * getValue(v). Linear in the Z-set argument.
func (z *ZSet[T]) Sum(getValue func(T) float64) float64 {
	var total float64
	for _, e := range z.entries {
		total += float64(e.Weight) * getValue(e.Value)
	}
	return total
}

// IsSet reports whether every stored weight is exactly 1.
func (z *ZSet[T]) IsSet() bool {
	for _, e := range z.entries {
		if e.Weight != 1 {
			return false
		}
	}
	return true
}

// IsPositive reports whether every stored weight is >= 0. Vacuously true for
// the zero Z-set since weight-0 entries are never stored.
func (z *ZSet[T]) IsPositive() bool {
	for _, e := range z.entries {
		if e.Weight < 0 {
			return false
		}
	}
	return true
}

// Equals compares full weighted content: same keys, same weights.
func (z *ZSet[T]) Equals(other *ZSet[T]) bool {
	if len(z.entries) != len(other.entries) {
		return false
	}
	for k, e := range z.entries {
		oe, ok := other.entries[k]
		if !ok || oe.Weight != e.Weight {
			return false
		}
	}
	return true
}
