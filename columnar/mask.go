package columnar

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/c360/deltastream/errors"
)

// Mask is a read-only bit-per-row view produced by evaluating a predicate
// against one column. Bit i is set when row i satisfies the predicate.
type Mask struct {
	words []uint64
	n     int // number of rows covered
}

// newMask creates an all-zero mask covering n rows.
func newMask(n int) *Mask {
	return &Mask{
		words: make([]uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of rows the mask covers.
func (m *Mask) Len() int {
	return m.n
}

// Get reports whether bit i is set. Out-of-range indexes are false.
func (m *Mask) Get(i int) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.words[i/64]&(1<<(uint(i)%64)) != 0
}

// set marks row i as matching. Only mask construction uses this; a mask is
// immutable once returned to the caller.
func (m *Mask) set(i int) {
	m.words[i/64] |= 1 << (uint(i) % 64)
}

// Count returns the number of set bits.
func (m *Mask) Count() int {
	total := 0
	for _, w := range m.words {
		total += bits.OnesCount64(w)
	}
	return total
}

// String-column mask operators.
const (
	// OpEq matches rows equal to the single operand.
	OpEq = "="
	// OpIn matches rows equal to any operand.
	OpIn = "in"
	// OpLike matches rows whose value begins with the operand prefix.
	OpLike = "like"
	// OpBetween matches numeric rows in the closed [low, high] range.
	OpBetween = "between"
)

// CreateMaskString evaluates a predicate against a string column, producing
// a bit-per-row mask of the table's current row count. Supported ops:
// OpEq (one operand), OpIn (any number), OpLike (prefix match, one operand).
func (t *Table) CreateMaskString(name, op string, operands ...string) (*Mask, error) {
	c, ok := t.byName[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownColumn, "Table", "CreateMaskString",
			fmt.Sprintf("column %q", name))
	}
	if c.def.Type != TypeString {
		return nil, errors.WrapInvalid(errors.ErrColumnType, "Table", "CreateMaskString",
			fmt.Sprintf("string predicate over %s column %q", c.def.Type, name))
	}

	mask := newMask(t.rows)

	switch op {
	case OpEq:
		if len(operands) != 1 {
			return nil, operandCountErr("CreateMaskString", op, 1, len(operands))
		}
		want := operands[0]
		for i, v := range c.str {
			if v == want {
				mask.set(i)
			}
		}

	case OpIn:
		want := make(map[string]struct{}, len(operands))
		for _, o := range operands {
			want[o] = struct{}{}
		}
		for i, v := range c.str {
			if _, ok := want[v]; ok {
				mask.set(i)
			}
		}

	case OpLike:
		if len(operands) != 1 {
			return nil, operandCountErr("CreateMaskString", op, 1, len(operands))
		}
		prefix := operands[0]
		for i, v := range c.str {
			if strings.HasPrefix(v, prefix) {
				mask.set(i)
			}
		}

	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownMaskOp, "Table", "CreateMaskString",
			fmt.Sprintf("operator %q", op))
	}

	return mask, nil
}

// CreateMaskNumeric evaluates a predicate against a numeric column.
// Supported ops: OpEq (one operand), OpIn (any number), OpBetween
// (two operands, closed range).
func (t *Table) CreateMaskNumeric(name, op string, operands ...float64) (*Mask, error) {
	c, err := t.numericColumn(name, "CreateMaskNumeric")
	if err != nil {
		return nil, err
	}

	mask := newMask(t.rows)

	switch op {
	case OpEq:
		if len(operands) != 1 {
			return nil, operandCountErr("CreateMaskNumeric", op, 1, len(operands))
		}
		want := operands[0]
		for i := 0; i < t.rows; i++ {
			if c.numericAt(i) == want {
				mask.set(i)
			}
		}

	case OpIn:
		for i := 0; i < t.rows; i++ {
			v := c.numericAt(i)
			for _, o := range operands {
				if v == o {
					mask.set(i)
					break
				}
			}
		}

	case OpBetween:
		if len(operands) != 2 {
			return nil, operandCountErr("CreateMaskNumeric", op, 2, len(operands))
		}
		low, high := operands[0], operands[1]
		for i := 0; i < t.rows; i++ {
			if v := c.numericAt(i); v >= low && v <= high {
				mask.set(i)
			}
		}

	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownMaskOp, "Table", "CreateMaskNumeric",
			fmt.Sprintf("operator %q", op))
	}

	return mask, nil
}

// AndMasks combines two masks of equal length bit by bit.
func AndMasks(a, b *Mask) (*Mask, error) {
	if a.n != b.n {
		return nil, errors.WrapInvalid(errors.ErrMaskLengthMismatch, "Mask", "AndMasks",
			fmt.Sprintf("combine %d-row with %d-row mask", a.n, b.n))
	}
	out := newMask(a.n)
	for i := range a.words {
		out.words[i] = a.words[i] & b.words[i]
	}
	return out, nil
}

// OrMasks combines two masks of equal length bit by bit.
func OrMasks(a, b *Mask) (*Mask, error) {
	if a.n != b.n {
		return nil, errors.WrapInvalid(errors.ErrMaskLengthMismatch, "Mask", "OrMasks",
			fmt.Sprintf("combine %d-row with %d-row mask", a.n, b.n))
	}
	out := newMask(a.n)
	for i := range a.words {
		out.words[i] = a.words[i] | b.words[i]
	}
	return out, nil
}

// checkMask verifies a mask covers the table's current row count.
func (t *Table) checkMask(mask *Mask, method string) error {
	if mask == nil || mask.n != t.rows {
		got := -1
		if mask != nil {
			got = mask.n
		}
		return errors.WrapInvalid(errors.ErrMaskLengthMismatch, "Table", method,
			fmt.Sprintf("mask covers %d rows, table has %d", got, t.rows))
	}
	return nil
}

// operandCountErr reports a wrong operand count for a mask operator.
func operandCountErr(method, op string, want, got int) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %q wants %d operand(s), got %d", errors.ErrUnknownMaskOp, op, want, got),
		"Table", method, "operand validation")
}
