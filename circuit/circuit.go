// Package circuit implements the dataflow operator framework of the engine:
// lift, delay (z⁻¹), integrate (I) and differentiate (D) over discrete-time
// streams of deltas, composed into a circuit that advances all streams by
// exactly one logical tick per Step.
//
// Ticks are logical, not wall-clock. Nodes are created against streams that
// already exist, so creation order is a topological order and Step can
// evaluate nodes in a single pass. Delay is the only combinator that carries
// state across ticks; Integrate and Differentiate are built from addition
// fed through a delay and therefore carry the same single delayed value.
package circuit

import (
	"fmt"

	"github.com/c360/deltastream/errors"
)

// Group supplies the abelian-group structure a stream's tick values form.
// Integrate and Differentiate need it; it is passed explicitly rather than
// inferred, the same way Z-sets take an explicit key function.
type Group[T any] interface {
	Add(a, b T) T
	Negate(v T) T
	Zero() T
}

// node is one operator instance. eval computes the node's current tick value
// from its parents' already-computed values.
type node struct {
	name string
	eval func()
}

// Stream is a typed handle on one node's per-tick output value.
type Stream[T any] struct {
	c   *Circuit
	cur *T // this tick's value, written by the owning node's eval
}

// Circuit is a dataflow graph over named input streams. Step advances every
// stream by one tick and invokes every registered sink exactly once.
type Circuit struct {
	nodes  []*node
	inputs map[string]*inputBinding
	sinks  []func()
	tick   int
}

// inputBinding holds the typed setter for one named input stream.
type inputBinding struct {
	check func(v any) error
	set   func(v any) error
	reset func() // set the zero delta when Step omits this input
}

// New creates an empty circuit.
func New() *Circuit {
	return &Circuit{
		inputs: make(map[string]*inputBinding),
	}
}

// Tick returns the number of completed steps.
func (c *Circuit) Tick() int {
	return c.tick
}

// Input declares a named input stream. zero produces the stream's zero
// element, used when a Step omits the input.
func Input[T any](c *Circuit, name string, zero func() T) (*Stream[T], error) {
	if _, exists := c.inputs[name]; exists {
		return nil, errors.WrapInvalid(errors.ErrDuplicateInput, "Circuit", "Input",
			fmt.Sprintf("input %q", name))
	}

	cur := new(T)
	*cur = zero()

	typeErr := func(v any) error {
		return errors.WrapInvalid(errors.ErrInputType, "Circuit", "Step",
			fmt.Sprintf("input %q: got %T", name, v))
	}

	c.inputs[name] = &inputBinding{
		check: func(v any) error {
			if _, ok := v.(T); !ok {
				return typeErr(v)
			}
			return nil
		},
		set: func(v any) error {
			tv, ok := v.(T)
			if !ok {
				return typeErr(v)
			}
			*cur = tv
			return nil
		},
		reset: func() { *cur = zero() },
	}

	// Inputs are nodes with no evaluation: Step writes their value directly.
	c.nodes = append(c.nodes, &node{name: "input:" + name, eval: func() {}})

	return &Stream[T]{c: c, cur: cur}, nil
}

// Value returns the stream's value for the most recently evaluated tick.
func (s *Stream[T]) Value() T {
	return *s.cur
}

// Lift applies a pure per-tick function to each tick's value. It has no
// memory across ticks.
func Lift[A, B any](s *Stream[A], f func(A) B) *Stream[B] {
	c := s.c
	cur := new(B)
	in := s.cur

	c.nodes = append(c.nodes, &node{
		name: "lift",
		eval: func() { *cur = f(*in) },
	})
	return &Stream[B]{c: c, cur: cur}
}

// Lift2 applies a pure per-tick function of two streams from the same
// circuit. Bilinear operators such as join enter a circuit through here.
func Lift2[A, B, C any](a *Stream[A], b *Stream[B], f func(A, B) C) *Stream[C] {
	c := a.c
	cur := new(C)
	ain, bin := a.cur, b.cur

	c.nodes = append(c.nodes, &node{
		name: "lift2",
		eval: func() { *cur = f(*ain, *bin) },
	})
	return &Stream[C]{c: c, cur: cur}
}

// Delay outputs the previous tick's input, seeded with the group zero at
// tick 0. This is the z⁻¹ operator and the only stateful combinator.
func Delay[T any](s *Stream[T], g Group[T]) *Stream[T] {
	c := s.c
	cur := new(T)
	in := s.cur
	state := g.Zero()

	c.nodes = append(c.nodes, &node{
		name: "delay",
		eval: func() {
			*cur = state
			state = *in
		},
	})
	return &Stream[T]{c: c, cur: cur}
}

// Integrate emits the running sum I(s)[t] = s[0] + ... + s[t]. Equivalent to
// Add fed back through a Delay, folded into one stateful node.
func Integrate[T any](s *Stream[T], g Group[T]) *Stream[T] {
	c := s.c
	cur := new(T)
	in := s.cur
	acc := g.Zero()

	c.nodes = append(c.nodes, &node{
		name: "integrate",
		eval: func() {
			acc = g.Add(acc, *in)
			*cur = acc
		},
	})
	return &Stream[T]{c: c, cur: cur}
}

// Differentiate emits D(s)[t] = s[t] - s[t-1], with s[-1] the group zero.
// D and I are mutual inverses: D(I(s)) == I(D(s)) == s.
func Differentiate[T any](s *Stream[T], g Group[T]) *Stream[T] {
	c := s.c
	cur := new(T)
	in := s.cur
	prev := g.Zero()

	c.nodes = append(c.nodes, &node{
		name: "differentiate",
		eval: func() {
			*cur = g.Add(*in, g.Negate(prev))
			prev = *in
		},
	})
	return &Stream[T]{c: c, cur: cur}
}

// Incrementalize builds Q^Δ = D ∘ Q ∘ I for an operator Q over full
// accumulated state, turning it into an operator over deltas. For linear Q
// this equals lifting Q directly; for non-linear Q it is the general form.
func Incrementalize[A, B any](s *Stream[A], q func(A) B, gA Group[A], gB Group[B]) *Stream[B] {
	return Differentiate(Lift(Integrate(s, gA), q), gB)
}

// Sink registers fn to receive the stream's value once per Step, after all
// nodes have evaluated. Sinks fire in registration order.
func (s *Stream[T]) Sink(fn func(T)) {
	cur := s.cur
	s.c.sinks = append(s.c.sinks, func() { fn(*cur) })
}

// Step propagates exactly one tick's deltas through the graph in dependency
// order and then invokes every registered sink exactly once. Inputs omitted
// from the map carry their zero delta; unknown input names are a validation
// error and leave the circuit un-advanced.
func (c *Circuit) Step(inputs map[string]any) error {
	// Validate fully before applying anything so a bad Step leaves the
	// circuit un-advanced.
	for name, v := range inputs {
		binding, ok := c.inputs[name]
		if !ok {
			return errors.WrapInvalid(errors.ErrUnknownInput, "Circuit", "Step",
				fmt.Sprintf("input %q", name))
		}
		if err := binding.check(v); err != nil {
			return err
		}
	}

	for name, binding := range c.inputs {
		v, ok := inputs[name]
		if !ok {
			binding.reset()
			continue
		}
		if err := binding.set(v); err != nil {
			return err
		}
	}

	for _, n := range c.nodes {
		n.eval()
	}
	for _, sink := range c.sinks {
		sink()
	}

	c.tick++
	return nil
}
