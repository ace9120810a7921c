// Package mutator derives new candidate inputs from corpus entries with
// stacked, randomly chosen byte-level edits ("havoc").
package mutator

import (
	"math/rand/v2"

	"alma.local/greybox/input"
)

// DefaultMaxStackPow bounds the number of stacked edits to 1<<DefaultMaxStackPow.
const DefaultMaxStackPow = 7

// Donors supplies other inputs for the splicing operators.
type Donors interface {
	Len() int
	Donor(idx int) []byte
}

// Op is one byte-level edit. It may modify data in place or return a new
// slice; it must never return a slice longer than max.
type Op struct {
	Name  string
	Apply func(h *Havoc, data []byte, rng *rand.Rand) []byte
}

// Havoc applies a random stack of Ops to a copy of the parent.
type Havoc struct {
	ops         []Op
	maxStackPow int
	maxSize     int
	donors      Donors
	applied     map[string]uint64
}

// Option customises a Havoc mutator.
type Option func(*Havoc)

// WithDonors enables the splicing operators.
func WithDonors(d Donors) Option {
	return func(h *Havoc) { h.donors = d }
}

// WithMaxStackPow overrides DefaultMaxStackPow.
func WithMaxStackPow(pow int) Option {
	return func(h *Havoc) {
		if pow > 0 {
			h.maxStackPow = pow
		}
	}
}

// WithMaxSize overrides input.MaxSize as the output length limit.
func WithMaxSize(n int) Option {
	return func(h *Havoc) {
		if n > 0 {
			h.maxSize = n
		}
	}
}

// WithOps replaces the operator set.
func WithOps(ops ...Op) Option {
	return func(h *Havoc) { h.ops = ops }
}

func NewHavoc(opts ...Option) *Havoc {
	h := &Havoc{
		ops:         HavocOps(),
		maxStackPow: DefaultMaxStackPow,
		maxSize:     input.MaxSize,
		applied:     make(map[string]uint64),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Mutate returns a new input derived from parent. The parent is left
// untouched and the result never shares storage with it. The result may
// equal the parent byte for byte.
func (h *Havoc) Mutate(parent input.Input, rng *rand.Rand) input.Input {
	out := make([]byte, len(parent), len(parent)+64)
	copy(out, parent)

	stack := 1 << (1 + rng.IntN(h.maxStackPow))
	for i := 0; i < stack; i++ {
		op := h.ops[rng.IntN(len(h.ops))]
		out = op.Apply(h, out, rng)
		h.applied[op.Name]++
	}
	if len(out) > h.maxSize {
		out = out[:h.maxSize]
	}
	return input.Input(out)
}

// Applied reports how many times each operator has run.
func (h *Havoc) Applied() map[string]uint64 {
	return h.applied
}
