// Package input defines the byte buffer test case handed between the
// generator, mutator, executor and corpus.
package input

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// MaxSize bounds every input the engine produces or loads.
const MaxSize = 1 << 20

// Input is an ordered, mutable sequence of bytes with a single owner.
// Whoever passes an Input on must not touch it afterwards; use Clone to keep
// a private copy.
type Input []byte

// Clone returns a copy that shares no storage with in.
func (in Input) Clone() Input {
	if in == nil {
		return Input{}
	}
	out := make(Input, len(in))
	copy(out, in)
	return out
}

// ID is a content hash used to name inputs in logs and corpus entries.
func (in Input) ID() uint64 {
	return xxhash.Sum64(in)
}

// String renders the length and content hash, e.g. "[1024]9f3c2a01be77d410".
func (in Input) String() string {
	return fmt.Sprintf("[%d]%016x", len(in), in.ID())
}
