// Package generator produces random seed inputs for an empty corpus.
package generator

import (
	"math/rand/v2"

	"alma.local/greybox/input"
)

// DefaultLength is the size of generated seeds.
const DefaultLength = 1024

// RandBytes generates fixed-length buffers of uniformly random bytes.
type RandBytes struct {
	length int
}

func NewRandBytes(length int) *RandBytes {
	if length <= 0 {
		length = DefaultLength
	}
	return &RandBytes{length: length}
}

func (g *RandBytes) Generate(rng *rand.Rand) input.Input {
	buf := make(input.Input, g.length)
	for i := 0; i < len(buf); i += 8 {
		v := rng.Uint64()
		for j := 0; j < 8 && i+j < len(buf); j++ {
			buf[i+j] = byte(v >> (8 * j))
		}
	}
	return buf
}
