package generator

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateLength(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Len(t, NewRandBytes(1024).Generate(rng), 1024)
	assert.Len(t, NewRandBytes(13).Generate(rng), 13)
	assert.Len(t, NewRandBytes(0).Generate(rng), DefaultLength)
}

func TestGenerateDeterministic(t *testing.T) {
	a := NewRandBytes(64).Generate(rand.New(rand.NewPCG(5, 5)))
	b := NewRandBytes(64).Generate(rand.New(rand.NewPCG(5, 5)))
	c := NewRandBytes(64).Generate(rand.New(rand.NewPCG(5, 6)))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateLooksUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	var hist [256]int
	g := NewRandBytes(1024)
	for i := 0; i < 64; i++ {
		for _, b := range g.Generate(rng) {
			hist[b]++
		}
	}
	// 65536 bytes over 256 values: 256 expected per bucket.
	for v, n := range hist {
		assert.InDelta(t, 256, n, 120, "byte %d", v)
	}
}
