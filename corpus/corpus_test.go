package corpus

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma.local/greybox/input"
)

func TestInMemoryAppendOnly(t *testing.T) {
	c := NewInMemory()
	assert.Equal(t, 0, c.Len())

	idx := c.Add(Entry{Input: input.Input("one")})
	assert.Equal(t, 0, idx)
	idx = c.Add(Entry{Input: input.Input("two"), Parent: 42})
	assert.Equal(t, 1, idx)

	e, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "two", string(e.Input))
	assert.Equal(t, uint64(42), e.Parent)

	_, err = c.Get(2)
	assert.Error(t, err)
	_, err = c.Get(-1)
	assert.Error(t, err)
	assert.Len(t, c.Entries(), 2)
}

func TestRandSchedulerEmpty(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	_, err := RandScheduler{}.Next(NewInMemory(), rng)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRandSchedulerUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c := NewInMemory()
	for i := 0; i < 4; i++ {
		c.Add(Entry{Input: input.Input{byte(i)}})
	}

	counts := make([]int, 4)
	for i := 0; i < 4000; i++ {
		idx, err := RandScheduler{}.Next(c, rng)
		require.NoError(t, err)
		counts[idx]++
	}
	for i, n := range counts {
		assert.InDelta(t, 1000, n, 200, "entry %d picked %d times", i, n)
	}
}
