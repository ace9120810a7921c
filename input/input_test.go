package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	orig := Input("hello world")
	cp := orig.Clone()
	cp[0] = 'j'

	assert.Equal(t, "hello world", string(orig))
	assert.Equal(t, "jello world", string(cp))
}

func TestCloneNil(t *testing.T) {
	var in Input
	cp := in.Clone()
	assert.NotNil(t, cp)
	assert.Len(t, cp, 0)
}

func TestIDFollowsContent(t *testing.T) {
	a := Input{1, 2, 3}
	b := Input{1, 2, 3}
	c := Input{1, 2, 4}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Contains(t, a.String(), "[3]")
}
