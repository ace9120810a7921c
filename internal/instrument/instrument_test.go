package instrument

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `package sample

import "fmt"

type T struct{}

func (t *T) Check(b []byte) int {
	if len(b) > 2 {
		return 1
	}
	switch b[0] {
	case 'a':
		return 2
	default:
		fmt.Println("other")
	}
	return 0
}

func Wait(c chan int) {
	select {
	case v := <-c:
		_ = v
	}
	f := func() {}
	f()
}
`

func TestSourceInstrumentsBlocks(t *testing.T) {
	out, sites, err := Source("sample.go", []byte(sample))
	require.NoError(t, err)

	_, err = parser.ParseFile(token.NewFileSet(), "sample.go", out, 0)
	require.NoError(t, err, "instrumented source must parse:\n%s", out)

	text := string(out)
	assert.Contains(t, text, `gbtracer "alma.local/greybox/tracer"`)
	assert.Contains(t, text, "gbtracer.Extend(")
	assert.Equal(t, len(sites), strings.Count(text, "gbtracer.Hit("))

	kinds := map[string]int{}
	funcs := map[string]bool{}
	for _, s := range sites {
		kinds[s.Kind]++
		funcs[s.Func] = true
	}
	// Check: body, if. Wait: body, func literal.
	assert.Equal(t, 4, kinds["block"])
	assert.Equal(t, 2, kinds["case"])
	assert.Equal(t, 1, kinds["comm"])
	assert.True(t, funcs["T.Check"])
	assert.True(t, funcs["Wait"])
}

func TestSourceIsStable(t *testing.T) {
	_, a, err := Source("sample.go", []byte(sample))
	require.NoError(t, err)
	_, b, err := Source("sample.go", []byte(sample))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSourceRejectsInstrumented(t *testing.T) {
	out, _, err := Source("sample.go", []byte(sample))
	require.NoError(t, err)

	_, _, err = Source("sample.go", out)
	assert.ErrorIs(t, err, ErrInstrumented)
}

func TestSourceWithoutBlocks(t *testing.T) {
	src := []byte("package consts\n\nconst X = 1\n")
	out, sites, err := Source("consts.go", src)
	require.NoError(t, err)
	assert.Empty(t, sites)
	assert.Equal(t, src, out)
}
