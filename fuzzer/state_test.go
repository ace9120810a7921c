package fuzzer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma.local/greybox/corpus"
	"alma.local/greybox/feedback"
	"alma.local/greybox/input"
	"alma.local/greybox/internal/osutil"
	"alma.local/greybox/observer"
)

func writeFile(path string, data []byte) error {
	return osutil.WriteFileAtomic(path, data)
}

func TestCheckpointRestoresState(t *testing.T) {
	crashes, err := corpus.OpenCrashStore(t.TempDir(), "")
	require.NoError(t, err)
	s := NewState(42, crashes)
	s.Corpus.Add(corpus.Entry{Input: input.Input("first-entry"), Edges: 3, Seed: true, ExecTime: time.Millisecond})
	s.Corpus.Add(corpus.Entry{Input: input.Input("second-entry"), Parent: 99, NewPairs: 2, Iteration: 7})
	s.Counters = Counters{Executions: 100, Iterations: 92, Objectives: 1, Restarts: 2, SeedsTried: 8}
	s.Rand.Uint64()

	edges := feedback.NewMapFeedback("edges")
	obs := observer.Observations{Coverage: observer.CoverageMetadata{Pairs: []observer.Pair{{Edge: 5, Class: 2}}}}
	edges.Commit(obs)

	path := filepath.Join(t.TempDir(), "state.ckpt")
	require.NoError(t, SaveCheckpoint(path, s, edges))

	fresh := feedback.NewMapFeedback("edges")
	got, err := LoadCheckpoint(path, crashes, fresh)
	require.NoError(t, err)

	if diff := cmp.Diff(s.Corpus.Entries(), got.Corpus.Entries()); diff != "" {
		t.Errorf("corpus mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Counters, got.Counters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, s.Started.Equal(got.Started))
	assert.Equal(t, 1, fresh.Seen())
	assert.False(t, fresh.IsInteresting(obs, 0))

	for i := 0; i < 4; i++ {
		assert.Equal(t, s.Rand.Uint64(), got.Rand.Uint64())
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	s, err := LoadCheckpoint(filepath.Join(t.TempDir(), "none"), nil)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadCheckpointCorrupt(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not snappy at all"), 0o644))
	_, err := LoadCheckpoint(garbage, nil)
	assert.ErrorIs(t, err, ErrStateRestore)

	notGob := filepath.Join(dir, "notgob")
	require.NoError(t, os.WriteFile(notGob, snappy.Encode(nil, []byte("plain")), 0o644))
	_, err = LoadCheckpoint(notGob, nil)
	assert.ErrorIs(t, err, ErrStateRestore)
}

func TestReseedChangesSequence(t *testing.T) {
	a, b := NewState(1, nil), NewState(1, nil)
	b.Reseed(12345)
	assert.NotEqual(t, a.Rand.Uint64(), b.Rand.Uint64())
}
