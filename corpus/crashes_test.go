package corpus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma.local/greybox/executor"
	"alma.local/greybox/input"
)

func TestCrashStoreSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crashes")
	store, err := OpenCrashStore(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())

	data := input.Input{0x46, 0x55, 0x5a, 0x00, 0xff, 0x10}
	path, err := store.Save(CrashRecord{
		Data:      data,
		Outcome:   executor.TimedOut,
		Reason:    "no return within 10s",
		Iteration: 77,
		Found:     time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, RecordName(data), filepath.Base(path))
	assert.Equal(t, store.Dir(), filepath.Dir(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(data), raw, "crash file must hold the exact bytes")

	names, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{RecordName(data)}, names)

	rec, err := store.Load(names[0])
	require.NoError(t, err)
	assert.Equal(t, data, rec.Data)
	assert.Equal(t, executor.TimedOut, rec.Outcome)
	assert.Equal(t, uint64(77), rec.Iteration)
	assert.Equal(t, "no return within 10s", rec.Reason)
}

func TestCrashStoreIdempotent(t *testing.T) {
	store, err := OpenCrashStore(t.TempDir(), "")
	require.NoError(t, err)

	rec := CrashRecord{Data: input.Input("same bytes"), Outcome: executor.Crashed}
	_, err = store.Save(rec)
	require.NoError(t, err)
	_, err = store.Save(rec)
	require.NoError(t, err)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCrashStoreLoadWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenCrashStore(dir, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manual"), []byte("abcdef"), 0o644))

	rec, err := store.Load("manual")
	require.NoError(t, err)
	assert.Equal(t, executor.Crashed, rec.Outcome)
	assert.Equal(t, "abcdef", string(rec.Data))
}

func TestCrashStoreUnwritableDir(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := OpenCrashStore(filepath.Join(blocker, "crashes"), "")
	assert.ErrorIs(t, err, ErrPersist)
}

func TestCrashRecordReplays(t *testing.T) {
	// A deterministic target that crashes on the "BAD" magic.
	target := executor.TargetFunc(func(magic, payload []byte) bool {
		if string(magic) == "BAD" {
			panic("bad magic")
		}
		return false
	})

	store, err := OpenCrashStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = store.Save(CrashRecord{Data: input.Input("BAD payload"), Outcome: executor.Crashed})
	require.NoError(t, err)

	names, err := store.List()
	require.NoError(t, err)
	for _, name := range names {
		rec, err := store.Load(name)
		require.NoError(t, err)
		exec := executor.NewInProcessExecutor(target, executor.Options{Timeout: time.Second, Reset: func() {}})
		outcome, err := exec.Run(rec.Data)
		require.NoError(t, err)
		assert.True(t, outcome.Fault(), "record %s replayed as %v", name, outcome)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	seeds, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "first", string(seeds[0]))
	assert.Equal(t, "second", string(seeds[1]))

	_, err = LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
