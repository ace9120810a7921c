package shmem

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"alma.local/greybox/input"
)

func TestRegionSharedBetweenMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inflight")
	worker, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer worker.Close()
	supervisor, err := Open(path)
	if err != nil {
		t.Fatalf("Open second mapping: %v", err)
	}
	defer supervisor.Close()

	if snap := supervisor.Read(); snap.Running {
		t.Fatalf("fresh region reports a running input")
	}

	before := time.Now()
	worker.Begin([]byte("in-flight input"))
	snap := supervisor.Read()
	if !snap.Running {
		t.Fatalf("Begin not visible through the other mapping")
	}
	if !bytes.Equal(snap.Data, []byte("in-flight input")) {
		t.Errorf("Data = %q", snap.Data)
	}
	if snap.Started.Before(before.Add(-time.Second)) {
		t.Errorf("Started = %v, want around %v", snap.Started, before)
	}
	if snap.Runs != 1 {
		t.Errorf("Runs = %d, want 1", snap.Runs)
	}

	worker.End()
	if snap := supervisor.Read(); snap.Running || snap.Data != nil {
		t.Errorf("after End: %+v", snap)
	}
}

func TestRegionShorterInputOverwrites(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "inflight"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.Begin(bytes.Repeat([]byte{'x'}, 100))
	r.Begin([]byte("abc"))
	if got := r.Read().Data; string(got) != "abc" {
		t.Errorf("Data = %q, want abc", got)
	}
	r.Clear()
	if r.Read().Running {
		t.Errorf("Clear left the region running")
	}
}

func TestRegionTruncatesOversizedInput(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "inflight"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.Begin(make([]byte, input.MaxSize+10))
	if n := len(r.Read().Data); n != input.MaxSize {
		t.Errorf("len(Data) = %d, want %d", n, input.MaxSize)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRegionReopenSeesStaleRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inflight")
	old, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	old.Begin([]byte("left over"))
	old.Close()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()
	if r.Path() != path {
		t.Errorf("Path = %q, want %q", r.Path(), path)
	}
	if snap := r.Read(); !snap.Running || string(snap.Data) != "left over" {
		t.Fatalf("reopened region lost the run: %+v", snap)
	}
	r.Clear()
	if snap := r.Read(); snap.Running || snap.Data != nil {
		t.Errorf("after Clear: %+v", snap)
	}
}
