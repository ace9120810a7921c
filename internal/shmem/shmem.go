// Package shmem is the in-flight region shared between a worker and its
// supervisor: a file-backed MAP_SHARED mapping that always holds the input
// currently being executed, so it survives the worker dying mid-call.
package shmem

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"alma.local/greybox/input"
)

// Header layout, all little endian:
//
//	0  state   uint32  (idle or running)
//	4  length  uint32
//	8  started int64   unix nanoseconds
//	16 runs    uint64
const (
	offState   = 0
	offLength  = 4
	offStarted = 8
	offRuns    = 16
	headerSize = 32

	// Size is the length of the backing file.
	Size = headerSize + input.MaxSize
)

const (
	stateIdle uint32 = iota
	stateRunning
)

// Region is one mapping of the in-flight file.
type Region struct {
	path string
	f    *os.File
	mem  []byte
}

// Open maps the region at path, creating and sizing the file if needed.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open in-flight region %s", path)
	}
	if err := f.Truncate(Size); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "size in-flight region %s", path)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mmap in-flight region %s", path)
	}
	return &Region{path: path, f: f, mem: mem}, nil
}

func (r *Region) Path() string { return r.path }

func (r *Region) state() *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[offState]))
}

func (r *Region) started() *int64 {
	return (*int64)(unsafe.Pointer(&r.mem[offStarted]))
}

func (r *Region) runs() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[offRuns]))
}

// Begin publishes data as the input about to run.
func (r *Region) Begin(data []byte) {
	atomic.StoreUint32(r.state(), stateIdle)
	n := copy(r.mem[headerSize:], data)
	binary.LittleEndian.PutUint32(r.mem[offLength:], uint32(n))
	atomic.StoreInt64(r.started(), time.Now().UnixNano())
	atomic.AddUint64(r.runs(), 1)
	atomic.StoreUint32(r.state(), stateRunning)
}

// End marks the current run as finished.
func (r *Region) End() {
	atomic.StoreUint32(r.state(), stateIdle)
}

// Clear forgets any in-flight input.
func (r *Region) Clear() {
	atomic.StoreUint32(r.state(), stateIdle)
	binary.LittleEndian.PutUint32(r.mem[offLength:], 0)
}

// Snapshot is a copy of the region as seen by a reader.
type Snapshot struct {
	Running bool
	Data    input.Input
	Started time.Time
	Runs    uint64
}

// Read copies the region. Data is only filled while a run is in flight.
func (r *Region) Read() Snapshot {
	snap := Snapshot{
		Running: atomic.LoadUint32(r.state()) == stateRunning,
		Runs:    atomic.LoadUint64(r.runs()),
	}
	if !snap.Running {
		return snap
	}
	snap.Started = time.Unix(0, atomic.LoadInt64(r.started()))
	n := binary.LittleEndian.Uint32(r.mem[offLength:])
	if n > input.MaxSize {
		n = input.MaxSize
	}
	snap.Data = append(input.Input{}, r.mem[headerSize:headerSize+n]...)
	return snap
}

// Close unmaps the region. The backing file is kept.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "close in-flight region")
}
