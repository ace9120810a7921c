package tracer

import (
	"hash/fnv"
	"sync/atomic"
)

// MapSize is the capacity of the edge map. It is a power of 2 so edge ids
// can be folded into it with a mask.
const MapSize = 1 << 16

var (
	// EdgesMap holds the per-edge hit counters of the current run.
	// Instrumented code writes to it through Hit; the fuzzer only reads it.
	EdgesMap [MapSize]uint8

	maxEdges atomic.Int64
)

// Hit records one traversal of the edge identified by id.
// Counters saturate at 255 so a hot loop never wraps an edge back to zero.
func Hit(id uint32) {
	i := id & (MapSize - 1)
	if EdgesMap[i] != 0xff {
		EdgesMap[i]++
	}
}

// Extend raises the number of live map slots to at least n.
// Instrumented packages call it from init with their highest edge id + 1.
func Extend(n int) {
	if n > MapSize {
		n = MapSize
	}
	for {
		cur := maxEdges.Load()
		if int64(n) <= cur || maxEdges.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// MaxEdgesFound is the number of map slots the instrumentation may write to.
func MaxEdgesFound() int {
	return int(maxEdges.Load())
}

// Reset zeroes the live part of the map before a run.
func Reset() {
	clear(EdgesMap[:MaxEdgesFound()])
}

// Edges returns the live part of the map. The slice aliases EdgesMap and must
// be treated as read-only by callers.
func Edges() []uint8 {
	return EdgesMap[:MaxEdgesFound()]
}

// EdgeID derives a stable edge id from a source location description.
// The instrumentor uses it so that re-instrumenting a file yields the same ids.
func EdgeID(parts ...string) uint32 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return uint32(h.Sum64() & (MapSize - 1))
}
