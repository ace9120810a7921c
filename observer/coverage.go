package observer

// Classes is the number of distinct non-zero hit classes.
const Classes = 8

// classLookup maps a raw hit count to its bucket: 1, 2, 3, 4-7, 8-15, 16-31,
// 32-127 and 128-255 become classes 1..8; zero stays zero.
var classLookup [256]uint8

func init() {
	for c := 1; c < 256; c++ {
		switch {
		case c == 1:
			classLookup[c] = 1
		case c == 2:
			classLookup[c] = 2
		case c == 3:
			classLookup[c] = 3
		case c <= 7:
			classLookup[c] = 4
		case c <= 15:
			classLookup[c] = 5
		case c <= 31:
			classLookup[c] = 6
		case c <= 127:
			classLookup[c] = 7
		default:
			classLookup[c] = 8
		}
	}
}

// HitClass returns the bucket of a raw hit count.
func HitClass(count uint8) uint8 {
	return classLookup[count]
}

// Pair is one edge observed in a run together with its hit class.
type Pair struct {
	Edge  uint32
	Class uint8
}

// CoverageMetadata is the sparse, bucketed view of one run's edge map.
type CoverageMetadata struct {
	Pairs []Pair
}

// Edges is the number of distinct edges the run touched.
func (m CoverageMetadata) Edges() int {
	return len(m.Pairs)
}

// Map is the read side of the instrumentation's edge counters.
type Map interface {
	Edges() []uint8
}

// MapFunc adapts a function such as tracer.Edges to Map.
type MapFunc func() []uint8

func (f MapFunc) Edges() []uint8 { return f() }

// CoverageObserver converts the raw counters of the last run into hit classes.
type CoverageObserver struct {
	name string
	m    Map
}

func NewCoverageObserver(name string, m Map) *CoverageObserver {
	return &CoverageObserver{name: name, m: m}
}

func (o *CoverageObserver) Name() string { return o.name }

// PreExec is a no-op: the executor owns resetting the map.
func (o *CoverageObserver) PreExec() {}

func (o *CoverageObserver) PostExec() {}

// Snapshot reads the map without modifying it.
func (o *CoverageObserver) Snapshot() CoverageMetadata {
	var pairs []Pair
	for i, c := range o.m.Edges() {
		if c == 0 {
			continue
		}
		pairs = append(pairs, Pair{Edge: uint32(i), Class: classLookup[c]})
	}
	return CoverageMetadata{Pairs: pairs}
}
