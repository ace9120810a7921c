package tracer

import (
	"testing"
)

func TestHitAndEdges(t *testing.T) {
	Extend(16)
	Reset()

	Hit(1)
	Hit(2)
	Hit(2)
	Hit(3)

	edges := Edges()
	if len(edges) < 16 {
		t.Fatalf("Expected at least 16 live edges, got %d", len(edges))
	}

	expected := map[int]uint8{1: 1, 2: 2, 3: 1}
	for i, want := range expected {
		if edges[i] != want {
			t.Errorf("Edge %d: expected %d hits, got %d", i, want, edges[i])
		}
	}
	if edges[0] != 0 {
		t.Errorf("Edge 0 should not have been hit, got %d", edges[0])
	}
}

func TestReset(t *testing.T) {
	Extend(8)
	Hit(5)

	Reset()

	for i, c := range Edges() {
		if c != 0 {
			t.Errorf("Expected edge %d to be zero after reset, got %d", i, c)
		}
	}
}

func TestHitSaturates(t *testing.T) {
	Extend(8)
	Reset()

	for i := 0; i < 1000; i++ {
		Hit(7)
	}
	if got := Edges()[7]; got != 0xff {
		t.Errorf("Expected saturated counter 255, got %d", got)
	}
}

func TestExtendIsMonotonicAndCapped(t *testing.T) {
	Extend(32)
	before := MaxEdgesFound()

	Extend(4)
	if MaxEdgesFound() != before {
		t.Errorf("Extend must never shrink the map: %d -> %d", before, MaxEdgesFound())
	}

	Extend(MapSize * 4)
	if MaxEdgesFound() != MapSize {
		t.Errorf("Expected map to be capped at %d, got %d", MapSize, MaxEdgesFound())
	}
}

func TestEdgeIDStable(t *testing.T) {
	a := EdgeID("pkg", "Func", "3")
	b := EdgeID("pkg", "Func", "3")
	c := EdgeID("pkg", "Func", "4")
	if a != b {
		t.Errorf("EdgeID is not stable: %d != %d", a, b)
	}
	if a == c {
		t.Logf("EdgeID collision between blocks 3 and 4 (possible but unlikely)")
	}
	if a >= MapSize {
		t.Errorf("EdgeID %d escapes the map", a)
	}
}
