// Package vuln is a small hand-instrumented target: a record parser guarded
// by the magic "FUZ" that overreads a fixed buffer and can stall forever.
package vuln

import (
	"strconv"
	"time"

	"alma.local/greybox/executor"
	"alma.local/greybox/targets"
	"alma.local/greybox/tracer"
)

const sites = 16

var edges [sites]uint32

// Hang is how long the stall branch blocks.
var Hang = time.Hour

func init() {
	maxID := uint32(0)
	for i := range edges {
		edges[i] = tracer.EdgeID("vuln", "Func", strconv.Itoa(i))
		maxID = max(maxID, edges[i])
	}
	tracer.Extend(int(maxID) + 1)
	targets.Register("vuln", executor.TargetFunc(Func))
}

func hit(site int) { tracer.Hit(edges[site]) }

// Func parses payload once magic is "FUZ". Record kinds:
//
//	'C' n      checksum over a 16 byte window at offset n
//	'H' 'H'    stalls for Hang
//	'P' ...    NUL terminated string
//
// It reports whether the payload was a well-formed record.
func Func(magic, payload []byte) bool {
	hit(0)
	if len(magic) < executor.MagicLen {
		hit(1)
		return false
	}
	if magic[0] != 'F' {
		hit(2)
		return false
	}
	hit(3)
	if magic[1] != 'U' {
		return false
	}
	hit(4)
	if magic[2] != 'Z' {
		return false
	}
	hit(5)
	if len(payload) == 0 {
		hit(6)
		return false
	}

	switch payload[0] {
	case 'C':
		hit(7)
		var window [16]byte
		off := 0
		if len(payload) > 1 {
			off = int(payload[1]) % 32
		}
		// Offsets 16..31 are past the window.
		sum := window[off]
		for _, b := range payload[min(2, len(payload)):] {
			sum ^= b
		}
		return sum == 0
	case 'H':
		hit(8)
		if len(payload) > 1 && payload[1] == 'H' {
			hit(9)
			time.Sleep(Hang)
		}
		return false
	case 'P':
		hit(10)
		for i, b := range payload[1:] {
			if b == 0 {
				hit(11)
				return i > 0
			}
		}
		hit(12)
		return false
	default:
		hit(13)
		return false
	}
}
