package mutator

import (
	"encoding/binary"
	"math/rand/v2"
)

const (
	arithMax = 35
	maxRun   = 64
)

var (
	interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

// HavocOps is the default operator set.
func HavocOps() []Op {
	return []Op{
		{"bitflip", bitFlip},
		{"byteflip", byteFlip},
		{"byteinc", byteInc},
		{"bytedec", byteDec},
		{"byteneg", byteNeg},
		{"byterand", byteRand},
		{"byteadd", arith(1)},
		{"wordadd", arith(2)},
		{"dwordadd", arith(4)},
		{"qwordadd", arith(8)},
		{"byteinteresting", interestingValue(1)},
		{"wordinteresting", interestingValue(2)},
		{"dwordinteresting", interestingValue(4)},
		{"bytesdelete", bytesDelete},
		{"bytesdelete", bytesDelete},
		{"bytesexpand", bytesExpand},
		{"bytesinsert", bytesInsert},
		{"bytesrandinsert", bytesRandInsert},
		{"bytesset", bytesSet},
		{"bytesrandset", bytesRandSet},
		{"bytescopy", bytesCopy},
		{"bytesinsertcopy", bytesInsertCopy},
		{"bytesswap", bytesSwap},
		{"crossoverinsert", crossoverInsert},
		{"crossoverreplace", crossoverReplace},
	}
}

// randRange picks a non-empty run [off, off+n) inside a buffer of length size.
// size must be positive.
func randRange(rng *rand.Rand, size int) (off, n int) {
	n = 1 + rng.IntN(min(size, maxRun))
	off = rng.IntN(size - n + 1)
	return off, n
}

// room is how many bytes may still be added without exceeding the limit.
func (h *Havoc) room(data []byte) int {
	return h.maxSize - len(data)
}

func bitFlip(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	data[rng.IntN(len(data))] ^= 1 << rng.IntN(8)
	return data
}

func byteFlip(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	data[rng.IntN(len(data))] ^= 0xff
	return data
}

func byteInc(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	data[rng.IntN(len(data))]++
	return data
}

func byteDec(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	data[rng.IntN(len(data))]--
	return data
}

func byteNeg(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	i := rng.IntN(len(data))
	data[i] = ^data[i] + 1
	return data
}

func byteRand(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	// XOR with a non-zero value so the byte always changes.
	data[rng.IntN(len(data))] ^= byte(1 + rng.IntN(255))
	return data
}

func byteOrder(rng *rand.Rand) binary.ByteOrder {
	if rng.IntN(2) == 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func arith(width int) func(*Havoc, []byte, *rand.Rand) []byte {
	return func(_ *Havoc, data []byte, rng *rand.Rand) []byte {
		if len(data) < width {
			return data
		}
		pos := rng.IntN(len(data) - width + 1)
		delta := uint64(1 + rng.IntN(arithMax))
		if rng.IntN(2) == 0 {
			delta = -delta
		}
		buf := data[pos : pos+width]
		switch width {
		case 1:
			buf[0] += byte(delta)
		case 2:
			order := byteOrder(rng)
			order.PutUint16(buf, order.Uint16(buf)+uint16(delta))
		case 4:
			order := byteOrder(rng)
			order.PutUint32(buf, order.Uint32(buf)+uint32(delta))
		case 8:
			order := byteOrder(rng)
			order.PutUint64(buf, order.Uint64(buf)+delta)
		}
		return data
	}
}

func interestingValue(width int) func(*Havoc, []byte, *rand.Rand) []byte {
	return func(_ *Havoc, data []byte, rng *rand.Rand) []byte {
		if len(data) < width {
			return data
		}
		pos := rng.IntN(len(data) - width + 1)
		buf := data[pos : pos+width]
		switch width {
		case 1:
			buf[0] = byte(interesting8[rng.IntN(len(interesting8))])
		case 2:
			vals := append(widen16(interesting8), interesting16...)
			byteOrder(rng).PutUint16(buf, uint16(vals[rng.IntN(len(vals))]))
		case 4:
			vals := append(widen32(interesting8, interesting16), interesting32...)
			byteOrder(rng).PutUint32(buf, uint32(vals[rng.IntN(len(vals))]))
		}
		return data
	}
}

func widen16(v8 []int8) []int16 {
	out := make([]int16, 0, len(v8)+len(interesting16))
	for _, v := range v8 {
		out = append(out, int16(v))
	}
	return out
}

func widen32(v8 []int8, v16 []int16) []int32 {
	out := make([]int32, 0, len(v8)+len(v16)+len(interesting32))
	for _, v := range v8 {
		out = append(out, int32(v))
	}
	for _, v := range v16 {
		out = append(out, int32(v))
	}
	return out
}

func bytesDelete(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) <= 1 {
		return data
	}
	off, n := randRange(rng, len(data)-1)
	return append(data[:off], data[off+n:]...)
}

// insertAt opens a gap of n bytes at pos and returns the grown slice.
func insertAt(data []byte, pos, n int) []byte {
	data = append(data, make([]byte, n)...)
	copy(data[pos+n:], data[pos:len(data)-n])
	return data
}

func bytesExpand(h *Havoc, data []byte, rng *rand.Rand) []byte {
	room := h.room(data)
	if len(data) == 0 || room <= 0 {
		return data
	}
	off, n := randRange(rng, len(data))
	n = min(n, room)
	data = insertAt(data, off, n)
	copy(data[off:off+n], data[off+n:off+2*n])
	return data
}

func insertFilled(h *Havoc, data []byte, rng *rand.Rand, val byte) []byte {
	room := h.room(data)
	if room <= 0 {
		return data
	}
	n := min(1+rng.IntN(maxRun), room)
	pos := rng.IntN(len(data) + 1)
	data = insertAt(data, pos, n)
	for i := pos; i < pos+n; i++ {
		data[i] = val
	}
	return data
}

func bytesInsert(h *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	return insertFilled(h, data, rng, data[rng.IntN(len(data))])
}

func bytesRandInsert(h *Havoc, data []byte, rng *rand.Rand) []byte {
	return insertFilled(h, data, rng, byte(rng.IntN(256)))
}

func bytesSet(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	val := data[rng.IntN(len(data))]
	off, n := randRange(rng, len(data))
	for i := off; i < off+n; i++ {
		data[i] = val
	}
	return data
}

func bytesRandSet(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	val := byte(rng.IntN(256))
	off, n := randRange(rng, len(data))
	for i := off; i < off+n; i++ {
		data[i] = val
	}
	return data
}

func bytesCopy(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) <= 1 {
		return data
	}
	src, n := randRange(rng, len(data))
	dst := rng.IntN(len(data) - n + 1)
	copy(data[dst:dst+n], data[src:src+n])
	return data
}

func bytesInsertCopy(h *Havoc, data []byte, rng *rand.Rand) []byte {
	room := h.room(data)
	if len(data) == 0 || room <= 0 {
		return data
	}
	src, n := randRange(rng, len(data))
	n = min(n, room)
	chunk := append([]byte(nil), data[src:src+n]...)
	pos := rng.IntN(len(data) + 1)
	data = insertAt(data, pos, n)
	copy(data[pos:], chunk)
	return data
}

func bytesSwap(_ *Havoc, data []byte, rng *rand.Rand) []byte {
	if len(data) <= 1 {
		return data
	}
	first, n := randRange(rng, len(data)/2+1)
	n = min(n, len(data)/2)
	if n == 0 {
		return data
	}
	second := rng.IntN(len(data) - n + 1)
	a := append([]byte(nil), data[first:first+n]...)
	b := append([]byte(nil), data[second:second+n]...)
	copy(data[second:second+n], a)
	copy(data[first:first+n], b)
	return data
}

func pickDonor(h *Havoc, rng *rand.Rand) []byte {
	if h.donors == nil || h.donors.Len() == 0 {
		return nil
	}
	return h.donors.Donor(rng.IntN(h.donors.Len()))
}

func crossoverInsert(h *Havoc, data []byte, rng *rand.Rand) []byte {
	donor := pickDonor(h, rng)
	room := h.room(data)
	if len(donor) == 0 || room <= 0 {
		return data
	}
	src, n := randRange(rng, len(donor))
	n = min(n, room)
	pos := rng.IntN(len(data) + 1)
	data = insertAt(data, pos, n)
	copy(data[pos:], donor[src:src+n])
	return data
}

func crossoverReplace(h *Havoc, data []byte, rng *rand.Rand) []byte {
	donor := pickDonor(h, rng)
	if len(donor) == 0 || len(data) == 0 {
		return data
	}
	src, n := randRange(rng, len(donor))
	n = min(n, len(data))
	pos := rng.IntN(len(data) - n + 1)
	copy(data[pos:pos+n], donor[src:src+n])
	return data
}
