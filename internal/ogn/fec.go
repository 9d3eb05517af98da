package ogn

import (
	"math/bits"

	"tracker-ng/internal/rng"
)

// The frame carries 160 data bits followed by 48 parity bits. The parity
// check matrix is [A | I] where every data column of A has weight 3 and all
// columns are distinct, so any single bit error has a unique syndrome.
//
// A is generated from a fixed seed. It is not the LDPC matrix used by
// deployed OGN receivers, so frames decode only between builds of this code.
const (
	DataBytes   = 20
	ParityBytes = 6
	FrameBytes  = DataBytes + ParityBytes

	dataBits   = DataBytes * 8
	frameBits  = FrameBytes * 8
	parityBits = ParityBytes * 8

	maxFlipIterations = 16
	maxErasureBits    = 8
)

var checkColumns, syndromeIndex = buildCode()

func buildCode() ([frameBits]uint64, map[uint64]int) {
	var cols [frameBits]uint64
	seen := make(map[uint64]bool, dataBits)
	state := uint32(0x0A5F3C96)
	for i := 0; i < dataBits; {
		var col uint64
		for bits.OnesCount64(col) < 3 {
			state = rng.XorShift32(state)
			col |= 1 << (state % parityBits)
		}
		if seen[col] {
			continue
		}
		seen[col] = true
		cols[i] = col
		i++
	}
	for k := 0; k < parityBits; k++ {
		cols[dataBits+k] = 1 << k
	}
	index := make(map[uint64]int, frameBits)
	for i, c := range cols {
		index[c] = i
	}
	return cols, index
}

func bitAt(frame []byte, i int) bool {
	return frame[i>>3]&(0x80>>(i&7)) != 0
}

func flipBit(frame []byte, i int) {
	frame[i>>3] ^= 0x80 >> (i & 7)
}

// Syndrome returns the parity check result of a full frame. Zero means the
// frame is a valid codeword.
func Syndrome(frame []byte) uint64 {
	var s uint64
	for i := 0; i < frameBits; i++ {
		if bitAt(frame, i) {
			s ^= checkColumns[i]
		}
	}
	return s
}

// EncodeFEC appends parity to 20 data bytes.
func EncodeFEC(data [DataBytes]byte) [FrameBytes]byte {
	var out [FrameBytes]byte
	copy(out[:], data[:])
	var p uint64
	for i := 0; i < dataBits; i++ {
		if bitAt(out[:], i) {
			p ^= checkColumns[i]
		}
	}
	for k := 0; k < parityBits; k++ {
		if p&(1<<k) != 0 {
			out[dataBits/8+k/8] |= 0x80 >> (k & 7)
		}
	}
	return out
}

// DecodeFEC corrects frame in place. errMask, when non-nil, flags bits the
// demodulator was unsure about and is tried as erasures. It returns the
// number of bits flipped and whether the frame now passes the check.
func DecodeFEC(frame []byte, errMask []byte) (corrected int, ok bool) {
	if len(frame) < FrameBytes {
		return 0, false
	}
	s := Syndrome(frame)
	if s == 0 {
		return 0, true
	}
	if i, hit := syndromeIndex[s]; hit {
		flipBit(frame, i)
		return 1, true
	}
	if n, hit := tryErasures(frame, errMask, s); hit {
		return n, true
	}
	for i := 0; i < frameBits; i++ {
		if j, hit := syndromeIndex[s^checkColumns[i]]; hit && j != i {
			flipBit(frame, i)
			flipBit(frame, j)
			return 2, true
		}
	}
	return bitFlip(frame, s)
}

func tryErasures(frame, errMask []byte, s uint64) (int, bool) {
	if len(errMask) < FrameBytes {
		return 0, false
	}
	var flagged []int
	for i := 0; i < frameBits; i++ {
		if bitAt(errMask, i) {
			flagged = append(flagged, i)
		}
	}
	if len(flagged) == 0 || len(flagged) > maxErasureBits {
		return 0, false
	}
	best := -1
	for subset := 1; subset < 1<<len(flagged); subset++ {
		var acc uint64
		for b, pos := range flagged {
			if subset&(1<<b) != 0 {
				acc ^= checkColumns[pos]
			}
		}
		if acc != s {
			continue
		}
		if best < 0 || bits.OnesCount(uint(subset)) < bits.OnesCount(uint(best)) {
			best = subset
		}
	}
	if best < 0 {
		return 0, false
	}
	for b, pos := range flagged {
		if best&(1<<b) != 0 {
			flipBit(frame, pos)
		}
	}
	return bits.OnesCount(uint(best)), true
}

// bitFlip is a hard decision Gallager decoder: each round flips the bits
// that violate the most checks.
func bitFlip(frame []byte, s uint64) (int, bool) {
	corrected := 0
	for iter := 0; iter < maxFlipIterations && s != 0; iter++ {
		worst := 0
		for i := 0; i < frameBits; i++ {
			if n := bits.OnesCount64(checkColumns[i] & s); n > worst {
				worst = n
			}
		}
		if worst < 2 {
			break
		}
		for i := 0; i < frameBits; i++ {
			if bits.OnesCount64(checkColumns[i]&s) == worst {
				flipBit(frame, i)
				corrected++
			}
		}
		s = Syndrome(frame)
	}
	return corrected, s == 0
}
