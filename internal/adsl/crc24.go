package adsl

// CRC-24 with the Mode-S generator, computed MSB first over the version,
// header and payload bytes and appended big-endian.
const crc24Poly = 0xFFF409

var crc24Table = func() [256]uint32 {
	var t [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 16
		for b := 0; b < 8; b++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24Poly
			}
		}
		t[i] = crc & 0xFFFFFF
	}
	return t
}()

func crc24(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc<<8)&0xFFFFFF ^ crc24Table[byte(crc>>16)^b]
	}
	return crc
}

// CheckPI returns the CRC syndrome of a full frame; zero means intact.
func CheckPI(frame []byte) uint32 {
	if len(frame) < FrameBytes {
		return 0xFFFFFFFF
	}
	got := uint32(frame[FrameBytes-3])<<16 | uint32(frame[FrameBytes-2])<<8 | uint32(frame[FrameBytes-1])
	return crc24(frame[:FrameBytes-3]) ^ got
}

// bitSyndromes[i] is the syndrome produced by flipping frame bit i (MSB
// first). The CRC is linear so syndromes of multi-bit errors XOR together.
var bitSyndromes, syndromeBits = func() ([frameBits]uint32, map[uint32]int) {
	var syn [frameBits]uint32
	idx := make(map[uint32]int, frameBits)
	var zero [FrameBytes]byte
	base := CheckPI(zero[:])
	for i := 0; i < frameBits; i++ {
		var f [FrameBytes]byte
		f[i>>3] = 0x80 >> (i & 7)
		syn[i] = CheckPI(f[:]) ^ base
		if _, dup := idx[syn[i]]; !dup {
			idx[syn[i]] = i
		}
	}
	return syn, idx
}()

// FindSyndrome maps a single-bit error syndrome to its bit position.
func FindSyndrome(s uint32) (int, bool) {
	i, ok := syndromeBits[s]
	return i, ok
}

// FlipBit toggles bit i (MSB first) of frame.
func FlipBit(frame []byte, i int) {
	frame[i>>3] ^= 0x80 >> (i & 7)
}
