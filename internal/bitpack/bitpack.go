// Package bitpack has the MSB-first bit streams and compact number
// encodings shared by the packet formats.
package bitpack

import "math"

// Writer appends fields MSB first into a zeroed buffer.
type Writer struct {
	Buf []byte
	Pos int
}

func (w *Writer) Put(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if v&(1<<i) != 0 {
			w.Buf[w.Pos>>3] |= 0x80 >> (w.Pos & 7)
		}
		w.Pos++
	}
}

// Reader consumes fields MSB first.
type Reader struct {
	Buf []byte
	Pos int
}

func (r *Reader) Get(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v <<= 1
		if r.Buf[r.Pos>>3]&(0x80>>(r.Pos&7)) != 0 {
			v |= 1
		}
		r.Pos++
	}
	return v
}

// SignExtend interprets the low n bits of v as two's complement.
func SignExtend(v uint32, n uint) int32 {
	shift := 32 - n
	return int32(v<<shift) >> shift
}

// ClampSigned rounds v into an n-bit two's complement field, saturating.
func ClampSigned(v float64, n uint) uint32 {
	limit := float64(int32(1)<<(n-1)) - 1
	v = math.Max(-limit, math.Min(limit, math.Round(v)))
	return uint32(int32(v)) & (1<<n - 1)
}

// ClampUnsigned rounds v into an n-bit unsigned field, saturating.
func ClampUnsigned(v float64, n uint) uint32 {
	limit := float64(uint32(1)<<n - 1)
	return uint32(math.Max(0, math.Min(limit, math.Round(v))))
}

// EncodeUR2 packs v with a 2-bit exponent and an m-bit mantissa: steps of
// 1, 2, 4 and 8 over successive ranges. Values past the range saturate.
func EncodeUR2(v uint32, m uint) uint32 {
	M := uint32(1) << m
	switch {
	case v < M:
		return v
	case v < 3*M:
		return 1<<m | (v-M)>>1
	case v < 7*M:
		return 2<<m | (v-3*M)>>2
	case v < 15*M:
		return 3<<m | (v-7*M)>>3
	default:
		return 3<<m | (M - 1)
	}
}

func DecodeUR2(v uint32, m uint) uint32 {
	M := uint32(1) << m
	mant := v & (M - 1)
	switch (v >> m) & 3 {
	case 0:
		return mant
	case 1:
		return M + mant<<1
	case 2:
		return 3*M + mant<<2
	default:
		return 7*M + mant<<3
	}
}
