// Package manchester implements the nibble-wise Manchester line code used by
// the FSK tracker protocols: a 0 bit is sent as "10", a 1 bit as "01".
package manchester

import "math/bits"

var encodeTable = [16]byte{
	0xAA, 0xA9, 0xA6, 0xA5, 0x9A, 0x99, 0x96, 0x95,
	0x6A, 0x69, 0x66, 0x65, 0x5A, 0x59, 0x56, 0x55,
}

// decodeTable maps an encoded byte to its nibble (low 4 bits) and error
// flags (high 4 bits). An invalid pair ("00" or "11") sets the flag of that
// bit and takes the data bit from the second chip.
var decodeTable = func() [256]byte {
	var t [256]byte
	for b := 0; b < 256; b++ {
		var nib, errs byte
		for i := 0; i < 4; i++ {
			pair := (b >> (6 - 2*i)) & 3
			nib <<= 1
			errs <<= 1
			switch pair {
			case 0b10:
			case 0b01:
				nib |= 1
			default:
				errs |= 1
				nib |= byte(pair & 1)
			}
		}
		t[b] = errs<<4 | nib
	}
	return t
}()

// EncodeNibble returns the Manchester byte for the low nibble of n.
func EncodeNibble(n byte) byte { return encodeTable[n&0x0F] }

// DecodeNibble returns the nibble carried by b and a 4-bit error mask.
func DecodeNibble(b byte) (nibble, errMask byte) {
	v := decodeTable[b]
	return v & 0x0F, v >> 4
}

// Encode appends the Manchester encoding of src (two bytes per input byte,
// high nibble first) to dst.
func Encode(dst, src []byte) []byte {
	for _, b := range src {
		dst = append(dst, encodeTable[b>>4], encodeTable[b&0x0F])
	}
	return dst
}

// Decode converts len(data) bytes from src (which must hold twice as many)
// into data, writing per-bit error flags into errMask. It returns the total
// number of flagged bits.
func Decode(data, errMask, src []byte) int {
	count := 0
	for i := range data {
		if 2*i+1 >= len(src) {
			data[i] = 0
			errMask[i] = 0xFF
			count += 8
			continue
		}
		hi, hiErr := DecodeNibble(src[2*i])
		lo, loErr := DecodeNibble(src[2*i+1])
		data[i] = hi<<4 | lo
		errMask[i] = hiErr<<4 | loErr
		count += bits.OnesCount8(errMask[i])
	}
	return count
}

// ErrorCount returns the number of flagged bits in mask.
func ErrorCount(mask []byte) int {
	n := 0
	for _, m := range mask {
		n += bits.OnesCount8(m)
	}
	return n
}
