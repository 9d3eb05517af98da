// Package rng holds the small deterministic generators used for backoff,
// relay selection and slot hashing.
package rng

import "math/bits"

// Source yields 32-bit pseudo-random values.
type Source interface {
	Uint32() uint32
}

// XorShift32 is one Marsaglia xorshift step.
func XorShift32(x uint32) uint32 {
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return x
}

// Hash mixes a value with xorshift and the Park-Miller multiplier, the way
// per-second slot decisions are derived from the UTC second.
func Hash(x uint32) uint32 {
	return XorShift32(x) * 48271
}

// Parity returns the population count of x modulo 2.
func Parity(x uint32) uint32 {
	return uint32(bits.OnesCount32(x) & 1)
}

// XorShift is a xorshift32 generator. Not safe for concurrent use.
type XorShift struct {
	state uint32
}

func NewXorShift(seed uint32) *XorShift {
	if seed == 0 {
		seed = 0x1B873593
	}
	return &XorShift{state: seed}
}

func (x *XorShift) Uint32() uint32 {
	x.state = XorShift32(x.state)
	return x.state
}

// Mix folds an entropy sample (e.g. radio noise) into the state.
func (x *XorShift) Mix(v uint32) {
	x.state ^= v
	if x.state == 0 {
		x.state = 0x1B873593
	}
	x.state = XorShift32(x.state)
}

// Fixed replays a fixed sequence, wrapping around. Useful in tests.
type Fixed struct {
	Values []uint32
	pos    int
}

func (f *Fixed) Uint32() uint32 {
	if len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.pos%len(f.Values)]
	f.pos++
	return v
}
