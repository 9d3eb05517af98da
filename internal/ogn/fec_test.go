package ogn

import (
	"bytes"
	"testing"

	"tracker-ng/internal/rng"
)

func randomData(src *rng.XorShift) [DataBytes]byte {
	var d [DataBytes]byte
	for i := range d {
		d[i] = byte(src.Uint32())
	}
	return d
}

func TestCodeColumnsAreDistinct(t *testing.T) {
	if len(syndromeIndex) != frameBits {
		t.Fatalf("distinct syndromes=%d want %d", len(syndromeIndex), frameBits)
	}
	for i, c := range checkColumns {
		if c == 0 || c>>parityBits != 0 {
			t.Fatalf("column %d out of range: %x", i, c)
		}
	}
}

func TestEncodeFEC_ProducesCodeword(t *testing.T) {
	src := rng.NewXorShift(7)
	for n := 0; n < 50; n++ {
		frame := EncodeFEC(randomData(src))
		if s := Syndrome(frame[:]); s != 0 {
			t.Fatalf("syndrome=%x", s)
		}
	}
}

func TestDecodeFEC_CorrectsEverySingleBit(t *testing.T) {
	src := rng.NewXorShift(99)
	for n := 0; n < 8; n++ {
		want := EncodeFEC(randomData(src))
		for bit := 0; bit < frameBits; bit++ {
			got := want
			flipBit(got[:], bit)
			corrected, ok := DecodeFEC(got[:], nil)
			if !ok || corrected != 1 {
				t.Fatalf("payload %d bit %d: corrected=%d ok=%v", n, bit, corrected, ok)
			}
			if got != want {
				t.Fatalf("payload %d bit %d: frame not restored", n, bit)
			}
		}
	}
}

func TestDecodeFEC_CleanFrame(t *testing.T) {
	want := EncodeFEC(randomData(rng.NewXorShift(3)))
	got := want
	corrected, ok := DecodeFEC(got[:], nil)
	if !ok || corrected != 0 || got != want {
		t.Fatalf("corrected=%d ok=%v", corrected, ok)
	}
}

func TestDecodeFEC_UsesErasureFlags(t *testing.T) {
	want := EncodeFEC(randomData(rng.NewXorShift(11)))
	got := want
	mask := make([]byte, FrameBytes)
	for _, bit := range []int{3, 77, 150, 201} {
		flipBit(got[:], bit)
		flipBit(mask, bit)
	}
	// An unrelated flagged bit that is actually correct.
	flipBit(mask, 100)

	corrected, ok := DecodeFEC(got[:], mask)
	if !ok || corrected != 4 {
		t.Fatalf("corrected=%d ok=%v", corrected, ok)
	}
	if !bytes.Equal(got[:], want[:]) {
		t.Fatalf("frame not restored")
	}
}

func TestDecodeFEC_ShortFrame(t *testing.T) {
	if _, ok := DecodeFEC(make([]byte, 10), nil); ok {
		t.Fatalf("short frame accepted")
	}
}
