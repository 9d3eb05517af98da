package rng

import "testing"

func TestXorShift_NeverZeroAndDeterministic(t *testing.T) {
	a := NewXorShift(12345)
	b := NewXorShift(12345)
	for i := 0; i < 1000; i++ {
		va, vb := a.Uint32(), b.Uint32()
		if va != vb {
			t.Fatalf("step %d: %08x != %08x", i, va, vb)
		}
		if va == 0 {
			t.Fatalf("step %d: zero state", i)
		}
	}
}

func TestXorShift_ZeroSeedIsReplaced(t *testing.T) {
	if NewXorShift(0).Uint32() == 0 {
		t.Fatalf("zero seed produced zero")
	}
	x := NewXorShift(5)
	x.Mix(x.state)
	if x.state == 0 {
		t.Fatalf("Mix() left zero state")
	}
}

func TestFixed_Wraps(t *testing.T) {
	f := &Fixed{Values: []uint32{1, 2}}
	got := []uint32{f.Uint32(), f.Uint32(), f.Uint32()}
	if got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("got %v", got)
	}
}
