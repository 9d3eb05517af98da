package fanet

import (
	"errors"
	"math"
	"testing"
)

func TestTracking_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		tr   Tracking
	}{
		{"slow-low", Tracking{LatDeg: 46.123, LonDeg: 8.456, AltM: 1200, SpeedKmh: 35, ClimbMS: 1.5, HeadingDeg: 90, AcftType: 1, Online: true}},
		{"fast-high", Tracking{LatDeg: -33.9, LonDeg: 151.2, AltM: 4300, SpeedKmh: 180, ClimbMS: -9.5, HeadingDeg: 359, AcftType: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := EncodeTracking(0x08ABCD, tc.tr)
			if len(b) != headerBytes+trackingBytes {
				t.Fatalf("len=%d", len(b))
			}
			p, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if p.Type != TypeTracking || p.Address != 0x08ABCD || !p.Forward {
				t.Fatalf("header=%+v", p)
			}
			got := p.Tracking
			if math.Abs(got.LatDeg-tc.tr.LatDeg) > 2e-5 || math.Abs(got.LonDeg-tc.tr.LonDeg) > 3e-5 {
				t.Fatalf("position=%v,%v", got.LatDeg, got.LonDeg)
			}
			if math.Abs(got.AltM-tc.tr.AltM) > 2 || math.Abs(got.SpeedKmh-tc.tr.SpeedKmh) > 1.3 ||
				math.Abs(got.ClimbMS-tc.tr.ClimbMS) > 0.26 || math.Abs(got.HeadingDeg-tc.tr.HeadingDeg) > 0.71 {
				t.Fatalf("motion=%+v", got)
			}
			if got.AcftType != tc.tr.AcftType || got.Online != tc.tr.Online {
				t.Fatalf("flags=%+v", got)
			}
		})
	}
}

func TestName_RoundTrip(t *testing.T) {
	b, err := EncodeName(0x08ABCD, "Pilot Name")
	if err != nil {
		t.Fatalf("EncodeName() error: %v", err)
	}
	p, err := Decode(b)
	if err != nil || p.Type != TypeName || p.Name != "Pilot Name" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
}

func TestErrors(t *testing.T) {
	if _, err := Decode([]byte{1, 2}); !errors.Is(err, ErrShort) {
		t.Fatalf("err=%v want ErrShort", err)
	}
	if _, err := Decode([]byte{TypeTracking, 0, 0, 0, 1, 2}); !errors.Is(err, ErrShort) {
		t.Fatalf("err=%v want ErrShort", err)
	}
	long := make([]byte, 70)
	if _, err := EncodeName(1, string(long)); !errors.Is(err, ErrLong) {
		t.Fatalf("err=%v want ErrLong", err)
	}
}
