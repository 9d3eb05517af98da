package sim

import (
	"math"
	"testing"
	"time"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/manchester"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/radio"
)

func TestTrafficSim_Targets_CountAndInvariants(t *testing.T) {
	s := TrafficSim{
		CenterLatDeg: 45.0,
		CenterLonDeg: -122.0,
		BaseAltM:     1400,
		SpeedMS:      60,
		RadiusM:      3700,
		Period:       90 * time.Second,
	}

	now := time.Date(2025, 12, 20, 19, 0, 0, 0, time.UTC)
	tgts := s.Targets(now, 5)
	if len(tgts) != 5 {
		t.Fatalf("expected 5 targets, got %d", len(tgts))
	}

	radiusDeg := s.RadiusM / metresPerDegLat
	maxLonDeg := radiusDeg / math.Cos(s.CenterLatDeg*math.Pi/180.0)
	for i, tgt := range tgts {
		if tgt.TrackDeg < 0 || tgt.TrackDeg >= 360 {
			t.Fatalf("tgt[%d] track out of range: %v", i, tgt.TrackDeg)
		}
		if math.Abs(tgt.LatDeg-s.CenterLatDeg) > radiusDeg*1.01 {
			t.Fatalf("tgt[%d] lat offset too large", i)
		}
		if math.Abs(tgt.LonDeg-s.CenterLonDeg) > maxLonDeg*1.01 {
			t.Fatalf("tgt[%d] lon offset too large", i)
		}
	}
}

func TestTrafficSim_Targets_ZeroCountNil(t *testing.T) {
	s := TrafficSim{}
	if got := s.Targets(time.Now(), 0); got != nil {
		t.Fatalf("expected nil for count=0")
	}
	if got := s.Targets(time.Now(), -1); got != nil {
		t.Fatalf("expected nil for count<0")
	}
}

func decodeAir(t *testing.T, a radio.Airing) []byte {
	t.Helper()
	data := make([]byte, len(a.Data)/2)
	mask := make([]byte, len(data))
	if manchester.Decode(data, mask, a.Data) != 0 {
		t.Fatalf("line coding errors in generated frame")
	}
	return data
}

func TestAir_EmitsDecodableFramesOncePerSecond(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 3, 0, time.UTC)
	a := &Air{
		Traffic: TrafficSim{CenterLatDeg: 46, CenterLonDeg: 7},
		Count:   2,
		Now:     func() time.Time { return now },
	}
	joint := [][]byte{radio.SyncWord(radio.OGN), radio.SyncWord(radio.ADSL)}

	got := a.Airings(868_200_000, joint)
	if len(got) != 2 {
		t.Fatalf("airings=%d want 2", len(got))
	}

	p, _, ok := ogn.DecodeFrame(decodeAir(t, got[0]), make([]byte, ogn.FrameBytes))
	if !ok || p.Header.Address != BaseAddress || p.Position().Time != 3 {
		t.Fatalf("ogn=%+v ok=%v", p, ok)
	}
	frame := decodeAir(t, got[1])
	q, _, ok := adsl.Decode(frame, make([]byte, adsl.FrameBytes))
	if !ok || q.Address != BaseAddress+1 || !q.IsPosition() {
		t.Fatalf("adsl=%+v ok=%v", q, ok)
	}

	if again := a.Airings(868_400_000, joint); len(again) != 0 {
		t.Fatalf("repeated within the second: %d", len(again))
	}
	now = now.Add(time.Second)
	if only := a.Airings(868_400_000, joint[:1]); len(only) != 1 {
		t.Fatalf("primary-only listener heard %d", len(only))
	}
	if none := a.Airings(869_525_000, [][]byte{{0xF1}}); none != nil {
		t.Fatalf("beacon listener heard %d", len(none))
	}
}
