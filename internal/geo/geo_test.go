package geo

import (
	"math"
	"testing"
)

func TestDistanceM_OneArcMinuteLatitude(t *testing.T) {
	d := DistanceM(45, 7, 45+1.0/60, 7)
	if math.Abs(d-1853) > 5 {
		t.Fatalf("distance=%v want ~1853", d)
	}
}

func TestRelayRank_PrefersCloserAndLower(t *testing.T) {
	near := RelayRank(500, 100)
	far := RelayRank(12000, 100)
	if near <= far {
		t.Fatalf("near=%d far=%d", near, far)
	}
	low := RelayRank(3000, -200)
	high := RelayRank(3000, 1200)
	if low <= high {
		t.Fatalf("low=%d high=%d", low, high)
	}
	if RelayRank(1e6, 1e5) != 1 {
		t.Fatalf("distant traffic should keep rank 1")
	}
}
