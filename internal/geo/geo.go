// Package geo has the flat-earth distance math and relay ranking shared by
// the tracker protocols.
package geo

import "math"

const earthRadiusM = 6371000.0

// DistanceM returns the approximate ground distance in metres between two
// positions in degrees. Accurate enough for radio ranges.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	mid := (lat1 + lat2) / 2 * math.Pi / 180
	x := dLon * math.Cos(mid)
	return earthRadiusM * math.Hypot(x, dLat)
}

// RelayRank turns proximity into a relay weight: closer and lower traffic
// ranks higher. Always at least 1 so any valid position stays selectable.
func RelayRank(distM, heightAboveM float64) uint8 {
	rank := 1.0
	if distM < 16000 {
		rank += 32 * (1 - distM/16000)
	}
	dz := math.Abs(heightAboveM)
	if dz < 1600 {
		rank += 16 * (1 - dz/1600)
	}
	if heightAboveM < 0 {
		// Traffic below us is more likely out of range of ground stations.
		rank += 8
	}
	if rank > 254 {
		rank = 254
	}
	return uint8(rank)
}

// Position is an own or remote fix in degrees and metres.
type Position struct {
	Valid  bool
	LatDeg float64
	LonDeg float64
	AltM   float64
}
