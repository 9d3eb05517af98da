package sim

import (
	"math"
	"time"
)

type TrafficTarget struct {
	LatDeg   float64
	LonDeg   float64
	AltM     float64
	TrackDeg float64
	SpeedMS  float64
}

type TrafficSim struct {
	CenterLatDeg float64
	CenterLonDeg float64
	BaseAltM     float64
	SpeedMS      float64
	RadiusM      float64
	Period       time.Duration
}

// Targets returns count targets orbiting the configured center.
func (s TrafficSim) Targets(now time.Time, count int) []TrafficTarget {
	if count <= 0 {
		return nil
	}
	period := s.Period
	if period <= 0 {
		period = 90 * time.Second
	}
	radiusM := s.RadiusM
	if radiusM <= 0 {
		radiusM = 3000
	}
	speed := s.SpeedMS
	if speed <= 0 {
		speed = 30
	}
	alt := s.BaseAltM
	if alt == 0 {
		alt = 1400
	}
	radiusDeg := radiusM / metresPerDegLat

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	baseTheta := 2 * math.Pi * phase

	out := make([]TrafficTarget, 0, count)
	for i := 0; i < count; i++ {
		theta := baseTheta + 2*math.Pi*float64(i)/float64(count)
		out = append(out, TrafficTarget{
			LatDeg:   s.CenterLatDeg + radiusDeg*math.Cos(theta),
			LonDeg:   s.CenterLonDeg + radiusDeg*math.Sin(theta)/math.Cos(s.CenterLatDeg*math.Pi/180.0),
			AltM:     alt + float64(i-count/2)*100,
			TrackDeg: math.Mod(theta*180/math.Pi+90, 360),
			SpeedMS:  speed,
		})
	}
	return out
}
