package sim

import (
	"math"
	"time"

	"tracker-ng/internal/geo"
	"tracker-ng/internal/gps"
)

const metresPerDegLat = 111_320.0

// OwnshipSim flies a deterministic figure-eight around a center point and
// stands in for a GNSS receiver on the bench.
type OwnshipSim struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltM         float64
	SpeedMS      float64
	RadiusM      float64
	Period       time.Duration
}

func (s OwnshipSim) withDefaults() OwnshipSim {
	if s.Period <= 0 {
		s.Period = 120 * time.Second
	}
	if s.RadiusM <= 0 {
		s.RadiusM = 900
	}
	if s.AltM == 0 {
		s.AltM = 900
	}
	if s.SpeedMS <= 0 {
		s.SpeedMS = 45
	}
	return s
}

// Fix returns the simulated navigation solution at now. Altitude is a
// sinusoid around AltM and climb is its derivative.
func (s OwnshipSim) Fix(now time.Time) gps.Fix {
	s = s.withDefaults()
	lat, lon, trk := s.Position(now)

	// Vertical period is decoupled from horizontal to avoid repetitive sync.
	vp := max(s.Period/2, 30*time.Second)
	const amp = 150.0 // m
	w := 2 * math.Pi * float64(now.UnixNano()%vp.Nanoseconds()) / float64(vp.Nanoseconds())

	return gps.Fix{
		Valid:      true,
		Time:       now.UTC(),
		LatDeg:     lat,
		LonDeg:     lon,
		AltM:       s.AltM + amp*math.Sin(w),
		SpeedMS:    s.SpeedMS,
		TrackDeg:   trk,
		ClimbMS:    amp * (2 * math.Pi / vp.Seconds()) * math.Cos(w),
		Quality:    1,
		ThreeD:     true,
		Satellites: 10,
		HDOP:       0.9,
	}
}

// Position returns the figure-eight track position at now.
func (s OwnshipSim) Position(now time.Time) (latDeg, lonDeg, trackDeg float64) {
	s = s.withDefaults()
	radiusDeg := s.RadiusM / metresPerDegLat
	phase := float64(now.UnixNano()%s.Period.Nanoseconds()) / float64(s.Period.Nanoseconds())

	// Lissajous path: x = cos(2πt), y = 0.5*sin(4πt), inside the radius.
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = s.CenterLatDeg + radiusDeg*y
	lonDeg = s.CenterLonDeg + (radiusDeg*x)/math.Cos(s.CenterLatDeg*math.Pi/180.0)

	// Track from instantaneous velocity (atan2(east, north)).
	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	trackDeg = math.Mod(math.Atan2(vx, vy)*180/math.Pi+360, 360)
	return latDeg, lonDeg, trackDeg
}

// Ownship adapts OwnshipSim to the producer's fix source and the
// scheduler's position source.
type Ownship struct {
	Sim OwnshipSim
	Now func() time.Time
}

func (o Ownship) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Ownship) Fix() gps.Fix { return o.Sim.Fix(o.now()) }

func (o Ownship) Position() geo.Position {
	f := o.Fix()
	return geo.Position{Valid: true, LatDeg: f.LatDeg, LonDeg: f.LonDeg, AltM: f.AltM}
}
