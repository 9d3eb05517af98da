package ogn

import (
	"math"

	"tracker-ng/internal/geo"
)

// RelayRank weighs a received packet for rebroadcast. Already relayed and
// status packets are never relayed; emergencies always win.
func RelayRank(p Packet, own geo.Position) uint8 {
	if p.Header.Emergency {
		return 255
	}
	if p.Header.Relay > 0 || p.Header.NonPos {
		return 0
	}
	if p.Header.Encrypted || !own.Valid {
		return 1
	}
	pos := p.Position()
	if pos.FixQuality == 0 {
		return 0
	}
	d := geo.DistanceM(own.LatDeg, own.LonDeg, pos.LatDeg, pos.LonDeg)
	return geo.RelayRank(d, pos.AltM-own.AltM)
}

// Significant reports whether next differs enough from prev to be worth
// forwarding downstream (time gap, manoeuvre or position jump).
func Significant(prev, next Packet) bool {
	if prev.Header.NonPos != next.Header.NonPos || next.Header.Encrypted || prev.Header.Encrypted {
		return true
	}
	if next.Header.NonPos {
		return false
	}
	a, b := prev.Position(), next.Position()
	if a.Time < 60 && b.Time < 60 {
		dt := (int(b.Time) - int(a.Time) + 60) % 60
		if dt >= 20 {
			return true
		}
	}
	if math.Abs(b.ClimbMS-a.ClimbMS) >= 1.0 {
		return true
	}
	if math.Abs(b.SpeedMS-a.SpeedMS) >= 2.0 {
		return true
	}
	if math.Abs(b.TurnDegS-a.TurnDegS) >= 2.0 {
		return true
	}
	dh := math.Abs(b.HeadingDeg - a.HeadingDeg)
	if dh > 180 {
		dh = 360 - dh
	}
	if dh >= 10 {
		return true
	}
	return geo.DistanceM(a.LatDeg, a.LonDeg, b.LatDeg, b.LonDeg) >= 500
}
