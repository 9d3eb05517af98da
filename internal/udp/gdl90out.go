package udp

import (
	"math"
	"time"

	"tracker-ng/internal/gdl90"
	"tracker-ng/internal/gps"
	"tracker-ng/internal/traffic"
)

const (
	feetPerMetre = 3.28084
	knotsPerMS   = 1.94384
)

// Composer builds one second worth of GDL90 frames: heartbeat, device ID,
// ownship and every traffic target with a position.
type Composer struct {
	Fix      func() gps.Fix
	Targets  func(now time.Time) []traffic.Target
	Own      traffic.Key
	AcftType uint8
	Callsign string
}

func (c Composer) Frames(now time.Time) [][]byte {
	var fix gps.Fix
	if c.Fix != nil {
		fix = c.Fix()
	}
	out := [][]byte{
		gdl90.HeartbeatFrame(now, fix.Valid),
		gdl90.DeviceIDFrame("tracker-ng", "tracker-ng relay"),
	}
	if fix.Valid {
		out = append(out, gdl90.OwnshipFrame(c.ownship(fix)))
	}
	if c.Targets == nil {
		return out
	}
	for _, t := range c.Targets(now) {
		if !t.PositionValid || t.Key == c.Own {
			continue
		}
		out = append(out, gdl90.TrafficFrame(t.Report()))
	}
	return out
}

func (c Composer) ownship(fix gps.Fix) gdl90.Report {
	return gdl90.Report{
		AddrType:  gdl90.AddrADSBSelf,
		Address:   c.Own.Address,
		LatDeg:    fix.LatDeg,
		LonDeg:    fix.LonDeg,
		AltFeet:   int(math.Round(fix.AltM * feetPerMetre)),
		NIC:       8,
		NACp:      8,
		GroundKt:  int(math.Round(fix.SpeedMS * knotsPerMS)),
		TrackDeg:  fix.TrackDeg,
		VvelFpm:   int(math.Round(fix.ClimbMS * feetPerMetre * 60)),
		VvelValid: true,
		Airborne:  fix.SpeedMS > 5,
		Emitter:   traffic.Emitter(c.AcftType),
		Callsign:  c.Callsign,
	}
}
