package paw

import (
	"math"

	"tracker-ng/internal/ogn"
)

const knotMS = 0.514444

// FromOGN builds a long-range packet from a plain primary position packet.
func FromOGN(p ogn.Packet) Packet {
	pos := p.Position()
	return Packet{
		Address:  p.Header.Address,
		AddrType: p.Header.AddrType,
		Relay:    p.Header.Relay > 0,
		LatDeg:   float32(pos.LatDeg),
		LonDeg:   float32(pos.LonDeg),
		AltM:     uint16(math.Max(0, math.Min(65535, math.Round(pos.AltM)))),
		Heading:  uint16(math.Round(pos.HeadingDeg)) % 360,
		SpeedKt:  uint16(math.Round(pos.SpeedMS / knotMS)),
		ClimbMS:  pos.ClimbMS,
		AcftType: pos.AcftType,
	}
}

// ToOGN converts a received long-range packet into a primary position
// packet so it can share primary relay and consumer paths. utcSecond fills
// the time field the long-range format does not carry.
func (p Packet) ToOGN(utcSecond uint32) ogn.Packet {
	var out ogn.Packet
	out.Header = ogn.Header{Address: p.Address, AddrType: p.AddrType}
	if p.Relay {
		out.Header.Relay = 1
	}
	out.SetPosition(ogn.Position{
		Time:       uint8(utcSecond % 60),
		FixQuality: 1,
		FixMode:    1,
		LatDeg:     float64(p.LatDeg),
		LonDeg:     float64(p.LonDeg),
		AltM:       float64(p.AltM),
		SpeedMS:    float64(p.SpeedKt) * knotMS,
		HeadingDeg: float64(p.Heading),
		ClimbMS:    p.ClimbMS,
		AcftType:   p.AcftType,
	})
	return out
}
