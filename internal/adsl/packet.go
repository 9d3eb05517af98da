// Package adsl implements the secondary, scrambled FSK tracker protocol: a
// 24 byte frame (version, header, 16 byte payload, CRC-24) sent Manchester
// encoded alongside the primary protocol.
package adsl

import (
	"math"
	"math/bits"

	"tracker-ng/internal/bitpack"
	"tracker-ng/internal/geo"
	"tracker-ng/internal/rng"
)

const (
	FrameBytes   = 24
	payloadStart = 5
	payloadBytes = 16
	frameBits    = FrameBytes * 8

	// MaxErasureBits bounds the flagged-bit search during correction.
	MaxErasureBits = 10
)

// Message types.
const (
	MsgTraffic uint8 = 2
	MsgStatus  uint8 = 3
)

// Packet is a decoded traffic message. Time counts quarter seconds within
// the current 15 second epoch (0..59).
type Packet struct {
	Version     uint8
	Address     uint32
	AddrType    uint8
	Relay       bool
	MsgType     uint8
	Time        uint8
	FlightState uint8 // 0 unknown, 1 ground, 2 airborne
	AcftCat     uint8
	Emergency   uint8
	LatDeg      float64
	LonDeg      float64
	AltM        float64
	SpeedMS     float64
	ClimbMS     float64
	TrackDeg    float64
}

func (p Packet) IsPosition() bool { return p.MsgType == MsgTraffic }

// scrambler is generated from a fixed seed; it does not reproduce the
// published ADS-L scrambling.
var scrambler = func() [payloadBytes]byte {
	var s [payloadBytes]byte
	x := uint32(0x6C8E9CF5)
	for i := range s {
		x = rng.XorShift32(x)
		s[i] = byte(x >> 11)
	}
	return s
}()

func scramble(frame []byte) {
	for i := 0; i < payloadBytes; i++ {
		frame[payloadStart+i] ^= scrambler[i]
	}
}

// Encode packs, scrambles and CRC protects p.
func Encode(p Packet) [FrameBytes]byte {
	var f [FrameBytes]byte
	f[0] = p.Version
	hdr := p.Address&0xFFFFFF | uint32(p.AddrType&3)<<24 | uint32(p.MsgType&0x0F)<<28
	if p.Relay {
		hdr |= 1 << 26
	}
	f[1], f[2], f[3], f[4] = byte(hdr>>24), byte(hdr>>16), byte(hdr>>8), byte(hdr)

	w := bitpack.Writer{Buf: f[payloadStart : payloadStart+payloadBytes]}
	w.Put(uint32(p.Time%60), 6)
	w.Put(uint32(p.FlightState), 2)
	w.Put(uint32(p.AcftCat), 5)
	w.Put(uint32(p.Emergency), 3)
	w.Put(uint32(int32(math.Round(p.LatDeg*600000/8))), 24)
	w.Put(uint32(int32(math.Round(p.LonDeg*600000/16))), 24)
	w.Put(bitpack.EncodeUR2(uint32(math.Max(0, math.Round(p.SpeedMS*4))), 6), 8)
	w.Put(bitpack.EncodeUR2(uint32(math.Max(0, math.Round(p.AltM+320))), 12), 14)
	w.Put(bitpack.ClampSigned(p.ClimbMS*8, 9), 9)
	w.Put(uint32(math.Round(math.Mod(p.TrackDeg+360, 360)*512/360))&0x1FF, 9)

	scramble(f[:])
	crc := crc24(f[:FrameBytes-3])
	f[FrameBytes-3], f[FrameBytes-2], f[FrameBytes-1] = byte(crc>>16), byte(crc>>8), byte(crc)
	return f
}

// Correct repairs frame in place using the CRC syndrome, trying single bit
// errors, then the flagged (erasure) bits from errMask, then bit pairs.
func Correct(frame, errMask []byte) (corrected int, ok bool) {
	if len(frame) < FrameBytes {
		return 0, false
	}
	s := CheckPI(frame)
	if s == 0 {
		return 0, true
	}
	if i, hit := syndromeBits[s]; hit {
		FlipBit(frame, i)
		return 1, true
	}
	if n, hit := correctErasures(frame, errMask, s); hit {
		return n, true
	}
	for i := 0; i < frameBits; i++ {
		if j, hit := syndromeBits[s^bitSyndromes[i]]; hit && j > i {
			FlipBit(frame, i)
			FlipBit(frame, j)
			return 2, true
		}
	}
	return 0, false
}

func correctErasures(frame, errMask []byte, s uint32) (int, bool) {
	if len(errMask) < FrameBytes {
		return 0, false
	}
	var flagged []int
	for i := 0; i < frameBits; i++ {
		if errMask[i>>3]&(0x80>>(i&7)) != 0 {
			flagged = append(flagged, i)
		}
	}
	if len(flagged) == 0 || len(flagged) > MaxErasureBits {
		return 0, false
	}
	best := -1
	for subset := 1; subset < 1<<len(flagged); subset++ {
		var acc uint32
		for b, pos := range flagged {
			if subset&(1<<b) != 0 {
				acc ^= bitSyndromes[pos]
			}
		}
		if acc == s && (best < 0 || bits.OnesCount(uint(subset)) < bits.OnesCount(uint(best))) {
			best = subset
		}
	}
	if best < 0 {
		return 0, false
	}
	for b, pos := range flagged {
		if best&(1<<b) != 0 {
			FlipBit(frame, pos)
		}
	}
	return bits.OnesCount(uint(best)), true
}

// Decode corrects, descrambles and unpacks a received frame.
func Decode(frame, errMask []byte) (p Packet, corrected int, ok bool) {
	if len(frame) < FrameBytes {
		return p, 0, false
	}
	buf := make([]byte, FrameBytes)
	copy(buf, frame)
	corrected, ok = Correct(buf, errMask)
	if !ok {
		return p, corrected, false
	}
	return Unpack(buf), corrected, true
}

// Unpack reads a CRC-verified, still scrambled frame.
func Unpack(frame []byte) Packet {
	f := make([]byte, FrameBytes)
	copy(f, frame)
	scramble(f)

	hdr := uint32(f[1])<<24 | uint32(f[2])<<16 | uint32(f[3])<<8 | uint32(f[4])
	p := Packet{
		Version:  f[0],
		Address:  hdr & 0xFFFFFF,
		AddrType: uint8(hdr>>24) & 3,
		Relay:    hdr&(1<<26) != 0,
		MsgType:  uint8(hdr >> 28),
	}
	r := bitpack.Reader{Buf: f[payloadStart : payloadStart+payloadBytes]}
	p.Time = uint8(r.Get(6))
	p.FlightState = uint8(r.Get(2))
	p.AcftCat = uint8(r.Get(5))
	p.Emergency = uint8(r.Get(3))
	p.LatDeg = float64(bitpack.SignExtend(r.Get(24), 24)) * 8 / 600000
	p.LonDeg = float64(bitpack.SignExtend(r.Get(24), 24)) * 16 / 600000
	p.SpeedMS = float64(bitpack.DecodeUR2(r.Get(8), 6)) / 4
	p.AltM = float64(bitpack.DecodeUR2(r.Get(14), 12)) - 320
	p.ClimbMS = float64(bitpack.SignExtend(r.Get(9), 9)) / 8
	p.TrackDeg = float64(r.Get(9)) * 360 / 512
	return p
}

// RelayRank weighs a received packet for rebroadcast.
func RelayRank(p Packet, own geo.Position) uint8 {
	if p.Emergency != 0 {
		return 255
	}
	if p.Relay || !p.IsPosition() {
		return 0
	}
	if !own.Valid {
		return 1
	}
	d := geo.DistanceM(own.LatDeg, own.LonDeg, p.LatDeg, p.LonDeg)
	return geo.RelayRank(d, p.AltM-own.AltM)
}

// QuarterSecond converts a UTC second plus offset into the protocol's
// quarter-second timestamp.
func QuarterSecond(utc uint32, offsetMs int) uint8 {
	q := (utc%15)<<2 + uint32(offsetMs/250)
	return uint8(q % 60)
}
