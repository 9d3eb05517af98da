// Package paw implements the long-range, low-rate FSK protocol. A frame is
// 24 bytes plus an external CRC-8. The 24 bytes are either a secondary
// protocol frame (valid CRC-24) or a whitened long-range position packet
// carrying its own internal CRC-8 in the last byte.
package paw

import (
	"encoding/binary"
	"math"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/rng"
)

const (
	PacketBytes = 24
	FrameBytes  = PacketBytes + 1

	// PrefixBytes precede the frame on air, after the two byte hardware sync.
	PrefixBytes = 6

	packetType = 0x24
)

// SyncPrefix is the full long-range sync sequence; the radio matches the
// first two bytes and the remainder is transmitted as payload.
var SyncPrefix = [8]byte{0xB4, 0x2B, 0x00, 0x00, 0x00, 0x00, 0x18, 0x71}

// Kind classifies a received frame.
type Kind int

const (
	KindNone Kind = iota
	KindADSL
	KindPAW
)

func (k Kind) String() string {
	switch k {
	case KindADSL:
		return "adsl"
	case KindPAW:
		return "paw"
	default:
		return "none"
	}
}

// Packet is a long-range position report.
type Packet struct {
	Address  uint32
	AddrType uint8
	Relay    bool
	LatDeg   float32
	LonDeg   float32
	AltM     uint16
	Heading  uint16 // degrees
	SpeedKt  uint16
	ClimbMS  float64
	AcftType uint8
}

var whitening = func() [PacketBytes]byte {
	var w [PacketBytes]byte
	x := uint32(0x2B7E1516)
	for i := range w {
		x = rng.XorShift32(x)
		w[i] = byte(x >> 7)
	}
	return w
}()

func whiten(b []byte) {
	for i := 0; i < PacketBytes; i++ {
		b[i] ^= whitening[i]
	}
}

// CRC8 is the external frame check (polynomial 0x07, init 0x71).
func CRC8(data []byte) byte {
	return crc8(data, 0x07, 0x71)
}

// internalCRC covers the plain packet; a valid packet including its CRC
// byte checks to zero.
func internalCRC(data []byte) byte {
	return crc8(data, 0x1D, 0x00)
}

func crc8(data []byte, poly, crc byte) byte {
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Marshal packs, CRC protects and whitens p.
func (p Packet) Marshal() [PacketBytes]byte {
	var b [PacketBytes]byte
	b[0] = packetType
	b[1], b[2], b[3] = byte(p.Address), byte(p.Address>>8), byte(p.Address>>16)
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(p.LonDeg))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(p.LatDeg))
	binary.LittleEndian.PutUint16(b[12:], p.AltM)
	binary.LittleEndian.PutUint16(b[14:], p.Heading)
	binary.LittleEndian.PutUint16(b[16:], p.SpeedKt)
	b[18] = byte(int8(math.Max(-127, math.Min(127, math.Round(p.ClimbMS*10)))))
	b[19] = p.AcftType
	b[20] = p.AddrType & 3
	if p.Relay {
		b[20] |= 0x80
	}
	b[PacketBytes-1] = internalCRC(b[:PacketBytes-1])
	whiten(b[:])
	return b
}

func unmarshal(b []byte) Packet {
	return Packet{
		Address:  uint32(b[1]) | uint32(b[2])<<8 | uint32(b[3])<<16,
		LonDeg:   math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		LatDeg:   math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		AltM:     binary.LittleEndian.Uint16(b[12:]),
		Heading:  binary.LittleEndian.Uint16(b[14:]),
		SpeedKt:  binary.LittleEndian.Uint16(b[16:]),
		ClimbMS:  float64(int8(b[18])) / 10,
		AcftType: b[19],
		AddrType: b[20] & 3,
		Relay:    b[20]&0x80 != 0,
	}
}

// Frame appends the external CRC to a 24 byte packet (either a marshalled
// Packet or a secondary protocol frame).
func Frame(pkt [PacketBytes]byte) [FrameBytes]byte {
	var f [FrameBytes]byte
	copy(f[:], pkt[:])
	f[PacketBytes] = CRC8(pkt[:])
	return f
}

// AirBytes prefixes a frame with the tail of the sync sequence.
func AirBytes(f [FrameBytes]byte) []byte {
	out := make([]byte, 0, PrefixBytes+FrameBytes)
	out = append(out, SyncPrefix[2:]...)
	return append(out, f[:]...)
}

// Result is the outcome of Decode.
type Result struct {
	Kind      Kind
	Corrected int
	ADSL      adsl.Packet
	PAW       Packet
}

// Decode checks and classifies a received frame. A single bit error inside
// the 24 packet bytes is repaired via the CRC-24 syndrome when the external
// CRC confirms the repair.
func Decode(frame []byte) Result {
	if len(frame) < FrameBytes {
		return Result{}
	}
	buf := make([]byte, FrameBytes)
	copy(buf, frame)

	res := Result{}
	pi := adsl.CheckPI(buf[:PacketBytes])
	ext := CRC8(buf[:PacketBytes])
	if pi != 0 && ext != buf[PacketBytes] {
		if bit, ok := adsl.FindSyndrome(pi); ok {
			adsl.FlipBit(buf, bit)
			res.Corrected = 1
			ext = CRC8(buf[:PacketBytes])
			pi = adsl.CheckPI(buf[:PacketBytes])
		}
	}
	if ext != buf[PacketBytes] {
		return decodeFlipped(frame)
	}
	if pi == 0 {
		res.Kind = KindADSL
		res.ADSL = adsl.Unpack(buf[:PacketBytes])
		return res
	}
	p, ok := dewhiten(buf)
	if !ok {
		return Result{}
	}
	res.Kind = KindPAW
	res.PAW = p
	return res
}

func dewhiten(frame []byte) (Packet, bool) {
	var b [PacketBytes]byte
	copy(b[:], frame)
	whiten(b[:])
	if b[0] != packetType || internalCRC(b[:]) != 0 {
		return Packet{}, false
	}
	return unmarshal(b[:]), true
}

// decodeFlipped searches for a single bit error in a long-range position
// frame: the flip must satisfy both the external and the internal CRC.
func decodeFlipped(frame []byte) Result {
	buf := make([]byte, FrameBytes)
	for i := 0; i < FrameBytes*8; i++ {
		copy(buf, frame)
		adsl.FlipBit(buf, i)
		if CRC8(buf[:PacketBytes]) != buf[PacketBytes] {
			continue
		}
		if p, ok := dewhiten(buf); ok {
			return Result{Kind: KindPAW, Corrected: 1, PAW: p}
		}
	}
	return Result{}
}
