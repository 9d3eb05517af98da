// Package fanet encodes and decodes the LoRa beacon protocol frames. The
// radio computes and checks the CRC, so frames here carry no check bytes.
package fanet

import (
	"errors"
	"fmt"
	"math"
)

// Frame types.
const (
	TypeTracking uint8 = 1
	TypeName     uint8 = 2
)

const (
	headerBytes   = 4
	trackingBytes = 11
	maxFrameBytes = 64
)

var (
	ErrShort = errors.New("fanet: frame too short")
	ErrLong  = errors.New("fanet: frame too long")
)

// Tracking is the content of a type 1 frame.
type Tracking struct {
	LatDeg     float64
	LonDeg     float64
	AltM       float64
	SpeedKmh   float64
	ClimbMS    float64
	HeadingDeg float64
	AcftType   uint8 // 3 bits
	Online     bool
}

// Packet is a decoded frame. Only one of Tracking and Name is meaningful,
// selected by Type.
type Packet struct {
	Type     uint8
	Forward  bool
	Address  uint32 // manufacturer << 16 | id
	Tracking Tracking
	Name     string
	Raw      []byte
}

func header(typ uint8, addr uint32, forward bool) []byte {
	h := typ & 0x3F
	if forward {
		h |= 0x40
	}
	id := uint16(addr)
	return []byte{h, byte(addr >> 16), byte(id), byte(id >> 8)}
}

// EncodeTracking builds a type 1 frame.
func EncodeTracking(addr uint32, tr Tracking) []byte {
	b := header(TypeTracking, addr, true)
	b = appendCoord(b, tr.LatDeg*93206)
	b = appendCoord(b, tr.LonDeg*46603)

	alt := math.Max(0, math.Round(tr.AltM))
	var altType uint16
	if alt > 2047 {
		altType = uint16(math.Min(2047, math.Round(alt/4))) | 1<<11
	} else {
		altType = uint16(alt)
	}
	altType |= uint16(tr.AcftType&7) << 12
	if tr.Online {
		altType |= 1 << 15
	}
	b = append(b, byte(altType), byte(altType>>8))

	speed := math.Max(0, math.Round(tr.SpeedKmh*2))
	if speed > 127 {
		b = append(b, byte(math.Min(127, math.Round(speed/5)))|0x80)
	} else {
		b = append(b, byte(speed))
	}

	climb := math.Round(tr.ClimbMS * 10)
	if climb > 63 || climb < -64 {
		c := int8(math.Max(-64, math.Min(63, math.Round(climb/5))))
		b = append(b, byte(c)&0x7F|0x80)
	} else {
		b = append(b, byte(int8(climb))&0x7F)
	}

	b = append(b, byte(int(math.Round(math.Mod(tr.HeadingDeg+360, 360)*256/360))&0xFF))
	return b
}

func appendCoord(b []byte, v float64) []byte {
	i := int32(math.Round(v))
	return append(b, byte(i), byte(i>>8), byte(i>>16))
}

func coord(b []byte) float64 {
	v := int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8
	return float64(v)
}

// EncodeName builds a type 2 frame carrying a pilot or aircraft name.
func EncodeName(addr uint32, name string) ([]byte, error) {
	b := header(TypeName, addr, false)
	if len(b)+len(name) > maxFrameBytes {
		return nil, fmt.Errorf("name of %d bytes: %w", len(name), ErrLong)
	}
	return append(b, name...), nil
}

// Decode parses a received frame. Unknown types decode the header only.
func Decode(b []byte) (Packet, error) {
	if len(b) < headerBytes {
		return Packet{}, ErrShort
	}
	if len(b) > maxFrameBytes {
		return Packet{}, ErrLong
	}
	p := Packet{
		Type:    b[0] & 0x3F,
		Forward: b[0]&0x40 != 0,
		Address: uint32(b[1])<<16 | uint32(b[2]) | uint32(b[3])<<8,
		Raw:     append([]byte(nil), b...),
	}
	payload := b[headerBytes:]
	if b[0]&0x80 != 0 {
		// Extended header byte; acknowledgement and signature fields unused.
		if len(payload) < 1 {
			return Packet{}, ErrShort
		}
		payload = payload[1:]
	}
	switch p.Type {
	case TypeTracking:
		if len(payload) < trackingBytes {
			return Packet{}, fmt.Errorf("tracking payload %d bytes: %w", len(payload), ErrShort)
		}
		p.Tracking = decodeTracking(payload)
	case TypeName:
		p.Name = string(payload)
	}
	return p, nil
}

func decodeTracking(b []byte) Tracking {
	var tr Tracking
	tr.LatDeg = coord(b[0:3]) / 93206
	tr.LonDeg = coord(b[3:6]) / 46603

	altType := uint16(b[6]) | uint16(b[7])<<8
	alt := float64(altType & 0x7FF)
	if altType&(1<<11) != 0 {
		alt *= 4
	}
	tr.AltM = alt
	tr.AcftType = uint8(altType>>12) & 7
	tr.Online = altType&(1<<15) != 0

	speed := float64(b[8] & 0x7F)
	if b[8]&0x80 != 0 {
		speed *= 5
	}
	tr.SpeedKmh = speed / 2

	climb := float64(int8(b[9]<<1) >> 1)
	if b[9]&0x80 != 0 {
		climb *= 5
	}
	tr.ClimbMS = climb / 10

	tr.HeadingDeg = float64(b[10]) * 360 / 256
	return tr
}
