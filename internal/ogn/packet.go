// Package ogn implements the primary tracker protocol: a 20 byte packet
// (header word plus four data words) protected by a (208,160) parity code,
// whitened on air unless the payload is encrypted.
package ogn

import (
	"encoding/binary"
	"math"

	"tracker-ng/internal/bitpack"
)

// Address types shared by the tracker protocols.
const (
	AddrRandom uint8 = iota
	AddrICAO
	AddrFLARM
	AddrOGN
)

// Header is the first, never whitened, packet word.
type Header struct {
	Address   uint32 // 24 bits
	AddrType  uint8  // 2 bits
	NonPos    bool
	Relay     uint8 // 2 bits, relay hop count
	Encrypted bool
	Emergency bool
}

func (h Header) word() uint32 {
	w := h.Address&0xFFFFFF | uint32(h.AddrType&3)<<24
	if h.NonPos {
		w |= 1 << 26
	}
	w |= uint32(h.Relay&3) << 28
	if h.Encrypted {
		w |= 1 << 30
	}
	if h.Emergency {
		w |= 1 << 31
	}
	if parity32(w) != 0 {
		w |= 1 << 27
	}
	return w
}

func headerFromWord(w uint32) Header {
	return Header{
		Address:   w & 0xFFFFFF,
		AddrType:  uint8(w>>24) & 3,
		NonPos:    w&(1<<26) != 0,
		Relay:     uint8(w>>28) & 3,
		Encrypted: w&(1<<30) != 0,
		Emergency: w&(1<<31) != 0,
	}
}

func parity32(w uint32) uint32 {
	w ^= w >> 16
	w ^= w >> 8
	w ^= w >> 4
	w ^= w >> 2
	w ^= w >> 1
	return w & 1
}

// Packet is a decoded primary protocol packet. Data holds the four payload
// words in their plain (not whitened) form.
type Packet struct {
	Header Header
	Data   [4]uint32
}

// HeaderValid reports whether the stored header parity bit is consistent.
func HeaderValid(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	return parity32(binary.LittleEndian.Uint32(b)) == 0
}

// Marshal packs the packet little-endian, header first.
func (p Packet) Marshal() [DataBytes]byte {
	var b [DataBytes]byte
	binary.LittleEndian.PutUint32(b[0:], p.Header.word())
	for i, w := range p.Data {
		binary.LittleEndian.PutUint32(b[4+4*i:], w)
	}
	return b
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte) Packet {
	var p Packet
	if len(b) < DataBytes {
		return p
	}
	p.Header = headerFromWord(binary.LittleEndian.Uint32(b))
	for i := range p.Data {
		p.Data[i] = binary.LittleEndian.Uint32(b[4+4*i:])
	}
	return p
}

// whitening is a fixed local sequence, not the OGN on-air whitening.
var whitening = [4]uint32{0x8AC6D2A1, 0x5E3B4C79, 0x2F9D61B4, 0xC4E8A357}

// Whiten toggles the whitening of the data words. It is its own inverse.
func (p *Packet) Whiten() {
	for i := range p.Data {
		p.Data[i] ^= whitening[i]
	}
}

// Encode whitens (unless encrypted) and appends parity, producing the bytes
// that are Manchester encoded on air.
func Encode(p Packet) [FrameBytes]byte {
	if !p.Header.Encrypted {
		p.Whiten()
	}
	return EncodeFEC(p.Marshal())
}

// DecodeFrame corrects and unpacks a received frame. ok is false when the
// parity check fails.
func DecodeFrame(frame, errMask []byte) (p Packet, corrected int, ok bool) {
	if len(frame) < FrameBytes {
		return p, 0, false
	}
	buf := make([]byte, FrameBytes)
	copy(buf, frame)
	corrected, ok = DecodeFEC(buf, errMask)
	if !ok {
		return p, corrected, false
	}
	p = Unmarshal(buf)
	if !p.Header.Encrypted {
		p.Whiten()
	}
	return p, corrected, true
}

// Position is the content of a position packet.
type Position struct {
	Time       uint8 // UTC second 0..59, 63 when unknown
	FixQuality uint8 // 0..3
	FixMode    uint8 // 0 = 2D, 1 = 3D
	DOP        uint8 // 0..63
	Stealth    bool
	LatDeg     float64
	LonDeg     float64
	AltM       float64
	SpeedMS    float64
	HeadingDeg float64
	ClimbMS    float64
	TurnDegS   float64
	AcftType   uint8 // 4 bits
}

// SetPosition packs pos into the data words and clears NonPos.
func (p *Packet) SetPosition(pos Position) {
	p.Header.NonPos = false
	lat := int32(math.Round(pos.LatDeg * 600000 / 8))
	lon := int32(math.Round(pos.LonDeg * 600000 / 16))

	p.Data[0] = uint32(pos.Time&0x3F) | uint32(pos.FixQuality&3)<<6 | (uint32(lat)&0xFFFFFF)<<8
	p.Data[1] = uint32(min(pos.DOP, 63)) | uint32(pos.FixMode&1)<<6 | boolBit(pos.Stealth)<<7 | (uint32(lon)&0xFFFFFF)<<8

	alt := bitpack.EncodeUR2(uint32(math.Max(0, math.Round(pos.AltM))), 12)
	speed := bitpack.EncodeUR2(uint32(math.Max(0, math.Round(pos.SpeedMS*10))), 8)
	climb := bitpack.ClampSigned(math.Round(pos.ClimbMS*10), 8)
	p.Data[2] = alt | speed<<14 | climb<<24

	hdg := uint32(math.Round(math.Mod(pos.HeadingDeg+360, 360)*1024/360)) & 0x3FF
	turn := bitpack.ClampSigned(math.Round(pos.TurnDegS*10), 8)
	p.Data[3] = hdg | turn<<10 | uint32(pos.AcftType&0x0F)<<18
}

// Position unpacks the data words of a position packet.
func (p Packet) Position() Position {
	w0, w1, w2, w3 := p.Data[0], p.Data[1], p.Data[2], p.Data[3]
	return Position{
		Time:       uint8(w0 & 0x3F),
		FixQuality: uint8(w0>>6) & 3,
		LatDeg:     float64(bitpack.SignExtend(w0>>8, 24)) * 8 / 600000,
		DOP:        uint8(w1 & 0x3F),
		FixMode:    uint8(w1>>6) & 1,
		Stealth:    w1&(1<<7) != 0,
		LonDeg:     float64(bitpack.SignExtend(w1>>8, 24)) * 16 / 600000,
		AltM:       float64(bitpack.DecodeUR2(w2&0x3FFF, 12)),
		SpeedMS:    float64(bitpack.DecodeUR2((w2>>14)&0x3FF, 8)) / 10,
		ClimbMS:    float64(bitpack.SignExtend(w2>>24, 8)) / 10,
		HeadingDeg: float64(w3&0x3FF) * 360 / 1024,
		TurnDegS:   float64(bitpack.SignExtend((w3>>10)&0xFF, 8)) / 10,
		AcftType:   uint8(w3>>18) & 0x0F,
	}
}

// Status is the content of a non-position status packet.
type Status struct {
	Hardware     uint8
	Firmware     uint8
	TxPowerDBm   uint8 // 4 bits
	RxRate       uint8 // 4 bits, packets per second
	Time         uint8
	FixQuality   uint8
	AltM         float64
	Satellites   uint8
	SatSNR       uint8   // 5 bits
	RadioNoise   float64 // dBm, 0.5 dB steps
	PressurePa   float64
	VoltageV     float64
	TemperatureC float64
	HumidityPct  float64
}

// SetStatus packs st into the data words and sets NonPos.
func (p *Packet) SetStatus(st Status) {
	p.Header.NonPos = true
	p.Data[0] = uint32(st.Hardware) | uint32(st.Firmware)<<8 | uint32(min(st.TxPowerDBm, 15))<<16 |
		uint32(min(st.RxRate, 15))<<20 | uint32(st.Time&0x3F)<<24 | uint32(st.FixQuality&3)<<30

	noise := uint32(math.Min(255, math.Max(0, math.Round(-st.RadioNoise*2))))
	p.Data[1] = bitpack.EncodeUR2(uint32(math.Max(0, math.Round(st.AltM))), 12) | uint32(min(st.Satellites, 15))<<14 |
		uint32(min(st.SatSNR, 31))<<18 | noise<<24

	pressure := uint32(math.Min(0xFFFFFF, math.Max(0, math.Round(st.PressurePa/4))))
	volt := uint32(math.Min(255, math.Max(0, math.Round(st.VoltageV/0.02))))
	p.Data[2] = pressure | volt<<24

	temp := bitpack.ClampSigned(math.Round(st.TemperatureC*10), 10)
	hum := uint32(math.Min(1023, math.Max(0, math.Round(st.HumidityPct*10))))
	p.Data[3] = temp | hum<<10
}

// Status unpacks the data words of a status packet.
func (p Packet) Status() Status {
	w0, w1, w2, w3 := p.Data[0], p.Data[1], p.Data[2], p.Data[3]
	return Status{
		Hardware:     uint8(w0),
		Firmware:     uint8(w0 >> 8),
		TxPowerDBm:   uint8(w0>>16) & 0x0F,
		RxRate:       uint8(w0>>20) & 0x0F,
		Time:         uint8(w0>>24) & 0x3F,
		FixQuality:   uint8(w0 >> 30),
		AltM:         float64(bitpack.DecodeUR2(w1&0x3FFF, 12)),
		Satellites:   uint8(w1>>14) & 0x0F,
		SatSNR:       uint8(w1>>18) & 0x1F,
		RadioNoise:   -float64(w1>>24) / 2,
		PressurePa:   float64(w2&0xFFFFFF) * 4,
		VoltageV:     float64(w2>>24) * 0.02,
		TemperatureC: float64(bitpack.SignExtend(w3&0x3FF, 10)) / 10,
		HumidityPct:  float64((w3>>10)&0x3FF) / 10,
	}
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
