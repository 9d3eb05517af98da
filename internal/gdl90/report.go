package gdl90

import (
	"math"
	"strings"
)

// Address types of a report.
const (
	AddrADSBICAO   byte = 0
	AddrADSBSelf   byte = 1
	AddrTISBICAO   byte = 2
	AddrTISBOther  byte = 3
	AddrSurface    byte = 4
	AddrGroundBeac byte = 5
)

// Report is the body shared by ownship (0x0A) and traffic (0x14) messages.
type Report struct {
	AddrType  byte
	Address   uint32 // 24 bits
	LatDeg    float64
	LonDeg    float64
	AltFeet   int
	NIC       byte
	NACp      byte
	GroundKt  int
	TrackDeg  float64
	VvelFpm   int
	VvelValid bool
	Airborne  bool
	Emitter   byte
	Callsign  string
	Emergency byte
}

func OwnshipFrame(r Report) []byte { return Frame(encodeReport(MsgOwnship, r)) }
func TrafficFrame(r Report) []byte { return Frame(encodeReport(MsgTraffic, r)) }

func encodeReport(id byte, r Report) []byte {
	msg := make([]byte, 28)
	msg[0] = id
	msg[1] = r.AddrType & 0x0F
	msg[2], msg[3], msg[4] = byte(r.Address>>16), byte(r.Address>>8), byte(r.Address)

	put24(msg[5:], latLon(r.LatDeg))
	put24(msg[8:], latLon(r.LonDeg))

	alt := altitude(r.AltFeet)
	msg[11] = byte(alt >> 4)
	msg[12] = byte(alt<<4) | 0x01 // true track
	if r.Airborne {
		msg[12] |= 0x08
	}
	msg[13] = r.NIC<<4 | r.NACp&0x0F

	gs := uint16(max(0, min(0xFFE, r.GroundKt)))
	vv := uint16(0x800)
	if r.VvelValid {
		vv = uint16(int16(max(-2047, min(2047, math.Round(float64(r.VvelFpm)/64))))) & 0xFFF
	}
	msg[14] = byte(gs >> 4)
	msg[15] = byte(gs<<4) | byte(vv>>8)
	msg[16] = byte(vv)

	msg[17] = track(r.TrackDeg)
	msg[18] = r.Emitter
	if msg[18] == 0 {
		msg[18] = 0x01
	}
	copy(msg[19:27], callsign(r.Callsign))
	msg[27] = r.Emergency << 4
	return msg
}

func put24(b []byte, v uint32) {
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}

// latLon is a signed 24 bit fraction of 180 degrees, truncated.
func latLon(deg float64) uint32 {
	return uint32(int32(deg*8388608/180)) & 0xFFFFFF
}

// altitude is 25 ft steps from -1000 ft; 0xFFF means invalid.
func altitude(ft int) uint16 {
	if ft < -1000 || ft > 101350 {
		return 0xFFF
	}
	return uint16((ft + 1000) / 25)
}

func track(deg float64) byte {
	deg = math.Mod(math.Mod(deg, 360)+360, 360)
	return byte(math.Floor(deg*256/360 + 0.5))
}

func callsign(s string) string {
	b := []byte(strings.ToUpper(truncate(s, 8, "")))
	for i, c := range b {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			b[i] = ' '
		}
	}
	for len(b) < 8 {
		b = append(b, ' ')
	}
	return string(b)
}
