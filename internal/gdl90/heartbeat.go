package gdl90

import (
	"strings"
	"time"
)

// HeartbeatFrame is the once per second status message. The time field
// counts seconds since 0000Z.
func HeartbeatFrame(now time.Time, gpsValid bool) []byte {
	now = now.UTC()
	secs := uint32(now.Hour()*3600 + now.Minute()*60 + now.Second())

	status := byte(0x11) // initialised, address talkback
	if gpsValid {
		status |= 0x80
	}
	msg := []byte{
		MsgHeartbeat,
		status,
		byte(secs>>16)<<7 | 0x01,
		byte(secs),
		byte(secs >> 8),
		0, 0,
	}
	return Frame(msg)
}

// DeviceIDFrame identifies the device to EFBs that support the ForeFlight
// extension.
func DeviceIDFrame(shortName, longName string) []byte {
	msg := make([]byte, 39)
	msg[0] = MsgDeviceID
	msg[1] = 0x00 // ID sub-message
	msg[2] = 0x01 // version
	for i := 3; i < 11; i++ {
		msg[i] = 0xFF // serial unknown
	}
	copy(msg[11:19], truncate(shortName, 8, "tracker"))
	copy(msg[19:38], truncate(longName, 16, "tracker-ng"))
	msg[38] = 0x01 // ownship altitude is MSL
	return Frame(msg)
}

func truncate(s string, n int, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	if len(s) > n {
		s = s[:n]
	}
	return s
}
