// Package gdl90 encodes the GDL90 messages electronic flight bags consume:
// heartbeat, device identification, ownship and traffic reports.
package gdl90

import (
	"errors"
	"fmt"
)

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
)

// Message IDs.
const (
	MsgHeartbeat = 0x00
	MsgOwnship   = 0x0A
	MsgTraffic   = 0x14
	MsgDeviceID  = 0x65
)

var ErrMalformed = errors.New("gdl90: malformed frame")

// Frame appends the CRC (low byte first) to msg, byte-stuffs it and wraps it
// in flag bytes.
func Frame(msg []byte) []byte {
	crc := crc16(msg)
	out := make([]byte, 0, 2*len(msg)+6)
	out = append(out, flagByte)
	for _, b := range append(append([]byte(nil), msg...), byte(crc), byte(crc>>8)) {
		if b == flagByte || b == escapeByte {
			out = append(out, escapeByte, b^escapeXor)
			continue
		}
		out = append(out, b)
	}
	return append(out, flagByte)
}

// Unframe reverses Frame. crcOK reports whether the trailing CRC matched.
func Unframe(frame []byte) (msg []byte, crcOK bool, err error) {
	if len(frame) < 4 || frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		return nil, false, fmt.Errorf("%w: missing flags", ErrMalformed)
	}
	raw := make([]byte, 0, len(frame))
	for i := 1; i < len(frame)-1; i++ {
		b := frame[i]
		if b == escapeByte {
			i++
			if i >= len(frame)-1 {
				return nil, false, fmt.Errorf("%w: truncated escape", ErrMalformed)
			}
			b = frame[i] ^ escapeXor
		}
		raw = append(raw, b)
	}
	if len(raw) < 3 {
		return nil, false, fmt.Errorf("%w: %d payload bytes", ErrMalformed, len(raw))
	}
	msg = raw[:len(raw)-2]
	got := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	return msg, got == crc16(msg), nil
}

// crc16 is the CCITT polynomial 0x1021, zero init, as used by GDL90.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crcTable[crc>>8] ^ crc<<8 ^ uint16(b)
	}
	return crc
}

var crcTable = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()
