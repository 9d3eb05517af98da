// Package lorawan implements the subset of LoRaWAN 1.0 class A needed for
// an opportunistic position uplink: OTAA join, unconfirmed data up and
// downlink reception, driven by a small per-cycle state machine.
package lorawan

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// Message types (MHDR upper bits).
const (
	mtypeJoinRequest   = 0x00
	mtypeJoinAccept    = 0x20
	mtypeUnconfirmedUp = 0x40
	mtypeUnconfirmedDn = 0x60
	mtypeConfirmedUp   = 0x80
	mtypeConfirmedDn   = 0xA0
)

var (
	ErrBadMIC      = errors.New("lorawan: MIC mismatch")
	ErrShortFrame  = errors.New("lorawan: frame too short")
	ErrUnexpected  = errors.New("lorawan: unexpected message type")
	ErrOtherDevice = errors.New("lorawan: frame for another device")
	ErrNotJoined   = errors.New("lorawan: not joined")
)

// Keys are the OTAA root credentials. EUIs are stored as written (MSB
// first) and reversed on the wire.
type Keys struct {
	DevEUI [8]byte
	AppEUI [8]byte
	AppKey [16]byte
}

// Session is the state established by a join.
type Session struct {
	DevAddr  uint32
	NwkSKey  [16]byte
	AppSKey  [16]byte
	FCntUp   uint32
	FCntDown uint32
	RxDelay  uint8
	NetID    uint32
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// JoinRequest builds a join request frame.
func JoinRequest(k Keys, devNonce uint16) []byte {
	b := make([]byte, 0, 23)
	b = append(b, mtypeJoinRequest)
	b = append(b, reversed(k.AppEUI[:])...)
	b = append(b, reversed(k.DevEUI[:])...)
	b = binary.LittleEndian.AppendUint16(b, devNonce)
	m := mic(k.AppKey, b)
	return append(b, m[:]...)
}

// ParseJoinAccept decrypts and verifies a join accept and derives the
// session keys.
func ParseJoinAccept(k Keys, devNonce uint16, frame []byte) (Session, error) {
	if len(frame) != 17 && len(frame) != 33 {
		return Session{}, fmt.Errorf("join accept of %d bytes: %w", len(frame), ErrShortFrame)
	}
	if frame[0]&0xE0 != mtypeJoinAccept {
		return Session{}, ErrUnexpected
	}
	block, err := aes.NewCipher(k.AppKey[:])
	if err != nil {
		return Session{}, err
	}
	plain := make([]byte, len(frame))
	plain[0] = frame[0]
	for i := 1; i < len(frame); i += 16 {
		block.Encrypt(plain[i:i+16], frame[i:i+16])
	}
	body := plain[:len(plain)-4]
	want := mic(k.AppKey, body)
	if subtle.ConstantTimeCompare(want[:], plain[len(plain)-4:]) != 1 {
		return Session{}, ErrBadMIC
	}

	appNonce := plain[1:4]
	netID := plain[4:7]
	s := Session{
		NetID:   uint32(netID[0]) | uint32(netID[1])<<8 | uint32(netID[2])<<16,
		DevAddr: binary.LittleEndian.Uint32(plain[7:11]),
		RxDelay: plain[12] & 0x0F,
	}
	if s.RxDelay == 0 {
		s.RxDelay = 1
	}
	s.NwkSKey = deriveKey(block, 0x01, appNonce, netID, devNonce)
	s.AppSKey = deriveKey(block, 0x02, appNonce, netID, devNonce)
	return s, nil
}

func deriveKey(block interface{ Encrypt(dst, src []byte) }, prefix byte, appNonce, netID []byte, devNonce uint16) [16]byte {
	var in, out [16]byte
	in[0] = prefix
	copy(in[1:4], appNonce)
	copy(in[4:7], netID)
	binary.LittleEndian.PutUint16(in[7:9], devNonce)
	block.Encrypt(out[:], in[:])
	return out
}

// cryptPayload applies the LoRaWAN FRMPayload keystream (dir 0 up, 1 down).
func cryptPayload(key [16]byte, dir byte, devAddr, fcnt uint32, payload []byte) []byte {
	block, _ := aes.NewCipher(key[:])
	out := make([]byte, len(payload))
	var a, s [16]byte
	a[0] = 0x01
	a[5] = dir
	binary.LittleEndian.PutUint32(a[6:10], devAddr)
	binary.LittleEndian.PutUint32(a[10:14], fcnt)
	for i := 0; i < len(payload); i += 16 {
		a[15] = byte(i/16 + 1)
		block.Encrypt(s[:], a[:])
		for j := 0; j < 16 && i+j < len(payload); j++ {
			out[i+j] = payload[i+j] ^ s[j]
		}
	}
	return out
}

func dataMIC(key [16]byte, dir byte, devAddr, fcnt uint32, msg []byte) [4]byte {
	b0 := make([]byte, 16, 16+len(msg))
	b0[0] = 0x49
	b0[5] = dir
	binary.LittleEndian.PutUint32(b0[6:10], devAddr)
	binary.LittleEndian.PutUint32(b0[10:14], fcnt)
	b0[15] = byte(len(msg))
	return mic(key, append(b0, msg...))
}

// DataUp builds an unconfirmed uplink and advances the uplink counter.
func (s *Session) DataUp(port uint8, payload []byte) []byte {
	fcnt := s.FCntUp
	s.FCntUp++
	b := make([]byte, 0, 13+len(payload))
	b = append(b, mtypeUnconfirmedUp)
	b = binary.LittleEndian.AppendUint32(b, s.DevAddr)
	b = append(b, 0x00) // FCtrl
	b = binary.LittleEndian.AppendUint16(b, uint16(fcnt))
	if len(payload) > 0 {
		key := s.AppSKey
		if port == 0 {
			key = s.NwkSKey
		}
		b = append(b, port)
		b = append(b, cryptPayload(key, 0, s.DevAddr, fcnt, payload)...)
	}
	m := dataMIC(s.NwkSKey, 0, s.DevAddr, fcnt, b)
	return append(b, m[:]...)
}

// Downlink is a verified, decrypted downlink.
type Downlink struct {
	Confirmed bool
	Port      uint8
	Payload   []byte
	FOpts     []byte
}

// ParseDown verifies and decrypts a downlink addressed to this session.
func (s *Session) ParseDown(frame []byte) (Downlink, error) {
	if len(frame) < 12 {
		return Downlink{}, ErrShortFrame
	}
	mtype := frame[0] & 0xE0
	if mtype != mtypeUnconfirmedDn && mtype != mtypeConfirmedDn {
		return Downlink{}, ErrUnexpected
	}
	if binary.LittleEndian.Uint32(frame[1:5]) != s.DevAddr {
		return Downlink{}, ErrOtherDevice
	}
	fctrl := frame[5]
	fcnt16 := binary.LittleEndian.Uint16(frame[6:8])
	fcnt := s.FCntDown&0xFFFF0000 | uint32(fcnt16)
	if fcnt < s.FCntDown {
		fcnt += 0x10000
	}
	body := frame[:len(frame)-4]
	want := dataMIC(s.NwkSKey, 1, s.DevAddr, fcnt, body)
	if subtle.ConstantTimeCompare(want[:], frame[len(frame)-4:]) != 1 {
		return Downlink{}, ErrBadMIC
	}

	optsLen := int(fctrl & 0x0F)
	pos := 8 + optsLen
	if pos > len(body) {
		return Downlink{}, ErrShortFrame
	}
	d := Downlink{Confirmed: mtype == mtypeConfirmedDn, FOpts: append([]byte(nil), frame[8:pos]...)}
	if pos < len(body) {
		d.Port = body[pos]
		key := s.AppSKey
		if d.Port == 0 {
			key = s.NwkSKey
		}
		d.Payload = cryptPayload(key, 1, s.DevAddr, fcnt, body[pos+1:])
	}
	s.FCntDown = fcnt + 1
	return d, nil
}
