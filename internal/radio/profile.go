package radio

import (
	"encoding/binary"
	"math"
	"time"

	"tracker-ng/internal/manchester"
	"tracker-ng/internal/paw"
)

// Direction selects the receive or transmit variant of a profile.
type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Profile is one of the fixed modulation setups below.
type Profile interface {
	Name() string
	// Manchester reports whether payload bytes are line coded on air.
	Manchester() bool
	// PayloadBytes is the fixed frame size before line coding, or 0 for
	// variable length frames.
	PayloadBytes() int
	// OnAir is the transmit duration of n payload bytes.
	OnAir(n int) time.Duration
	apply(d Driver, dir Direction) error
}

type fskProfile struct {
	name       string
	bitRate    int
	deviation  int
	bandwidth  int
	preambleRX int
	preambleTX int
	sync       []byte
	altSync    []byte
	payload    int
	manchester bool
}

func (p *fskProfile) Name() string      { return p.name }
func (p *fskProfile) Manchester() bool  { return p.manchester }
func (p *fskProfile) PayloadBytes() int { return p.payload }
func (p *fskProfile) SyncWord() []byte  { return p.sync }

func (p *fskProfile) airBytes(n int) int {
	if p.manchester {
		return 2 * n
	}
	return n
}

func (p *fskProfile) OnAir(n int) time.Duration {
	bits := 8 * (p.preambleTX + len(p.sync) + p.airBytes(n))
	return time.Duration(bits) * time.Second / time.Duration(p.bitRate)
}

func (p *fskProfile) apply(d Driver, dir Direction) error {
	pre := p.preambleRX
	if dir == TX {
		pre = p.preambleTX
	}
	return d.ConfigureFSK(FSK{
		BitRate:     p.bitRate,
		DeviationHz: p.deviation,
		RxBandwidth: p.bandwidth,
		Preamble:    pre,
		Sync:        p.sync,
		AltSync:     p.altSync,
		Length:      p.airBytes(p.payload),
	})
}

type loraProfile struct {
	name string
	up   LoRa
	down LoRa
}

func (p *loraProfile) Name() string      { return p.name }
func (p *loraProfile) Manchester() bool  { return false }
func (p *loraProfile) PayloadBytes() int { return 0 }

func (p *loraProfile) OnAir(n int) time.Duration { return LoRaOnAir(p.up, n) }

func (p *loraProfile) apply(d Driver, dir Direction) error {
	if dir == TX {
		return d.ConfigureLoRa(p.up)
	}
	return d.ConfigureLoRa(p.down)
}

// LoRaOnAir computes the LoRa packet duration of n payload bytes.
func LoRaOnAir(m LoRa, n int) time.Duration {
	sf := m.SpreadingFactor
	ldro := 0
	if m.LowDataRate {
		ldro = 1
	}
	crc, ih := 0, 0
	if m.CRC {
		crc = 1
	}
	if m.ImplicitHeader {
		ih = 1
	}
	num := 8*n - 4*sf + 28 + 16*crc - 20*ih
	symbols := 8
	if num > 0 {
		den := 4 * (sf - 2*ldro)
		symbols += int(math.Ceil(float64(num)/float64(den))) * (m.CodingRate + 4)
	}
	total := float64(symbols) + float64(m.Preamble) + 4.25
	symbol := float64(int(1)<<sf) / float64(m.Bandwidth)
	return time.Duration(total * symbol * float64(time.Second))
}

// Sync words before line coding.
const (
	SyncOGN  uint32 = 0x0AF3656C
	SyncADSL uint32 = 0xF5724B18
)

func manchesterSync(w uint32) []byte {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], w)
	return manchester.Encode(nil, raw[:])
}

func newManchesterProfile(name string, sync uint32, payload int) *fskProfile {
	return &fskProfile{
		name:       name,
		bitRate:    100000,
		deviation:  50000,
		bandwidth:  234300,
		preambleRX: 8,
		preambleTX: 16,
		sync:       manchesterSync(sync),
		payload:    payload,
		manchester: true,
	}
}

var (
	// OGN is the primary protocol: 26 byte frames, Manchester coded.
	OGN Profile = newManchesterProfile("ogn", SyncOGN, 26)
	// ADSL is the secondary protocol: 24 byte frames, Manchester coded.
	ADSL Profile = newManchesterProfile("adsl", SyncADSL, 24)
	// Joint receives both primary and secondary frames, reading the longer
	// frame length. Chips with a single sync matcher use the primary word.
	Joint Profile = func() Profile {
		p := newManchesterProfile("ogn+adsl", SyncOGN, 26)
		p.altSync = manchesterSync(SyncADSL)
		return p
	}()

	// LDR is the long-range low-rate profile. The hardware matches the
	// first two sync bytes and the rest of the sync sequence is payload.
	LDR Profile = &fskProfile{
		name:       "ldr",
		bitRate:    38400,
		deviation:  12500,
		bandwidth:  58600,
		preambleRX: 16,
		preambleTX: 40,
		sync:       paw.SyncPrefix[:2],
		payload:    paw.PrefixBytes + paw.FrameBytes,
	}

	FANET Profile = &loraProfile{
		name: "fanet",
		up:   fanetModem,
		down: fanetModem,
	}

	// WAN is the public LoRaWAN network profile: uplinks with CRC and
	// normal IQ, downlinks without CRC and with inverted IQ.
	WAN Profile = &loraProfile{
		name: "lorawan",
		up:   LoRa{SpreadingFactor: 7, Bandwidth: 125000, CodingRate: 1, Sync: 0x34, Preamble: 8, CRC: true},
		down: LoRa{SpreadingFactor: 7, Bandwidth: 125000, CodingRate: 1, Sync: 0x34, Preamble: 8, InvertIQ: true},
	}
)

var fanetModem = LoRa{SpreadingFactor: 7, Bandwidth: 250000, CodingRate: 4, Sync: 0xF1, Preamble: 5, CRC: true}

// SyncWord returns the hardware sync pattern of an FSK profile.
func SyncWord(p Profile) []byte {
	if f, ok := p.(*fskProfile); ok {
		return f.sync
	}
	return nil
}
