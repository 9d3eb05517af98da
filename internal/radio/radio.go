package radio

import (
	"errors"
	"fmt"
	"time"

	"tracker-ng/internal/manchester"
	"tracker-ng/internal/timeref"
)

var (
	ErrNotConfigured = errors.New("radio: not configured for this direction")
	ErrNoPacket      = errors.New("radio: no packet ready")
	ErrTooLong       = errors.New("radio: frame too long")
	ErrTxTimeout     = errors.New("radio: transmit did not complete")
)

// State is the facade's view of the transceiver.
type State int

const (
	Standby State = iota
	ConfiguredRX
	ConfiguredTX
	Receiving
)

func (s State) String() string {
	switch s {
	case ConfiguredRX:
		return "configured-rx"
	case ConfiguredTX:
		return "configured-tx"
	case Receiving:
		return "receiving"
	default:
		return "standby"
	}
}

const maxFrame = 255

// txGrace bounds how long Transmit polls for completion past the computed
// on-air time.
const txGrace = 20 * time.Millisecond

// Frame is one received packet after line decoding.
type Frame struct {
	Profile  string
	Data     []byte
	ErrMask  []byte // per-bit Manchester errors, nil for other profiles
	ErrCount int
	CRCOK    bool
	RSSI     float64
	SNR      float64
	FreqHz   uint32
}

// Radio serialises all access to one Driver. It must be owned by a single
// goroutine.
type Radio struct {
	drv   Driver
	ready ReadyLine
	clk   timeref.Clock

	state   State
	profile Profile
	freq    uint32
	power   int

	raw []byte
	tx  []byte
}

// New wraps drv. ready may be nil, in which case the driver is polled.
func New(drv Driver, ready ReadyLine, clk timeref.Clock) *Radio {
	return &Radio{
		drv:   drv,
		ready: ready,
		clk:   clk,
		raw:   make([]byte, 2*maxFrame),
		tx:    make([]byte, 0, 2*maxFrame),
	}
}

func (r *Radio) State() State      { return r.state }
func (r *Radio) Profile() Profile  { return r.profile }
func (r *Radio) Frequency() uint32 { return r.freq }

// Configure puts the chip in standby and loads profile p for direction dir.
func (r *Radio) Configure(p Profile, dir Direction) error {
	if err := r.drv.Standby(); err != nil {
		return fmt.Errorf("radio: standby: %w", err)
	}
	r.state = Standby
	if err := p.apply(r.drv, dir); err != nil {
		return fmt.Errorf("radio: configure %s/%s: %w", p.Name(), dir, err)
	}
	r.profile = p
	if dir == TX {
		r.state = ConfiguredTX
	} else {
		r.state = ConfiguredRX
	}
	return nil
}

func (r *Radio) SetFrequency(hz uint32) error {
	if err := r.drv.SetFrequency(hz); err != nil {
		return fmt.Errorf("radio: frequency %d: %w", hz, err)
	}
	r.freq = hz
	return nil
}

func (r *Radio) SetTxPower(dBm int) error {
	if dBm == r.power {
		return nil
	}
	if err := r.drv.SetTxPower(dBm); err != nil {
		return fmt.Errorf("radio: tx power %d: %w", dBm, err)
	}
	r.power = dBm
	return nil
}

// Standby stops any reception.
func (r *Radio) Standby() error {
	if err := r.drv.Standby(); err != nil {
		return err
	}
	r.state = Standby
	return nil
}

// Transmit sends payload with the current TX profile and returns once the
// frame is on air, after its computed duration. Fixed length profiles are
// zero padded.
func (r *Radio) Transmit(payload []byte) (time.Duration, error) {
	if r.state != ConfiguredTX {
		return 0, ErrNotConfigured
	}
	n := len(payload)
	if fixed := r.profile.PayloadBytes(); fixed > 0 {
		if n > fixed {
			return 0, ErrTooLong
		}
		n = fixed
	}
	if n > maxFrame {
		return 0, ErrTooLong
	}
	buf := r.tx[:0]
	data := payload
	if len(payload) < n {
		data = make([]byte, n)
		copy(data, payload)
	}
	if r.profile.Manchester() {
		buf = manchester.Encode(buf, data)
	} else {
		buf = append(buf, data...)
	}
	if err := r.drv.Transmit(buf); err != nil {
		return 0, fmt.Errorf("radio: transmit: %w", err)
	}
	onAir := r.profile.OnAir(n)
	r.clk.Sleep(onAir)
	deadline := r.clk.Now().Add(txGrace)
	for !r.drv.TxDone() {
		if r.clk.Now().After(deadline) {
			_ = r.drv.Standby()
			return onAir, ErrTxTimeout
		}
		r.clk.Sleep(time.Millisecond)
	}
	return onAir, nil
}

// StartReceive enters continuous reception with the current RX profile.
func (r *Radio) StartReceive() error {
	if r.state != ConfiguredRX && r.state != Receiving {
		return ErrNotConfigured
	}
	if err := r.drv.StartReceive(); err != nil {
		return fmt.Errorf("radio: receive: %w", err)
	}
	r.state = Receiving
	return nil
}

// Ready reports whether a packet is waiting.
func (r *Radio) Ready() bool {
	if r.state != Receiving {
		return false
	}
	if r.ready != nil {
		return r.ready.Ready()
	}
	return r.drv.PacketReady()
}

// ReadFrame fetches and line decodes the waiting packet. Reception
// continues afterwards.
func (r *Radio) ReadFrame() (Frame, error) {
	if r.state != Receiving {
		return Frame{}, ErrNotConfigured
	}
	if !r.drv.PacketReady() {
		return Frame{}, ErrNoPacket
	}
	n, crcOK, err := r.drv.ReadPacket(r.raw)
	if err != nil {
		return Frame{}, fmt.Errorf("radio: read: %w", err)
	}
	f := Frame{
		Profile: r.profile.Name(),
		CRCOK:   crcOK,
		RSSI:    r.drv.PacketRSSI(),
		SNR:     r.drv.PacketSNR(),
		FreqHz:  r.freq,
	}
	if r.profile.Manchester() {
		size := r.profile.PayloadBytes()
		f.Data = make([]byte, size)
		f.ErrMask = make([]byte, size)
		f.ErrCount = manchester.Decode(f.Data, f.ErrMask, r.raw[:n])
	} else {
		f.Data = append([]byte(nil), r.raw[:n]...)
	}
	return f, nil
}

// LiveRSSI samples the channel power in dBm.
func (r *Radio) LiveRSSI() (float64, error) {
	return r.drv.LiveRSSI()
}
