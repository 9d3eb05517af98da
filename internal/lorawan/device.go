package lorawan

import (
	"fmt"
	"time"

	"tracker-ng/internal/rng"
)

// State of the uplink state machine.
type State uint8

const (
	StateIdle State = iota
	StateJoinSent
	StateJoined
	StateDataSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoinSent:
		return "join-sent"
	case StateJoined:
		return "joined"
	case StateDataSent:
		return "data-sent"
	default:
		return fmt.Sprintf("state-%d", uint8(s))
	}
}

const (
	joinAcceptDelay = 5 * time.Second
	initialBackoff  = 60
	// MaxSilent is the number of unanswered windows before the session is
	// dropped and the device rejoins.
	MaxSilent = 60

	// Uplink channels: 867.1 MHz + 200 kHz steps.
	baseFreqHz    = 867_100_000
	channelStepHz = 200_000
	channels      = 8

	// DataPort carries position uplinks.
	DataPort = 1
)

// Device is the uplink state machine. It is driven once per scheduler
// cycle and is not safe for concurrent use.
type Device struct {
	keys Keys
	rnd  rng.Source

	state    State
	backoff  int
	devNonce uint16
	session  Session

	respAt   time.Time
	freqHz   uint32
	rxSilent int
	lastDown Downlink
}

func NewDevice(keys Keys, rnd rng.Source) *Device {
	return &Device{keys: keys, rnd: rnd, backoff: initialBackoff}
}

func (d *Device) State() State       { return d.state }
func (d *Device) Backoff() int       { return d.backoff }
func (d *Device) RxSilent() int      { return d.rxSilent }
func (d *Device) Session() Session   { return d.session }
func (d *Device) LastDown() Downlink { return d.lastDown }

// Tick advances the per-cycle backoff.
func (d *Device) Tick() {
	if d.backoff > 0 {
		d.backoff--
	}
}

func (d *Device) retryBackoff() {
	d.backoff = 50 + int(d.rnd.Uint32()%19)
}

// Awaiting reports whether a response window is open.
func (d *Device) Awaiting() bool {
	return d.state == StateJoinSent || d.state == StateDataSent
}

// ResponseIn returns the time left until the downlink window opens.
func (d *Device) ResponseIn(now time.Time) (time.Duration, bool) {
	if !d.Awaiting() {
		return 0, false
	}
	return d.respAt.Sub(now), true
}

// Frequency is the carrier of the last uplink; the downlink window uses
// the same carrier.
func (d *Device) Frequency() uint32 { return d.freqHz }

// WantsToSend reports whether NextUplink would produce a frame this cycle.
func (d *Device) WantsToSend(havePayload bool) bool {
	if d.backoff > 0 {
		return false
	}
	switch d.state {
	case StateIdle:
		return true
	case StateJoined:
		return havePayload
	default:
		return false
	}
}

// NextUplink returns the frame to send now and its carrier, moving into the
// matching awaiting state.
func (d *Device) NextUplink(now time.Time, payload []byte) ([]byte, uint32, bool) {
	if !d.WantsToSend(len(payload) > 0) {
		return nil, 0, false
	}
	d.freqHz = baseFreqHz + channelStepHz*(d.rnd.Uint32()%channels)
	switch d.state {
	case StateIdle:
		d.devNonce = uint16(d.rnd.Uint32())
		d.state = StateJoinSent
		d.respAt = now.Add(joinAcceptDelay)
		d.retryBackoff()
		return JoinRequest(d.keys, d.devNonce), d.freqHz, true
	default:
		d.state = StateDataSent
		d.respAt = now.Add(time.Duration(d.session.RxDelay) * time.Second)
		d.retryBackoff()
		return d.session.DataUp(DataPort, payload), d.freqHz, true
	}
}

// HandleDownlink consumes a frame received in the response window.
func (d *Device) HandleDownlink(frame []byte) error {
	switch d.state {
	case StateJoinSent:
		s, err := ParseJoinAccept(d.keys, d.devNonce, frame)
		if err != nil {
			return err
		}
		d.session = s
		d.state = StateJoined
		d.rxSilent = 0
		d.backoff = 0
		return nil
	case StateDataSent:
		dl, err := d.session.ParseDown(frame)
		if err != nil {
			return err
		}
		d.lastDown = dl
		d.state = StateJoined
		d.rxSilent = 0
		return nil
	default:
		return ErrNotJoined
	}
}

// Timeout records an unanswered window: back off, and after MaxSilent
// consecutive misses drop the session entirely.
func (d *Device) Timeout() {
	if !d.Awaiting() {
		return
	}
	d.state--
	d.rxSilent++
	d.retryBackoff()
	if d.rxSilent >= MaxSilent {
		d.Disconnect()
	}
}

// Disconnect forgets the session; the next uplink is a join request.
func (d *Device) Disconnect() {
	d.state = StateIdle
	d.session = Session{}
	d.rxSilent = 0
}
