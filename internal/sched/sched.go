// Package sched runs the once-per-second slot cycle: beacon, long-range,
// primary slots A and B, and the opportunistic uplink window. It owns the
// radio exclusively and exchanges packets with the rest of the system only
// through queues and relay tables.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/fanet"
	"tracker-ng/internal/fifo"
	"tracker-ng/internal/freqplan"
	"tracker-ng/internal/geo"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/paw"
	"tracker-ng/internal/radio"
	"tracker-ng/internal/relay"
	"tracker-ng/internal/rng"
	"tracker-ng/internal/timeref"
)

// Protocol indexes the per-protocol counters and backoffs.
type Protocol int

const (
	ProtoOGN Protocol = iota
	ProtoADSL
	ProtoLDR
	ProtoFANET
	ProtoWAN
	NumProtocols
)

func (p Protocol) String() string {
	switch p {
	case ProtoOGN:
		return "ogn"
	case ProtoADSL:
		return "adsl"
	case ProtoLDR:
		return "ldr"
	case ProtoFANET:
		return "fanet"
	case ProtoWAN:
		return "lorawan"
	default:
		return fmt.Sprintf("proto-%d", int(p))
	}
}

// Queue capacities.
const (
	TxQueueLen    = 4
	RxQueueLen    = 32
	RxBeaconLen   = 8
	RelayCapacity = 32
)

// Reject thresholds for line-coded frames.
const (
	maxManchesterErrors = 16
	maxCorrectedBits    = 15
	// Encrypted packets are relayed only when received this clean.
	maxEncryptedRelayErrors = 10
)

const (
	creditMax      = 60000 // ms
	creditPerCycle = 10    // ms
	bkgInitial     = -105.0
	bkgWeight      = 0.1
	rateWeight     = 0.05
)

// LoRaFrame is a variable length beacon frame held by value in a queue.
type LoRaFrame struct {
	Len  int
	Data [64]byte
}

func NewLoRaFrame(b []byte) (LoRaFrame, error) {
	var f LoRaFrame
	if len(b) > len(f.Data) {
		return f, radio.ErrTooLong
	}
	f.Len = copy(f.Data[:], b)
	return f, nil
}

func (f *LoRaFrame) Bytes() []byte { return f.Data[:f.Len] }

// Received is a decoded packet together with its reception metadata.
type Received[P any] struct {
	Packet      P
	RSSI        float64
	SNR         float64
	UTC         uint32
	OffsetMs    int
	Channel     uint8
	FreqHz      uint32
	Corrected   int
	Rank        uint8
	Significant bool
	// LongRange marks primary packets converted from the long-range format.
	LongRange bool
}

// Identity is this device's address, used to drop its own packets.
type Identity struct {
	Address  uint32
	AddrType uint8
}

type Config struct {
	Identity Identity

	TxPowerDBm int
	// Plan forces a frequency plan; PlanAuto derives it from position.
	Plan freqplan.Plan

	EnableOGN   bool
	EnableADSL  bool
	EnableLDR   bool
	EnableFANET bool
}

// PositionSource provides the own position for relay ranking and plan
// selection.
type PositionSource interface {
	Position() geo.Position
}

// Uplink is the opportunistic uplink state machine (see lorawan.Device).
type Uplink interface {
	Tick()
	ResponseIn(now time.Time) (time.Duration, bool)
	WantsToSend(havePayload bool) bool
	NextUplink(now time.Time, payload []byte) ([]byte, uint32, bool)
	HandleDownlink(frame []byte) error
	Timeout()
	Frequency() uint32
}

// Deps are the collaborators of a Scheduler. Position and Uplink are
// optional.
type Deps struct {
	Radio    *radio.Radio
	Clock    timeref.Clock
	Time     timeref.Source
	Position PositionSource
	Rand     rng.Source
	Uplink   Uplink
}

// Stats is a point-in-time copy of the scheduler counters.
type Stats struct {
	UTC     uint32  `json:"utc"`
	Plan    string  `json:"plan"`
	Cycles  uint64  `json:"cycles"`
	BkgRSSI float64 `json:"bkg_rssi_dbm"`
	PktRate float64 `json:"pkt_rate"`
	Credit  int     `json:"credit_ms"`

	Tx          [NumProtocols]uint64 `json:"tx"`
	Rx          [NumProtocols]uint64 `json:"rx"`
	TxErrors    uint64               `json:"tx_errors"`
	RxBad       uint64               `json:"rx_bad"`
	RxOwn       uint64               `json:"rx_own"`
	RxFull      uint64               `json:"rx_full"`
	LBTForced   uint64               `json:"lbt_forced"`
	Downlinks   uint64               `json:"downlinks"`
	RadioErrors uint64               `json:"radio_errors"`
}

// Scheduler drives one radio. Queues and relay tables are exported for
// producers and consumers; everything else is owned by the Run goroutine.
type Scheduler struct {
	cfg    Config
	radio  *radio.Radio
	clk    timeref.Clock
	tref   timeref.Source
	pos    PositionSource
	rnd    rng.Source
	uplink Uplink

	plan freqplan.FreqPlan

	TxOGN   *fifo.Queue[ogn.Packet]
	TxADSL  *fifo.Queue[adsl.Packet]
	TxLDR   *fifo.Queue[paw.Packet]
	TxFANET *fifo.Queue[LoRaFrame]

	RxOGN   *fifo.Queue[Received[ogn.Packet]]
	RxADSL  *fifo.Queue[Received[adsl.Packet]]
	RxFANET *fifo.Queue[Received[fanet.Packet]]

	RelayOGN  *relay.Table[ogn.Packet]
	RelayADSL *relay.Table[adsl.Packet]

	// cycle state
	base    time.Time // start of the current UTC second
	utc     uint32
	channel uint8
	own     geo.Position

	bkgRSSI   float64
	bkgSeeded bool
	credit    int
	backoff   [NumProtocols]int
	rxCycle   int
	lastOwn   ogn.Packet
	haveOwn   bool

	stats Stats
	last  atomic.Value // Stats
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Radio == nil {
		return nil, fmt.Errorf("sched: radio is nil")
	}
	if deps.Clock == nil || deps.Time == nil {
		return nil, fmt.Errorf("sched: clock and time reference are required")
	}
	if deps.Rand == nil {
		deps.Rand = rng.NewXorShift(uint32(time.Now().UnixNano()))
	}
	s := &Scheduler{
		cfg:    cfg,
		radio:  deps.Radio,
		clk:    deps.Clock,
		tref:   deps.Time,
		pos:    deps.Position,
		rnd:    deps.Rand,
		uplink: deps.Uplink,
		plan:   freqplan.New(cfg.Plan),

		TxOGN:   fifo.New[ogn.Packet](TxQueueLen, fifo.Reject),
		TxADSL:  fifo.New[adsl.Packet](TxQueueLen, fifo.Reject),
		TxLDR:   fifo.New[paw.Packet](TxQueueLen, fifo.Reject),
		TxFANET: fifo.New[LoRaFrame](TxQueueLen, fifo.Reject),

		RxOGN:   fifo.New[Received[ogn.Packet]](RxQueueLen, fifo.Reject),
		RxADSL:  fifo.New[Received[adsl.Packet]](RxQueueLen, fifo.Reject),
		RxFANET: fifo.New[Received[fanet.Packet]](RxBeaconLen, fifo.Reject),

		RelayOGN:  relay.New[ogn.Packet](relay.Config{Capacity: RelayCapacity, Period: 60, Window: 12}),
		RelayADSL: relay.New[adsl.Packet](relay.Config{Capacity: RelayCapacity, Period: 60, Window: 48}),

		bkgRSSI: bkgInitial,
		credit:  creditMax,
	}
	s.publish()
	return s, nil
}

// Snapshot returns the counters as of the last completed cycle. Safe for
// concurrent use.
func (s *Scheduler) Snapshot() Stats {
	if v := s.last.Load(); v != nil {
		return v.(Stats)
	}
	return Stats{}
}

func (s *Scheduler) publish() {
	s.stats.UTC = s.utc
	s.stats.Plan = s.plan.Plan().String()
	s.stats.BkgRSSI = s.bkgRSSI
	s.stats.Credit = s.credit
	s.last.Store(s.stats)
}

// Run executes cycles until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("sched: started plan=%s address=%06X", s.plan.Plan(), s.cfg.Identity.Address)
	for {
		if err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Cycle runs the slots of one UTC second. It waits for the next second if
// called too late for the beacon and long-range slots.
func (s *Scheduler) Cycle(ctx context.Context) error {
	if err := s.align(ctx); err != nil {
		return err
	}
	s.startCycle()

	if err := s.beaconSlot(ctx); err != nil {
		return err
	}
	if err := s.longRangeSlot(ctx); err != nil {
		return err
	}

	secondary, oband := s.secondHash()
	protoA, protoB := ProtoOGN, ProtoADSL
	if secondary {
		protoA, protoB = ProtoADSL, ProtoOGN
	}

	start := s.ms()
	if err := s.fskSlot(ctx, 0, start, clampSlot(800-start), protoA, oband); err != nil {
		return err
	}
	start = s.ms()
	lenB := clampSlot(1200 - start)
	if l, ok := s.uplinkTruncation(start); ok && l < lenB {
		lenB = l
	}
	if err := s.fskSlot(ctx, 1, start, lenB, protoB, oband); err != nil {
		return err
	}
	if err := s.uplinkSlot(ctx); err != nil {
		return err
	}
	if err := s.radio.Standby(); err != nil {
		s.radioError("standby", err)
	}

	s.endCycle()
	return nil
}

// align sets base and utc for the cycle about to run.
func (s *Scheduler) align(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.clk.Now()
		utc, off := s.tref.Reference().At(now)
		if off <= beaconEnd*time.Millisecond {
			s.utc = utc
			s.base = now.Add(-off)
			return nil
		}
		s.clk.Sleep(time.Second - off)
	}
}

func (s *Scheduler) startCycle() {
	s.stats.Cycles++
	s.rxCycle = 0
	if s.credit += creditPerCycle; s.credit > creditMax {
		s.credit = creditMax
	}
	for i := range s.backoff {
		if s.backoff[i] > 0 {
			s.backoff[i]--
		}
	}
	if s.pos != nil {
		s.own = s.pos.Position()
	}
	if s.cfg.Plan == freqplan.PlanAuto && s.own.Valid {
		if s.plan.SetPlanFromPosition(s.own.LatDeg, s.own.LonDeg) {
			log.Printf("sched: frequency plan %s from position", s.plan.Plan())
		}
	}
	if s.uplink != nil {
		s.uplink.Tick()
	}
	s.RelayOGN.Expire(int(s.utc % 60))
	s.RelayADSL.Expire(int(adsl.QuarterSecond(s.utc, 0)))
}

func (s *Scheduler) endCycle() {
	s.stats.PktRate += rateWeight * (float64(s.rxCycle) - s.stats.PktRate)
	s.publish()
}

// secondHash derives the per-second protocol choices. Every device with the
// same UTC second makes the same choice.
func (s *Scheduler) secondHash() (secondary, oband bool) {
	h := rng.Hash(rng.Hash(s.utc))
	secondary = rng.Parity(h) == 1
	h = rng.Hash(h)
	oband = s.plan.OBandFrequency() != 0 && s.cfg.EnableLDR && rng.Parity(h) == 1
	return secondary, oband
}

// ms is the time since the start of the cycle's second.
func (s *Scheduler) ms() int {
	return int(s.clk.Now().Sub(s.base) / time.Millisecond)
}

func (s *Scheduler) waitUntil(ctx context.Context, ms int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d := ms - s.ms(); d > 0 {
		s.clk.Sleep(time.Duration(d) * time.Millisecond)
	}
	return nil
}

func (s *Scheduler) radioError(op string, err error) {
	s.stats.RadioErrors++
	log.Printf("sched: radio %s failed: %v", op, err)
}

func clampSlot(ms int) int {
	return max(250, min(480, ms))
}

func (s *Scheduler) txPower() int {
	return min(s.cfg.TxPowerDBm, s.plan.MaxTxPower())
}

// updateBackground folds a slot-end RSSI sample into the noise floor.
func (s *Scheduler) updateBackground() {
	v, err := s.radio.LiveRSSI()
	if err != nil {
		s.radioError("rssi", err)
		return
	}
	s.foldBackground(v)
}

func (s *Scheduler) foldBackground(v float64) {
	if !s.bkgSeeded {
		s.bkgRSSI = v
		s.bkgSeeded = true
		return
	}
	s.bkgRSSI += bkgWeight * (v - s.bkgRSSI)
}
