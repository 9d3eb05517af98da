// Package proc is the packet producer and consumer running beside the slot
// scheduler. Once a second it queues own position, status and name packets,
// refills the transmit queues from the relay tables and drains received
// packets into the traffic store.
package proc

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tracker-ng/internal/gps"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/rng"
	"tracker-ng/internal/sched"
	"tracker-ng/internal/traffic"
)

// Hardware and firmware codes reported in status packets.
const (
	HardwareID = 0x42
	FirmwareID = 0x01
)

const (
	txBackoffBase     = 3
	statusBackoffBase = 16
	statusBackoffSpan = 15
	// Relay and status packets are only queued while the queue is this short.
	queueLowWater = 2
	nameInterval  = 60
)

type Config struct {
	Identity sched.Identity
	// AcftType is the primary protocol aircraft type (1 glider, 7 paraglider ...).
	AcftType  uint8
	PilotName string
	Stealth   bool
	// Cipher encrypts own position packets when non-nil.
	Cipher *ogn.Cipher

	TxPowerDBm int

	EnableOGN   bool
	EnableADSL  bool
	EnableLDR   bool
	EnableFANET bool
	Relay       bool
}

// FixSource yields the own navigation solution.
type FixSource interface {
	Fix() gps.Fix
}

// Sink receives significant traffic updates, e.g. an MQTT publisher.
type Sink interface {
	Publish(t traffic.Target)
}

type Deps struct {
	Scheduler *sched.Scheduler
	Fix       FixSource
	Store     *traffic.Store
	Rand      rng.Source
	Sinks     []Sink
}

// Stats counts what the producer queued and consumed.
type Stats struct {
	Own       [sched.NumProtocols]uint64 `json:"own"`
	Relayed   [sched.NumProtocols]uint64 `json:"relayed"`
	Status    uint64                     `json:"status"`
	Names     uint64                     `json:"names"`
	QueueFull uint64                     `json:"queue_full"`
	Drained   uint64                     `json:"drained"`
	Encrypted uint64                     `json:"encrypted_skipped"`
	Published uint64                     `json:"published"`
}

// Producer must be driven from a single goroutine: it is the only writer of
// the scheduler's transmit queues and the only reader of its receive queues.
type Producer struct {
	cfg   Config
	sch   *sched.Scheduler
	fix   FixSource
	store *traffic.Store
	rnd   rng.Source
	sinks []Sink

	backoff       [sched.NumProtocols]int
	statusBackoff int
	nameBackoff   int

	stats Stats
	last  atomic.Value // Stats
}

func New(cfg Config, deps Deps) (*Producer, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("proc: scheduler is nil")
	}
	if deps.Fix == nil {
		return nil, fmt.Errorf("proc: fix source is nil")
	}
	if deps.Rand == nil {
		deps.Rand = rng.NewXorShift(uint32(time.Now().UnixNano()))
	}
	p := &Producer{
		cfg:   cfg,
		sch:   deps.Scheduler,
		fix:   deps.Fix,
		store: deps.Store,
		rnd:   deps.Rand,
		sinks: deps.Sinks,
	}
	p.statusBackoff = statusBackoffBase
	p.last.Store(p.stats)
	return p, nil
}

// Snapshot is safe for concurrent use.
func (p *Producer) Snapshot() Stats {
	return p.last.Load().(Stats)
}

// Run calls Step once a second until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	log.Printf("proc: started address=%06X relay=%t encrypted=%t", p.cfg.Identity.Address, p.cfg.Relay, p.cfg.Cipher != nil)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			p.Step(now)
		}
	}
}

// Step runs one producer tick: drain, then produce.
func (p *Producer) Step(now time.Time) {
	p.Drain(now)

	for i := range p.backoff {
		if p.backoff[i] > 0 {
			p.backoff[i]--
		}
	}
	if p.statusBackoff > 0 {
		p.statusBackoff--
	}
	if p.nameBackoff > 0 {
		p.nameBackoff--
	}

	fix := p.fix.Fix()
	if fix.Valid {
		p.produceOwn(fix)
	}
	p.produceStatus(fix)
	p.produceName()
	if p.cfg.Relay {
		p.refillRelay()
	}
	p.last.Store(p.stats)
}

// txBackoff is the number of ticks until the next own packet of a protocol:
// 3 or 4, one more while the transmit credit is exhausted.
func (p *Producer) txBackoff() int {
	n := txBackoffBase + int(p.rnd.Uint32()&1)
	if p.sch.Snapshot().Credit <= 0 {
		n++
	}
	return n
}
