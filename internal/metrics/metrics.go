// Package metrics exports scheduler, producer and traffic counters to
// Prometheus.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tracker-ng/internal/proc"
	"tracker-ng/internal/sched"
)

// Sources are polled on every Observe. Any of them may be nil.
type Sources struct {
	Sched   func() sched.Stats
	Proc    func() proc.Stats
	Relay   func() (primary, secondary int)
	Targets func() int
}

type Metrics struct {
	txPackets  *prometheus.CounterVec
	rxPackets  *prometheus.CounterVec
	ownQueued  *prometheus.CounterVec
	relayed    *prometheus.CounterVec
	rxDropped  *prometheus.CounterVec
	txErrors   prometheus.Counter
	lbtForced  prometheus.Counter
	radioErrs  prometheus.Counter
	downlinks  prometheus.Counter
	cycles     prometheus.Counter
	bkgRSSI    prometheus.Gauge
	pktRate    prometheus.Gauge
	credit     prometheus.Gauge
	relaySize  *prometheus.GaugeVec
	targets    prometheus.Gauge
	lastUpdate prometheus.Gauge

	mu   sync.Mutex // protects the previous snapshots
	prev sched.Stats
	prod proc.Stats
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		txPackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_tx_packets_total",
			Help: "Frames transmitted per protocol",
		}, []string{"protocol"}),
		rxPackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_rx_packets_total",
			Help: "Packets received and accepted per protocol",
		}, []string{"protocol"}),
		ownQueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_own_packets_total",
			Help: "Own position packets queued per protocol",
		}, []string{"protocol"}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_relayed_packets_total",
			Help: "Received packets queued for rebroadcast per protocol",
		}, []string{"protocol"}),
		rxDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_rx_dropped_total",
			Help: "Received frames dropped, by reason",
		}, []string{"reason"}),
		txErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "tracker_tx_errors_total",
			Help: "Transmissions that failed",
		}),
		lbtForced: f.NewCounter(prometheus.CounterOpts{
			Name: "tracker_lbt_forced_total",
			Help: "Transmissions sent after listen-before-talk ran out of slot time",
		}),
		radioErrs: f.NewCounter(prometheus.CounterOpts{
			Name: "tracker_radio_errors_total",
			Help: "Radio driver errors",
		}),
		downlinks: f.NewCounter(prometheus.CounterOpts{
			Name: "tracker_uplink_downlinks_total",
			Help: "Downlink frames received in uplink windows",
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "tracker_cycles_total",
			Help: "Completed slot cycles",
		}),
		bkgRSSI: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_background_rssi_dbm",
			Help: "Background noise level estimate",
		}),
		pktRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_packet_rate",
			Help: "Smoothed received packets per cycle",
		}),
		credit: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tx_credit_ms",
			Help: "Remaining transmit time credit",
		}),
		relaySize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_relay_entries",
			Help: "Live relay candidates per table",
		}, []string{"protocol"}),
		targets: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_traffic_targets",
			Help: "Targets currently held in the traffic store",
		}),
		lastUpdate: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_last_update_timestamp_seconds",
			Help: "Unix time of the last metrics update",
		}),
	}
}

// Observe pulls the current values from src.
func (m *Metrics) Observe(src Sources) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if src.Sched != nil {
		st := src.Sched()
		for p := sched.Protocol(0); p < sched.NumProtocols; p++ {
			addDelta(m.txPackets.WithLabelValues(p.String()), st.Tx[p], m.prev.Tx[p])
			addDelta(m.rxPackets.WithLabelValues(p.String()), st.Rx[p], m.prev.Rx[p])
		}
		addDelta(m.rxDropped.WithLabelValues("bad"), st.RxBad, m.prev.RxBad)
		addDelta(m.rxDropped.WithLabelValues("own"), st.RxOwn, m.prev.RxOwn)
		addDelta(m.rxDropped.WithLabelValues("queue_full"), st.RxFull, m.prev.RxFull)
		addDelta(m.txErrors, st.TxErrors, m.prev.TxErrors)
		addDelta(m.lbtForced, st.LBTForced, m.prev.LBTForced)
		addDelta(m.radioErrs, st.RadioErrors, m.prev.RadioErrors)
		addDelta(m.downlinks, st.Downlinks, m.prev.Downlinks)
		addDelta(m.cycles, st.Cycles, m.prev.Cycles)
		m.bkgRSSI.Set(st.BkgRSSI)
		m.pktRate.Set(st.PktRate)
		m.credit.Set(float64(st.Credit))
		m.prev = st
	}
	if src.Proc != nil {
		ps := src.Proc()
		for p := sched.Protocol(0); p < sched.NumProtocols; p++ {
			addDelta(m.ownQueued.WithLabelValues(p.String()), ps.Own[p], m.prod.Own[p])
			addDelta(m.relayed.WithLabelValues(p.String()), ps.Relayed[p], m.prod.Relayed[p])
		}
		addDelta(m.rxDropped.WithLabelValues("encrypted"), ps.Encrypted, m.prod.Encrypted)
		m.prod = ps
	}
	if src.Relay != nil {
		primary, secondary := src.Relay()
		m.relaySize.WithLabelValues(sched.ProtoOGN.String()).Set(float64(primary))
		m.relaySize.WithLabelValues(sched.ProtoADSL.String()).Set(float64(secondary))
	}
	if src.Targets != nil {
		m.targets.Set(float64(src.Targets()))
	}
	m.lastUpdate.SetToCurrentTime()
}

// Run observes every interval until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context, interval time.Duration, src Sources) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		m.Observe(src)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// addDelta advances a counter to follow a monotonically increasing total.
// A total that went backwards (a restart) is ignored.
func addDelta(c prometheus.Counter, cur, prev uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}
