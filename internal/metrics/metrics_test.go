package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tracker-ng/internal/proc"
	"tracker-ng/internal/sched"
)

func TestObserve_FollowsCumulativeTotals(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	st := sched.Stats{BkgRSSI: -108.5, Credit: 59000, RxBad: 3}
	st.Tx[sched.ProtoOGN] = 4
	var ps proc.Stats
	ps.Relayed[sched.ProtoADSL] = 2
	src := Sources{
		Sched:   func() sched.Stats { return st },
		Proc:    func() proc.Stats { return ps },
		Relay:   func() (int, int) { return 5, 1 },
		Targets: func() int { return 7 },
	}

	m.Observe(src)
	st.Tx[sched.ProtoOGN] = 10
	st.RxBad = 4
	m.Observe(src)

	if got := testutil.ToFloat64(m.txPackets.WithLabelValues("ogn")); got != 10 {
		t.Fatalf("tx ogn=%v want 10", got)
	}
	if got := testutil.ToFloat64(m.rxDropped.WithLabelValues("bad")); got != 4 {
		t.Fatalf("rx bad=%v want 4", got)
	}
	if got := testutil.ToFloat64(m.relayed.WithLabelValues("adsl")); got != 2 {
		t.Fatalf("relayed adsl=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.bkgRSSI); got != -108.5 {
		t.Fatalf("bkg=%v", got)
	}
	if got := testutil.ToFloat64(m.relaySize.WithLabelValues("ogn")); got != 5 {
		t.Fatalf("relay size=%v", got)
	}
	if got := testutil.ToFloat64(m.targets); got != 7 {
		t.Fatalf("targets=%v", got)
	}
}

func TestObserve_IgnoresCounterReset(t *testing.T) {
	m := New(prometheus.NewRegistry())
	st := sched.Stats{Cycles: 50}
	m.Observe(Sources{Sched: func() sched.Stats { return st }})
	st.Cycles = 2
	m.Observe(Sources{Sched: func() sched.Stats { return st }})
	if got := testutil.ToFloat64(m.cycles); got != 50 {
		t.Fatalf("cycles=%v want 50", got)
	}
}

func TestObserve_NilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe(Sources{})
}
