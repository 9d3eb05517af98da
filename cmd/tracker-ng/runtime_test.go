package main

import (
	"context"
	"testing"
	"time"

	"tracker-ng/internal/config"
	"tracker-ng/internal/gdl90"
)

func simConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Identity.Address = "DDA5BA"
	cfg.Radio.Plan = "europe"
	cfg.Sim.Ownship.Enable = true
	cfg.Sim.Ownship.CenterLatDeg = 46.5
	cfg.Sim.Ownship.CenterLonDeg = 7.5
	cfg.Sim.Traffic.Enable = true
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate: %v", err)
	}
	return cfg
}

func TestNewRuntime_SimulatorFeedsProducer(t *testing.T) {
	rt, err := newRuntime(context.Background(), simConfig(t))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	if !rt.nav.Fix().Valid {
		t.Fatalf("simulated ownship should have a valid fix")
	}
	rt.prod.Step(time.Now())
	if rt.sch.TxOGN.Len() == 0 || rt.sch.TxADSL.Len() == 0 {
		t.Fatalf("queues ogn=%d adsl=%d want both non-empty", rt.sch.TxOGN.Len(), rt.sch.TxADSL.Len())
	}
}

func TestNewRuntime_WithoutNavigationStaysQuiet(t *testing.T) {
	cfg := simConfig(t)
	cfg.Sim.Ownship.Enable = false
	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	rt.prod.Step(time.Now())
	if n := rt.sch.TxADSL.Len(); n != 0 {
		t.Fatalf("adsl queue=%d want 0 without a fix", n)
	}
	frames := rt.composer().Frames(time.Now())
	if len(frames) != 2 {
		t.Fatalf("frames=%d want heartbeat and device id only", len(frames))
	}
}

func TestRuntime_ComposerIncludesOwnship(t *testing.T) {
	rt, err := newRuntime(context.Background(), simConfig(t))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	frames := rt.composer().Frames(time.Now())
	if len(frames) != 3 {
		t.Fatalf("frames=%d want 3", len(frames))
	}
	msg, ok, err := gdl90.Unframe(frames[2])
	if err != nil || !ok || msg[0] != gdl90.MsgOwnship {
		t.Fatalf("third frame is not ownship: % X", frames[2])
	}
}

func TestRuntime_MetricsRegistered(t *testing.T) {
	rt, err := newRuntime(context.Background(), simConfig(t))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	rt.met.Observe(rt.metricSources())
	families, err := rt.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"tracker_cycles_total", "tracker_traffic_targets", "tracker_tx_credit_ms"} {
		if !names[want] {
			t.Fatalf("metric %s not registered (have %v)", want, names)
		}
	}
}

func TestNewRuntime_RejectsInvalidConfig(t *testing.T) {
	var cfg config.Config
	if _, err := newRuntime(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for missing address")
	}
}
