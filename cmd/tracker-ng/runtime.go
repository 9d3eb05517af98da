package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracker-ng/internal/config"
	"tracker-ng/internal/forward"
	"tracker-ng/internal/geo"
	"tracker-ng/internal/gps"
	"tracker-ng/internal/lorawan"
	"tracker-ng/internal/metrics"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/proc"
	"tracker-ng/internal/radio"
	"tracker-ng/internal/replay"
	"tracker-ng/internal/rng"
	"tracker-ng/internal/sched"
	"tracker-ng/internal/sim"
	"tracker-ng/internal/timeref"
	"tracker-ng/internal/traffic"
	"tracker-ng/internal/udp"
	"tracker-ng/internal/web"
)

const metricsInterval = 5 * time.Second

// navSource is the own navigation solution: GPS, the simulator or nothing.
type navSource interface {
	Fix() gps.Fix
	Position() geo.Position
}

type noFix struct{}

func (noFix) Fix() gps.Fix           { return gps.Fix{} }
func (noFix) Position() geo.Position { return geo.Position{} }

type runtime struct {
	cfg config.Config
	clk timeref.Clock
	utc *timeref.Tracker

	stub *radio.Stub
	irq  *radio.IRQLine
	pps  io.Closer

	airRec  *replay.Writer
	airPlay []replay.Record

	gpsSvc *gps.Service
	nav    navSource

	sch   *sched.Scheduler
	prod  *proc.Producer
	store *traffic.Store
	fwd   *forward.Publisher

	reg    *prometheus.Registry
	met    *metrics.Metrics
	status *web.Status
}

func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	clk := timeref.MonotonicClock{}
	r := &runtime{
		cfg:    c,
		clk:    clk,
		utc:    timeref.NewTracker(timeref.SystemSource{Clock: clk}),
		stub:   radio.NewStub(),
		nav:    noFix{},
		store:  traffic.NewStore(traffic.StoreConfig{MaxTargets: c.Traffic.MaxTargets, TTL: c.Traffic.TTL}),
		reg:    prometheus.NewRegistry(),
		status: web.NewStatus(),
	}

	if c.Sim.Traffic.Enable {
		own := c.Sim.Ownship
		r.stub.SetAirSource(&sim.Air{
			Traffic: sim.TrafficSim{
				CenterLatDeg: own.CenterLatDeg,
				CenterLonDeg: own.CenterLonDeg,
				BaseAltM:     own.AltM,
				SpeedMS:      c.Sim.Traffic.SpeedMS,
				RadiusM:      c.Sim.Traffic.RadiusM,
				Period:       c.Sim.Traffic.Period,
			},
			Count: c.Sim.Traffic.Count,
			RSSI:  -85,
		})
	}

	if c.Radio.Replay != "" {
		recs, err := loadAirLog(c.Radio.Replay)
		if err != nil {
			return nil, fmt.Errorf("radio.replay: %w", err)
		}
		r.airPlay = recs
	}
	if c.Radio.Record != "" {
		w, err := replay.CreateWriter(c.Radio.Record)
		if err != nil {
			return nil, fmt.Errorf("radio.record: %w", err)
		}
		r.airRec = w
	}

	var ready radio.ReadyLine
	if c.Radio.IRQGPIO > 0 {
		irq, err := radio.OpenIRQ(c.Radio.IRQGPIO)
		if err != nil {
			// Fall back to polling the driver.
			log.Printf("radio irq init failed: %v", err)
		} else {
			r.irq = irq
			ready = irq
		}
	}

	switch {
	case c.GPS.Enable:
		svc := gps.New(gps.Config{Enable: true, Device: c.GPS.Device, Baud: c.GPS.Baud}, clk, r.utc)
		if err := svc.Start(ctx); err != nil {
			// Keep running without a fix; the service reports the error.
			log.Printf("gps init failed: %v", err)
		}
		r.gpsSvc = svc
		r.nav = svc
	case c.Sim.Ownship.Enable:
		own := c.Sim.Ownship
		r.nav = sim.Ownship{Sim: sim.OwnshipSim{
			CenterLatDeg: own.CenterLatDeg,
			CenterLonDeg: own.CenterLonDeg,
			AltM:         own.AltM,
			SpeedMS:      own.SpeedMS,
			RadiusM:      own.RadiusM,
			Period:       own.Period,
		}}
	}

	if c.GPS.PPSGPIO > 0 {
		pps, err := timeref.OpenPPS(c.GPS.PPSGPIO, r.utc)
		if err != nil {
			log.Printf("pps init failed: %v", err)
		} else {
			r.pps = pps
		}
	}

	seed := uint32(time.Now().UnixNano())
	rnd := rng.NewXorShift(seed)
	deps := sched.Deps{
		Radio:    radio.New(r.stub, ready, clk),
		Clock:    clk,
		Time:     r.utc,
		Position: r.nav,
		Rand:     rnd,
	}
	if c.LoRaWAN.Enable {
		devEUI, appEUI, appKey := c.LoRaWANKeys()
		deps.Uplink = lorawan.NewDevice(lorawan.Keys{DevEUI: devEUI, AppEUI: appEUI, AppKey: appKey}, rnd)
	}
	id := sched.Identity{Address: c.Identity.Addr, AddrType: c.Identity.AddrType}
	sch, err := sched.New(sched.Config{
		Identity:    id,
		TxPowerDBm:  c.Radio.TxPowerDBm,
		Plan:        c.Radio.FreqPlan,
		EnableOGN:   *c.Radio.Protocols.OGN,
		EnableADSL:  *c.Radio.Protocols.ADSL,
		EnableLDR:   *c.Radio.Protocols.LDR,
		EnableFANET: *c.Radio.Protocols.FANET,
	}, deps)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.sch = sch

	var sinks []proc.Sink
	if c.MQTT.Enable {
		fwd, err := forward.New(forward.Config{
			Broker:   c.MQTT.Broker,
			Topic:    c.MQTT.Topic,
			Username: c.MQTT.Username,
			Password: c.MQTT.Password,
		}, uuid.NewString())
		if err != nil {
			// Keep running without forwarding.
			log.Printf("mqtt init failed: %v", err)
		} else {
			r.fwd = fwd
			sinks = append(sinks, fwd)
		}
	}

	var cipher *ogn.Cipher
	if c.Key != nil {
		cipher, err = ogn.NewCipher(c.Key)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("encryption key: %w", err)
		}
	}
	prod, err := proc.New(proc.Config{
		Identity:    id,
		AcftType:    uint8(c.Identity.AircraftType),
		PilotName:   c.Identity.PilotName,
		Stealth:     c.Identity.Stealth,
		Cipher:      cipher,
		TxPowerDBm:  c.Radio.TxPowerDBm,
		EnableOGN:   *c.Radio.Protocols.OGN,
		EnableADSL:  *c.Radio.Protocols.ADSL,
		EnableLDR:   *c.Radio.Protocols.LDR,
		EnableFANET: *c.Radio.Protocols.FANET,
		Relay:       *c.Radio.Relay,
	}, proc.Deps{
		Scheduler: sch,
		Fix:       r.nav,
		Store:     r.store,
		Rand:      rng.NewXorShift(seed ^ 0x9E3779B9),
		Sinks:     sinks,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.prod = prod

	r.met = metrics.New(r.reg)
	r.status.SetStatic(c.GDL90.Dest, c.GDL90.Interval.String(), map[string]any{
		"ownship": c.Sim.Ownship.Enable,
		"traffic": c.Sim.Traffic.Enable,
	})
	r.status.SetSources(r.webSources())
	r.status.SetIdentity(identityOf(c))
	return r, nil
}

func identityOf(c config.Config) web.Identity {
	id := web.Identity{
		Address:      fmt.Sprintf("%06X", c.Identity.Addr),
		AddressType:  c.Identity.AddressType,
		AircraftType: c.Identity.AircraftType,
		Stealth:      c.Identity.Stealth,
		Plan:         c.Radio.FreqPlan.String(),
		Relay:        *c.Radio.Relay,
	}
	p := c.Radio.Protocols
	for _, e := range []struct {
		name string
		on   bool
	}{{"ogn", *p.OGN}, {"adsl", *p.ADSL}, {"ldr", *p.LDR}, {"fanet", *p.FANET}} {
		if e.on {
			id.Protocols = append(id.Protocols, e.name)
		}
	}
	return id
}

func (r *runtime) relayLen() (int, int) {
	return r.sch.RelayOGN.Len(), r.sch.RelayADSL.Len()
}

func (r *runtime) metricSources() metrics.Sources {
	return metrics.Sources{
		Sched:   r.sch.Snapshot,
		Proc:    r.prod.Snapshot,
		Relay:   r.relayLen,
		Targets: r.store.Len,
	}
}

func (r *runtime) webSources() web.Sources {
	src := web.Sources{
		Sched:   r.sch.Snapshot,
		Proc:    r.prod.Snapshot,
		Relay:   r.relayLen,
		Targets: r.store.Snapshot,
	}
	if r.gpsSvc != nil {
		src.GPS = r.gpsSvc.Snapshot
	}
	if r.fwd != nil {
		src.Forward = r.fwd.Stats
	}
	return src
}

func (r *runtime) composer() udp.Composer {
	return udp.Composer{
		Fix:      r.nav.Fix,
		Targets:  r.store.Snapshot,
		Own:      traffic.Key{Address: r.cfg.Identity.Addr, AddrType: r.cfg.Identity.AddrType},
		AcftType: uint8(r.cfg.Identity.AircraftType),
		Callsign: r.cfg.Identity.PilotName,
	}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (r *runtime) Run(ctx context.Context, settings web.SettingsStore, logs *web.LogBuffer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s stopped: %v", name, err)
				cancel()
			}
		}()
	}

	spawn("scheduler", r.sch.Run)
	spawn("producer", r.prod.Run)
	spawn("metrics", func(ctx context.Context) error {
		r.met.Run(ctx, metricsInterval, r.metricSources())
		return nil
	})
	if r.airRec != nil {
		spawn("air recorder", func(ctx context.Context) error { return recordTx(ctx, r.stub, r.airRec) })
	}
	if len(r.airPlay) > 0 {
		spawn("air replay", func(ctx context.Context) error {
			return replayAir(ctx, r.stub, r.airPlay, r.cfg.Radio.ReplayLoop)
		})
	}
	if r.fwd != nil {
		spawn("mqtt", func(ctx context.Context) error { r.fwd.Run(ctx); return nil })
	}

	if r.cfg.GDL90.Dest != "" {
		b, err := udp.NewBroadcaster(r.cfg.GDL90.Dest)
		if err != nil {
			log.Printf("udp broadcaster init failed: %v", err)
		} else {
			defer b.Close()
			log.Printf("udp dest=%s interval=%s", r.cfg.GDL90.Dest, r.cfg.GDL90.Interval)
			comp := r.composer()
			var lastErr string
			spawn("gdl90", func(ctx context.Context) error {
				b.Run(ctx, r.cfg.GDL90.Interval, func(now time.Time) [][]byte {
					frames := comp.Frames(now)
					r.status.MarkTick(now, len(frames))
					return frames
				}, func(err error) {
					if err.Error() != lastErr {
						lastErr = err.Error()
						log.Printf("gdl90 send failed: %v", err)
					}
				})
				return nil
			})
		}
	}

	if r.cfg.Web.Enable {
		metricsHandler := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
		spawn("web", func(ctx context.Context) error {
			log.Printf("web listen=%s", r.cfg.Web.Listen)
			err := web.Serve(ctx, r.cfg.Web.Listen, r.status, settings, logs, web.Mount{Pattern: "/metrics", Handler: metricsHandler})
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	<-ctx.Done()
	wg.Wait()
}

func (r *runtime) Close() {
	if r.gpsSvc != nil {
		r.gpsSvc.Close()
	}
	if r.pps != nil {
		_ = r.pps.Close()
	}
	if r.irq != nil {
		_ = r.irq.Close()
	}
	if r.airRec != nil {
		_ = r.airRec.Close()
	}
}
