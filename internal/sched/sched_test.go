package sched

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/fanet"
	"tracker-ng/internal/freqplan"
	"tracker-ng/internal/manchester"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/paw"
	"tracker-ng/internal/radio"
	"tracker-ng/internal/relay"
	"tracker-ng/internal/rng"
	"tracker-ng/internal/timeref"
)

const testUTC = 1_700_000_000

type fixedRef timeref.Ref

func (f fixedRef) Reference() timeref.Ref { return timeref.Ref(f) }

type harness struct {
	s    *Scheduler
	stub *radio.Stub
	clk  *timeref.Manual
}

func newHarness(t *testing.T, cfg Config, up Uplink) harness {
	t.Helper()
	return newHarnessAt(t, cfg, up, radio.NewStub(), testUTC)
}

func newHarnessAt(t *testing.T, cfg Config, up Uplink, drv radio.Driver, utc uint32) harness {
	t.Helper()
	clk := timeref.NewManual(time.Unix(int64(utc), 0))
	stub, _ := drv.(*radio.Stub)
	s, err := New(cfg, Deps{
		Radio:  radio.New(drv, nil, clk),
		Clock:  clk,
		Time:   fixedRef{UTC: utc, Pulse: clk.Now(), Valid: true},
		Rand:   rng.NewXorShift(0xC0FFEE),
		Uplink: up,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return harness{s: s, stub: stub, clk: clk}
}

func (h harness) cycles(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := h.s.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
}

func baseConfig() Config {
	return Config{
		Identity:   Identity{Address: 0xABCDEF, AddrType: ogn.AddrFLARM},
		TxPowerDBm: 14,
		Plan:       freqplan.PlanEurope,
		EnableOGN:  true,
		EnableADSL: true,
	}
}

func testPacket(addr uint32) ogn.Packet {
	var p ogn.Packet
	p.Header = ogn.Header{Address: addr, AddrType: ogn.AddrFLARM}
	p.SetPosition(ogn.Position{
		Time: 20, FixQuality: 1, FixMode: 1,
		LatDeg: 46.5, LonDeg: 7.5, AltM: 1200,
		SpeedMS: 25, HeadingDeg: 90, AcftType: 1,
	})
	return p
}

func TestCycle_SingleTransmissionInSlotAOrB(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	p := testPacket(0xABCDEF)
	if err := h.s.TxOGN.Push(p); err != nil {
		t.Fatal(err)
	}
	h.cycles(t, 1)

	log := h.stub.TxLog()
	if len(log) != 1 {
		t.Fatalf("transmissions=%d want 1", len(log))
	}
	rec := log[0]
	secondary, _ := h.s.secondHash()
	slot := uint8(0)
	if secondary {
		slot = 1
	}
	plan := freqplan.New(freqplan.PlanEurope)
	if want := plan.ChannelFrequency(plan.Channel(testUTC, slot, 1)); rec.FreqHz != want {
		t.Fatalf("freq=%d want %d (slot %d)", rec.FreqHz, want, slot)
	}
	// Slot A of the primary protocol sits on the upper channel in Europe.
	wantHz := map[uint8]uint32{0: 868_400_000, 1: 868_200_000}[slot]
	if rec.FreqHz != wantHz || rec.Power != 14 {
		t.Fatalf("freq=%d power=%d want %d/14", rec.FreqHz, rec.Power, wantHz)
	}

	data := make([]byte, ogn.FrameBytes)
	mask := make([]byte, ogn.FrameBytes)
	if n := manchester.Decode(data, mask, rec.Data); n != 0 {
		t.Fatalf("line errors=%d", n)
	}
	want := ogn.Encode(p)
	if !bytes.Equal(data, want[:]) {
		t.Fatalf("on-air frame differs from encoded packet")
	}
	got, corrected, ok := ogn.DecodeFrame(data, mask)
	if !ok || corrected != 0 || got != p {
		t.Fatalf("decode ok=%v corrected=%d", ok, corrected)
	}

	st := h.s.Snapshot()
	if st.Tx[ProtoOGN] != 1 || st.Credit >= creditMax {
		t.Fatalf("stats=%+v", st)
	}
	if h.s.TxOGN.Len() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestCycle_ReceivesAndFiltersOwnPackets(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	own := ogn.Encode(testPacket(0xABCDEF))
	other := ogn.Encode(testPacket(0x123456))
	h.stub.InjectRx(radio.Airing{Data: manchester.Encode(nil, own[:]), RSSI: -70})
	h.stub.InjectRx(radio.Airing{Data: manchester.Encode(nil, other[:]), RSSI: -75})
	h.cycles(t, 1)

	st := h.s.Snapshot()
	if st.RxOwn != 1 || st.Rx[ProtoOGN] != 1 {
		t.Fatalf("own=%d rx=%d", st.RxOwn, st.Rx[ProtoOGN])
	}
	r, ok := h.s.RxOGN.Pop()
	if !ok {
		t.Fatalf("nothing queued")
	}
	if r.Packet.Header.Address != 0x123456 || r.RSSI != -75 || !r.Significant {
		t.Fatalf("received=%+v", r)
	}
	if r.UTC != testUTC || r.OffsetMs < 400 {
		t.Fatalf("timestamp utc=%d offset=%d", r.UTC, r.OffsetMs)
	}
	if _, ok := h.s.RelayOGN.Lookup(relay.Key{Address: 0x123456, AddrType: ogn.AddrFLARM}); !ok {
		t.Fatalf("relay entry missing")
	}
}

func TestCycle_SecondaryFrameOnJointProfile(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	p := adsl.Packet{Version: 0, Address: 0x3E1F22, AddrType: 1, MsgType: adsl.MsgTraffic, Time: 8, LatDeg: 47.1, LonDeg: 11.4, AltM: 1800}
	frame := adsl.Encode(p)
	air := manchester.Encode(nil, frame[:])
	air[10] ^= 0x01 // one invalid chip pair
	h.stub.InjectRx(radio.Airing{Data: air})
	h.cycles(t, 1)

	r, ok := h.s.RxADSL.Pop()
	if !ok {
		t.Fatalf("secondary frame not received (bad=%d)", h.s.Snapshot().RxBad)
	}
	want, _, _ := adsl.Decode(frame[:], make([]byte, adsl.FrameBytes))
	if r.Packet != want || r.Corrected != 1 {
		t.Fatalf("got %+v corrected=%d", r.Packet, r.Corrected)
	}
}

func ldrConfig() Config {
	cfg := baseConfig()
	cfg.EnableOGN, cfg.EnableADSL, cfg.EnableLDR = false, false, true
	return cfg
}

func receiveLongRange(t *testing.T, air []byte) Stats {
	t.Helper()
	h := newHarness(t, ldrConfig(), nil)
	h.stub.InjectRx(radio.Airing{Data: air})
	h.cycles(t, 1)
	return h.s.Snapshot()
}

func TestCycle_LongRangeSingleBitCorrection(t *testing.T) {
	frame := adsl.Encode(adsl.Packet{Address: 0x3E1F22, AddrType: 1, MsgType: adsl.MsgTraffic, Time: 12, LatDeg: 47.1, LonDeg: 11.4, AltM: 1800})
	clean := paw.AirBytes(paw.Frame(frame))
	damaged := append([]byte(nil), clean...)
	damaged[paw.PrefixBytes+9] ^= 0x10

	var got [2]Received[adsl.Packet]
	for i, air := range [][]byte{clean, damaged} {
		h := newHarness(t, ldrConfig(), nil)
		h.stub.InjectRx(radio.Airing{Data: air})
		h.cycles(t, 1)
		r, ok := h.s.RxADSL.Pop()
		if !ok {
			t.Fatalf("frame %d not received", i)
		}
		got[i] = r
	}
	if got[0].Packet != got[1].Packet {
		t.Fatalf("corrected frame decoded differently:\n%+v\n%+v", got[0].Packet, got[1].Packet)
	}
	if got[0].Corrected != 0 || got[1].Corrected != 1 {
		t.Fatalf("corrected counts %d/%d", got[0].Corrected, got[1].Corrected)
	}
}

func TestCycle_LongRangePositionBecomesPrimary(t *testing.T) {
	pp := paw.Packet{Address: 0x4CA123, AddrType: 1, LatDeg: 51.5, LonDeg: -0.12, AltM: 900, Heading: 85, SpeedKt: 95, AcftType: 8}
	air := paw.AirBytes(paw.Frame(pp.Marshal()))
	air[paw.PrefixBytes+3] ^= 0x80

	h := newHarness(t, ldrConfig(), nil)
	h.stub.InjectRx(radio.Airing{Data: air})
	h.cycles(t, 1)
	r, ok := h.s.RxOGN.Pop()
	if !ok {
		t.Fatalf("long-range packet not received")
	}
	if !r.LongRange || r.Corrected != 1 || r.Packet.Header.Address != 0x4CA123 {
		t.Fatalf("received=%+v", r)
	}
	if h.s.Snapshot().Rx[ProtoLDR] != 1 {
		t.Fatalf("ldr rx not counted")
	}
}

func TestCycle_LongRangeRejectsBrokenSyncTail(t *testing.T) {
	air := paw.AirBytes(paw.Frame(paw.Packet{Address: 1}.Marshal()))
	air[0] ^= 0xFF
	if st := receiveLongRange(t, air); st.RxBad != 1 || st.Rx[ProtoLDR] != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestCycle_BackgroundConverges(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.stub.SetNoise(-110)
	h.cycles(t, 1)
	const v = -95.0
	h.stub.SetNoise(v)
	h.cycles(t, 25) // two slot-end samples per cycle
	if got := h.s.Snapshot().BkgRSSI; math.Abs(got-v) > 0.1 {
		t.Fatalf("background=%.3f want within 0.1 of %.1f", got, v)
	}
}

func TestCycle_BusyChannelStillTransmits(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.cycles(t, 1) // seed background at the quiet level
	h.stub.SetNoise(-20)
	if err := h.s.TxOGN.Push(testPacket(0xABCDEF)); err != nil {
		t.Fatal(err)
	}
	h.cycles(t, 1)
	st := h.s.Snapshot()
	if st.Tx[ProtoOGN] != 1 || st.LBTForced != 1 {
		t.Fatalf("tx=%d forced=%d", st.Tx[ProtoOGN], st.LBTForced)
	}
	if h.s.TxOGN.Len() != 0 {
		t.Fatalf("packet should have been sent")
	}
}

func TestListenBeforeTalk_FoldsQuietSample(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.s.base = h.clk.Now()
	h.s.bkgRSSI, h.s.bkgSeeded = -100, true
	h.stub.SetNoise(-95)
	if err := h.s.receive(radio.Joint, 868_200_000); err != nil {
		t.Fatal(err)
	}
	quiet, err := h.s.listenBeforeTalk(context.Background(), 0, 400)
	if err != nil || !quiet {
		t.Fatalf("quiet=%v err=%v", quiet, err)
	}
	if want := -100 + bkgWeight*5; math.Abs(h.s.bkgRSSI-want) > 1e-9 {
		t.Fatalf("background=%.3f want %.3f", h.s.bkgRSSI, want)
	}
}

func TestCycle_ConsecutiveSeconds(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	for i := uint32(0); i < 4; i++ {
		h.cycles(t, 1)
		if got := h.s.Snapshot().UTC; got != testUTC+i {
			t.Fatalf("cycle %d utc=%d want %d", i, got, testUTC+i)
		}
	}
}

func TestCycle_RunsAgainstRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("runs on wall time")
	}
	clk := timeref.MonotonicClock{}
	s, err := New(baseConfig(), Deps{
		Radio: radio.New(radio.NewStub(), nil, clk),
		Clock: clk,
		Time:  fixedRef{UTC: testUTC, Pulse: clk.Now(), Valid: true},
		Rand:  rng.NewXorShift(7),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	if n := s.Snapshot().Cycles; n < 2 {
		t.Fatalf("cycles=%d in 2.5s of wall time", n)
	}
}

// brokenReader reports a packet that can never be read.
type brokenReader struct{ *radio.Stub }

func (brokenReader) PacketReady() bool { return true }
func (brokenReader) ReadPacket([]byte) (int, bool, error) {
	return 0, false, errors.New("spi timeout")
}

func TestCycle_ReadErrorsDoNotStallSlot(t *testing.T) {
	h := newHarnessAt(t, baseConfig(), nil, brokenReader{radio.NewStub()}, testUTC)
	h.cycles(t, 1)
	if h.s.Snapshot().RadioErrors == 0 {
		t.Fatalf("read errors not counted")
	}
}

// obandAir puts one long-range frame on the O-band once the primary slots
// have started.
type obandAir struct {
	clk   timeref.Clock
	after time.Time
	frame []byte
}

func (o *obandAir) Airings(freq uint32, _ [][]byte) []radio.Airing {
	if o.frame == nil || freq != 869_525_000 || o.clk.Now().Before(o.after) {
		return nil
	}
	out := []radio.Airing{{Data: o.frame}}
	o.frame = nil
	return out
}

// obandSecond finds a second whose secondary turn moves to the O-band.
func obandSecond(t *testing.T, cfg Config) uint32 {
	t.Helper()
	scan := newHarness(t, cfg, nil)
	for utc := uint32(testUTC); utc < testUTC+200; utc++ {
		scan.s.utc = utc
		if _, oband := scan.s.secondHash(); oband {
			return utc
		}
	}
	t.Fatalf("no O-band second found")
	return 0
}

func TestCycle_LongRangeUsesOBand(t *testing.T) {
	h := newHarness(t, ldrConfig(), nil)
	pp := paw.Packet{Address: 0xABCDEF, AddrType: 1, LatDeg: 46.5, LonDeg: 7.5, AltM: 1200}
	if err := h.s.TxLDR.Push(pp); err != nil {
		t.Fatal(err)
	}
	h.cycles(t, 1)
	log := h.stub.TxLog()
	if len(log) != 1 {
		t.Fatalf("transmissions=%d want 1", len(log))
	}
	if log[0].FreqHz != 869_525_000 || log[0].Power != 27 {
		t.Fatalf("freq=%d power=%d want 869525000/27", log[0].FreqHz, log[0].Power)
	}
	if !bytes.Equal(log[0].Data, paw.AirBytes(paw.Frame(pp.Marshal()))) {
		t.Fatalf("long-range frame differs")
	}
}

func TestCycle_LongRangeSilentWithoutOBand(t *testing.T) {
	cfg := ldrConfig()
	cfg.Plan = freqplan.PlanUSA
	h := newHarness(t, cfg, nil)
	if err := h.s.TxLDR.Push(paw.Packet{Address: 0xABCDEF}); err != nil {
		t.Fatal(err)
	}
	h.cycles(t, 1)
	if log := h.stub.TxLog(); len(log) != 0 {
		t.Fatalf("transmissions=%+v want none", log)
	}
	if h.s.TxLDR.Len() != 1 {
		t.Fatalf("long-range packet should stay queued")
	}
}

func TestCycle_OBandTurnCarriesSecondaryPacket(t *testing.T) {
	cfg := baseConfig()
	cfg.EnableOGN, cfg.EnableLDR = false, true
	utc := obandSecond(t, cfg)
	h := newHarnessAt(t, cfg, nil, radio.NewStub(), utc)
	pkt := adsl.Packet{Address: 0xABCDEF, AddrType: 1, MsgType: adsl.MsgTraffic, LatDeg: 46.5, LonDeg: 7.5, AltM: 1200}
	if err := h.s.TxADSL.Push(pkt); err != nil {
		t.Fatal(err)
	}
	peer := adsl.Encode(adsl.Packet{Address: 0x3E1F22, AddrType: 1, MsgType: adsl.MsgTraffic, Time: 4, LatDeg: 47.1, LonDeg: 11.4, AltM: 1800})
	h.stub.SetAirSource(&obandAir{
		clk:   h.clk,
		after: h.clk.Now().Add(longRangeEnd * time.Millisecond),
		frame: paw.AirBytes(paw.Frame(peer)),
	})
	h.cycles(t, 1)

	log := h.stub.TxLog()
	if len(log) != 1 {
		t.Fatalf("transmissions=%d want 1", len(log))
	}
	if log[0].FreqHz != 869_525_000 || log[0].Power != 27 {
		t.Fatalf("freq=%d power=%d", log[0].FreqHz, log[0].Power)
	}
	tail := len(paw.SyncPrefix) - 2
	res := paw.Decode(log[0].Data[tail:])
	if res.Kind != paw.KindADSL || res.ADSL.Address != 0xABCDEF {
		t.Fatalf("sent frame decodes as %v %+v", res.Kind, res.ADSL)
	}
	if st := h.s.Snapshot(); st.Tx[ProtoLDR] != 1 || st.Tx[ProtoADSL] != 0 {
		t.Fatalf("tx counters=%v", st.Tx)
	}
	if r, ok := h.s.RxADSL.Pop(); !ok || r.Packet.Address != 0x3E1F22 || r.FreqHz != 869_525_000 {
		t.Fatalf("O-band reception=%+v ok=%v", r, ok)
	}
}

func TestCycle_BeaconSlot(t *testing.T) {
	cfg := baseConfig()
	cfg.EnableFANET = true
	h := newHarness(t, cfg, nil)
	f, err := NewLoRaFrame(fanet.EncodeTracking(0xABCDEF, fanet.Tracking{LatDeg: 46, LonDeg: 7, AltM: 1000}))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.s.TxFANET.Push(f); err != nil {
		t.Fatal(err)
	}
	peer := fanet.EncodeTracking(0x0700AA, fanet.Tracking{LatDeg: 46.1, LonDeg: 7.1, AltM: 900})
	h.stub.InjectRx(radio.Airing{Sync: []byte{0xF1}, Data: peer, RSSI: -90})
	h.cycles(t, 1)

	var lora []radio.TxRecord
	for _, r := range h.stub.TxLog() {
		if r.LoRa {
			lora = append(lora, r)
		}
	}
	plan := freqplan.New(freqplan.PlanEurope)
	if len(lora) != 1 || lora[0].FreqHz != plan.FANETFrequency() {
		t.Fatalf("beacon transmissions=%+v", lora)
	}
	r, ok := h.s.RxFANET.Pop()
	if !ok || r.Packet.Address != 0x0700AA {
		t.Fatalf("beacon not received: %+v", r)
	}
}

func TestCycle_BeaconSlotListensWholeWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.EnableFANET = true
	h := newHarness(t, cfg, nil)
	for _, addr := range []uint32{0x0700AA, 0x0700BB} {
		b := fanet.EncodeTracking(addr, fanet.Tracking{LatDeg: 46.1, LonDeg: 7.1, AltM: 900})
		h.stub.InjectRx(radio.Airing{Sync: []byte{0xF1}, Data: b, RSSI: -90})
	}
	h.cycles(t, 1)
	if n := h.s.RxFANET.Len(); n != 2 {
		t.Fatalf("beacons received=%d want 2", n)
	}
	if log := h.stub.TxLog(); len(log) != 0 {
		t.Fatalf("unexpected transmissions %+v", log)
	}
}

type fakeUplink struct {
	want     bool
	awaiting bool
	respAt   time.Time
	sent     int
	down     [][]byte
	timeouts int
}

func (f *fakeUplink) Tick() {}

func (f *fakeUplink) ResponseIn(now time.Time) (time.Duration, bool) {
	if !f.awaiting {
		return 0, false
	}
	return f.respAt.Sub(now), true
}

func (f *fakeUplink) WantsToSend(bool) bool { return f.want && !f.awaiting && f.sent == 0 }

func (f *fakeUplink) NextUplink(now time.Time, payload []byte) ([]byte, uint32, bool) {
	if !f.WantsToSend(true) {
		return nil, 0, false
	}
	f.sent++
	f.awaiting = true
	f.respAt = now.Add(5 * time.Second)
	return []byte{0x00, 1, 2, 3}, 867_100_000, true
}

func (f *fakeUplink) HandleDownlink(frame []byte) error {
	f.down = append(f.down, frame)
	f.awaiting = false
	return nil
}

func (f *fakeUplink) Timeout()          { f.timeouts++; f.awaiting = false }
func (f *fakeUplink) Frequency() uint32 { return 867_100_000 }

type downlinkAir struct{ frame []byte }

func (d *downlinkAir) Airings(freq uint32, sync [][]byte) []radio.Airing {
	if d.frame == nil || freq != 867_100_000 || !bytes.Equal(sync[0], []byte{0x34}) {
		return nil
	}
	out := []radio.Airing{{Sync: []byte{0x34}, Data: d.frame}}
	d.frame = nil
	return out
}

func TestCycle_UplinkExchange(t *testing.T) {
	up := &fakeUplink{want: true}
	h := newHarness(t, baseConfig(), up)
	h.stub.SetAirSource(&downlinkAir{frame: []byte{0x60, 9, 9}})

	h.cycles(t, 1)
	var wan int
	for _, r := range h.stub.TxLog() {
		if r.LoRa && r.FreqHz == 867_100_000 {
			wan++
		}
	}
	if wan != 1 || up.sent != 1 {
		t.Fatalf("uplinks=%d sent=%d", wan, up.sent)
	}
	h.cycles(t, 7)
	if len(up.down) != 1 || up.timeouts != 0 {
		t.Fatalf("downlinks=%d timeouts=%d", len(up.down), up.timeouts)
	}
	if h.s.Snapshot().Downlinks != 1 {
		t.Fatalf("downlink not counted")
	}
}

func TestUplinkTruncation(t *testing.T) {
	up := &fakeUplink{want: true}
	h := newHarness(t, baseConfig(), up)
	if l, ok := h.s.uplinkTruncation(800); !ok || l != 350 {
		t.Fatalf("send truncation=%d,%v", l, ok)
	}
	up.want = false
	up.awaiting = true
	up.respAt = h.clk.Now().Add(300 * time.Millisecond)
	if l, ok := h.s.uplinkTruncation(800); !ok || l != 260 {
		t.Fatalf("response truncation=%d,%v", l, ok)
	}
	up.respAt = h.clk.Now().Add(3 * time.Second)
	if _, ok := h.s.uplinkTruncation(800); ok {
		t.Fatalf("distant response must not truncate")
	}
}

func TestClampSlot(t *testing.T) {
	cases := map[int]int{100: 250, 400: 400, 700: 480}
	for in, want := range cases {
		if got := clampSlot(in); got != want {
			t.Fatalf("clampSlot(%d)=%d want %d", in, got, want)
		}
	}
}
