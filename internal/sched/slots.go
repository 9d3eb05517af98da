package sched

import (
	"context"
	"errors"
	"time"

	"tracker-ng/internal/radio"
)

// Slot boundaries in ms from the start of the UTC second.
const (
	beaconEnd    = 380
	longRangeEnd = 400

	pollInterval = time.Millisecond

	beaconPoll   = 10   // ms between checks of the beacon TX queue
	beaconTxLead = 10   // ms: earliest beacon TX after it is queued
	beaconTxTail = 40   // ms the beacon slot keeps after a TX starts
	lbtMargin    = 10.0 // dB above background
	lbtStep      = 3.0  // dB per retry
	lbtGuard     = 20   // ms left in slot below which LBT stops sampling
	uplinkLead   = 40   // ms between slot B end and the response window
	uplinkTxAt   = 1150 // ms: slot B end when an uplink is sent this cycle
	downlinkWait = 120  // ms past the expected response
	// responseHold is the latest response the uplink slot still serves;
	// later ones are met by truncating the next cycle's slot B.
	responseHold = 600*time.Millisecond + uplinkLead*time.Millisecond
)

// receive enters RX with profile p on freq.
func (s *Scheduler) receive(p radio.Profile, freq uint32) error {
	if err := s.radio.Configure(p, radio.RX); err != nil {
		return err
	}
	if err := s.radio.SetFrequency(freq); err != nil {
		return err
	}
	return s.radio.StartReceive()
}

// listen processes received frames until ms.
func (s *Scheduler) listen(ctx context.Context, until int) error {
	for s.ms() < until {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.radio.Ready() {
			s.clk.Sleep(pollInterval)
			continue
		}
		f, err := s.radio.ReadFrame()
		if err != nil {
			if !errors.Is(err, radio.ErrNoPacket) {
				s.radioError("read", err)
			}
			s.clk.Sleep(pollInterval)
			continue
		}
		s.handleFrame(f)
	}
	return nil
}

// beaconSlot receives beacon frames until beaconEnd. A frame queued before
// or during the slot is sent once, at a random time in what is left of it.
func (s *Scheduler) beaconSlot(ctx context.Context) error {
	freq := s.plan.FANETFrequency()
	if !s.cfg.EnableFANET || freq == 0 {
		return s.waitUntil(ctx, beaconEnd)
	}
	if err := s.receive(radio.FANET, freq); err != nil {
		s.radioError("beacon rx", err)
		return s.waitUntil(ctx, beaconEnd)
	}
	txAt, decided := beaconEnd, false
	for s.ms() < beaconEnd {
		if !decided && s.TxFANET.Len() > 0 && s.backoff[ProtoFANET] == 0 {
			decided = true
			if span := beaconEnd - s.ms() - beaconTxLead - beaconTxTail; span > 0 {
				txAt = s.ms() + beaconTxLead + int(s.rnd.Uint32()%uint32(span))
			}
		}
		until := txAt
		if !decided {
			until = min(beaconEnd, s.ms()+beaconPoll)
		}
		if err := s.listen(ctx, until); err != nil {
			return err
		}
		if txAt < beaconEnd && s.ms() >= txAt {
			txAt = beaconEnd
			if f, ok := s.TxFANET.Read(); ok {
				s.transmit(ProtoFANET, radio.FANET, freq, s.txPower(), f.Bytes())
				s.TxFANET.Advance()
			}
			if err := s.receive(radio.FANET, freq); err != nil {
				s.radioError("beacon rx", err)
				break
			}
		}
	}
	return s.waitUntil(ctx, beaconEnd)
}

// longRangeSlot listens for long-range frames on the O-band carrier and
// sends one queued long-range packet there at raised power. Plans without
// an O-band frequency skip it.
func (s *Scheduler) longRangeSlot(ctx context.Context) error {
	freq := s.plan.OBandFrequency()
	if !s.cfg.EnableLDR || freq == 0 {
		return s.waitUntil(ctx, longRangeEnd)
	}
	s.channel = uint8(s.plan.Channels())
	if err := s.receive(radio.LDR, freq); err != nil {
		s.radioError("long-range rx", err)
		return s.waitUntil(ctx, longRangeEnd)
	}
	if s.TxLDR.Len() > 0 && s.backoff[ProtoLDR] == 0 {
		if err := s.listen(ctx, beaconEnd+2+int(s.rnd.Uint32()%4)); err != nil {
			return err
		}
		s.sendLongRange(freq)
		if err := s.receive(radio.LDR, freq); err != nil {
			s.radioError("long-range rx", err)
			return s.waitUntil(ctx, longRangeEnd)
		}
	}
	return s.listen(ctx, longRangeEnd)
}

// fskSlot is one primary slot: joint reception on the slot's hop and, when
// a packet of proto is queued, listen-before-talk and one transmission.
// With oband set the secondary protocol's turn moves to the O-band carrier:
// it receives long-range frames there and sends the secondary packet in
// long-range framing at raised power.
func (s *Scheduler) fskSlot(ctx context.Context, slot uint8, start, length int, proto Protocol, oband bool) error {
	end := start + length
	ch := s.plan.Channel(s.utc, slot, 1)
	freq := s.plan.ChannelFrequency(ch)
	rxProfile := radio.Joint
	obandTurn := oband && proto == ProtoADSL
	if obandTurn {
		ch = uint8(s.plan.Channels())
		freq = s.plan.OBandFrequency()
		rxProfile = radio.LDR
	}
	s.channel = ch

	if !obandTurn && !s.cfg.EnableOGN && !s.cfg.EnableADSL {
		return s.waitUntil(ctx, end)
	}
	if err := s.receive(rxProfile, freq); err != nil {
		s.radioError("rx", err)
		return s.waitUntil(ctx, end)
	}

	if s.txPending(proto) {
		offset := 20 + int(s.rnd.Uint32()%uint32(max(1, length-200)))
		if err := s.listen(ctx, start+offset); err != nil {
			return err
		}
		quiet, err := s.listenBeforeTalk(ctx, start, length)
		if err != nil {
			return err
		}
		if !quiet {
			s.stats.LBTForced++
		}
		if obandTurn {
			s.sendSecondaryLongRange(freq)
		} else {
			s.sendFSK(proto, freq)
		}
		if err := s.receive(rxProfile, freq); err != nil {
			s.radioError("rx", err)
			return s.waitUntil(ctx, end)
		}
	}
	if err := s.listen(ctx, end); err != nil {
		return err
	}
	s.updateBackground()
	return nil
}

// listenBeforeTalk samples the channel until it is within the threshold of
// the background level, raising the threshold with every busy sample. A
// clear sample is folded into the background. It reports false when the
// slot ran short first; the caller transmits regardless.
func (s *Scheduler) listenBeforeTalk(ctx context.Context, start, length int) (bool, error) {
	thr := s.bkgRSSI + lbtMargin
	for {
		if s.ms()-start+lbtGuard >= length {
			return false, nil
		}
		rssi, err := s.radio.LiveRSSI()
		if err != nil {
			s.radioError("rssi", err)
			return false, nil
		}
		if rssi < thr {
			s.foldBackground(rssi)
			return true, nil
		}
		thr += lbtStep
		wait := 10 + int(s.rnd.Uint32()%19)
		if err := s.listen(ctx, s.ms()+wait); err != nil {
			return false, err
		}
	}
}

func (s *Scheduler) txPending(p Protocol) bool {
	if s.backoff[p] > 0 {
		return false
	}
	switch p {
	case ProtoOGN:
		return s.cfg.EnableOGN && s.TxOGN.Len() > 0
	case ProtoADSL:
		return s.cfg.EnableADSL && s.TxADSL.Len() > 0
	case ProtoLDR:
		return s.cfg.EnableLDR && s.TxLDR.Len() > 0
	}
	return false
}

// uplinkTruncation shortens slot B so the uplink slot can meet a response
// window or send this cycle.
func (s *Scheduler) uplinkTruncation(start int) (int, bool) {
	if s.uplink == nil {
		return 0, false
	}
	if left, ok := s.uplink.ResponseIn(s.clk.Now()); ok {
		if left < time.Second {
			return max(0, int(left/time.Millisecond)-uplinkLead), true
		}
		return 0, false
	}
	if s.uplink.WantsToSend(s.haveOwn) {
		return max(0, uplinkTxAt-start), true
	}
	return 0, false
}

// uplinkSlot waits for a due response window or sends the next uplink.
func (s *Scheduler) uplinkSlot(ctx context.Context) error {
	if s.uplink == nil {
		return nil
	}
	now := s.clk.Now()
	if left, ok := s.uplink.ResponseIn(now); ok {
		if left > responseHold {
			return nil
		}
		return s.downlinkWindow(ctx, left)
	}
	var payload []byte
	if s.haveOwn {
		b := s.lastOwn.Marshal()
		payload = b[:]
	}
	frame, freq, ok := s.uplink.NextUplink(now, payload)
	if !ok {
		return nil
	}
	s.transmit(ProtoWAN, radio.WAN, freq, s.txPower(), frame)
	return nil
}

func (s *Scheduler) downlinkWindow(ctx context.Context, left time.Duration) error {
	if err := s.receive(radio.WAN, s.uplink.Frequency()); err != nil {
		s.radioError("downlink rx", err)
		s.uplink.Timeout()
		return nil
	}
	deadline := s.clk.Now().Add(left + downlinkWait*time.Millisecond)
	for s.clk.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.radio.Ready() {
			s.clk.Sleep(pollInterval)
			continue
		}
		f, err := s.radio.ReadFrame()
		if err != nil {
			if !errors.Is(err, radio.ErrNoPacket) {
				s.radioError("downlink read", err)
			}
			s.clk.Sleep(pollInterval)
			continue
		}
		if err := s.uplink.HandleDownlink(f.Data); err != nil {
			s.stats.RxBad++
			continue
		}
		s.stats.Downlinks++
		s.stats.Rx[ProtoWAN]++
		return nil
	}
	s.uplink.Timeout()
	return nil
}
