package sched

import (
	"log"
	"time"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/paw"
	"tracker-ng/internal/radio"
)

// O-band transmissions run this much above the configured power, up to the
// band's limit.
const (
	obandBoostDB  = 13
	obandMaxPower = 27
)

// transmit sends one frame and charges its on-air time to the credit. A
// failure is counted and not retried.
func (s *Scheduler) transmit(proto Protocol, p radio.Profile, freq uint32, power int, payload []byte) bool {
	if err := s.radio.Configure(p, radio.TX); err != nil {
		s.radioError("tx configure", err)
		return false
	}
	if err := s.radio.SetFrequency(freq); err != nil {
		s.radioError("tx frequency", err)
		return false
	}
	if err := s.radio.SetTxPower(power); err != nil {
		s.radioError("tx power", err)
		return false
	}
	onAir, err := s.radio.Transmit(payload)
	if err != nil {
		s.stats.TxErrors++
		log.Printf("sched: tx failed proto=%s: %v", proto, err)
		return false
	}
	s.stats.Tx[proto]++
	s.credit -= int(onAir / time.Millisecond)
	if onAir%time.Millisecond != 0 {
		s.credit--
	}
	if s.credit <= 0 {
		s.backoff[proto] = 1 + int(s.rnd.Uint32()%2)
	}
	return true
}

// sendFSK transmits the head of proto's queue.
func (s *Scheduler) sendFSK(proto Protocol, freq uint32) {
	switch proto {
	case ProtoOGN:
		p, ok := s.TxOGN.Read()
		if !ok {
			return
		}
		pkt := *p
		s.TxOGN.Advance()
		frame := ogn.Encode(pkt)
		if s.transmit(ProtoOGN, radio.OGN, freq, s.txPower(), frame[:]) && s.isOwn(pkt.Header.Address, pkt.Header.AddrType) {
			s.lastOwn, s.haveOwn = pkt, true
		}
	case ProtoADSL:
		if pkt, ok := s.popADSL(); ok {
			frame := adsl.Encode(pkt)
			s.transmit(ProtoADSL, radio.ADSL, freq, s.txPower(), frame[:])
		}
	}
}

// popADSL takes the head of the secondary queue, stamping own packets with
// the current quarter second.
func (s *Scheduler) popADSL() (adsl.Packet, bool) {
	p, ok := s.TxADSL.Read()
	if !ok {
		return adsl.Packet{}, false
	}
	pkt := *p
	s.TxADSL.Advance()
	if !pkt.Relay {
		pkt.Time = adsl.QuarterSecond(s.utc, s.ms())
	}
	return pkt, true
}

func (s *Scheduler) obandPower() int {
	return min(s.cfg.TxPowerDBm+obandBoostDB, obandMaxPower)
}

// sendLongRange transmits the head of the long-range queue on the O-band.
func (s *Scheduler) sendLongRange(freq uint32) {
	p, ok := s.TxLDR.Read()
	if !ok {
		return
	}
	pkt := *p
	s.TxLDR.Advance()
	s.transmit(ProtoLDR, radio.LDR, freq, s.obandPower(), paw.AirBytes(paw.Frame(pkt.Marshal())))
}

// sendSecondaryLongRange transmits the head of the secondary queue in
// long-range framing on the O-band.
func (s *Scheduler) sendSecondaryLongRange(freq uint32) {
	pkt, ok := s.popADSL()
	if !ok {
		return
	}
	s.transmit(ProtoLDR, radio.LDR, freq, s.obandPower(), paw.AirBytes(paw.Frame(adsl.Encode(pkt))))
}

func (s *Scheduler) isOwn(addr uint32, addrType uint8) bool {
	return addr == s.cfg.Identity.Address && addrType == s.cfg.Identity.AddrType
}
