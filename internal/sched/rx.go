package sched

import (
	"bytes"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/fanet"
	"tracker-ng/internal/manchester"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/paw"
	"tracker-ng/internal/radio"
	"tracker-ng/internal/relay"
)

// meta is the reception context shared by every packet in a frame.
type meta struct {
	rssi   float64
	snr    float64
	utc    uint32
	offset int
	ch     uint8
	freq   uint32
}

// handleFrame classifies and decodes one received frame. Undecodable
// frames are only counted.
func (s *Scheduler) handleFrame(f radio.Frame) {
	m := meta{
		rssi:   f.RSSI,
		snr:    f.SNR,
		utc:    s.utc,
		offset: s.ms(),
		ch:     s.channel,
		freq:   f.FreqHz,
	}
	switch f.Profile {
	case radio.Joint.Name(), radio.OGN.Name(), radio.ADSL.Name():
		s.handleManchester(f, m)
	case radio.LDR.Name():
		s.handleLongRange(f, m)
	case radio.FANET.Name():
		s.handleBeacon(f, m)
	default:
		s.stats.RxBad++
	}
}

// handleManchester separates primary and secondary frames received with
// the joint profile: an exact secondary CRC wins, then the primary FEC,
// then secondary correction.
func (s *Scheduler) handleManchester(f radio.Frame, m meta) {
	data, mask := f.Data, f.ErrMask
	adslOK := len(data) >= adsl.FrameBytes &&
		manchester.ErrorCount(mask[:adsl.FrameBytes]) < maxManchesterErrors
	ognOK := len(data) >= ogn.FrameBytes &&
		manchester.ErrorCount(mask[:ogn.FrameBytes]) < maxManchesterErrors

	if adslOK && adsl.CheckPI(data[:adsl.FrameBytes]) == 0 {
		if p, corr, ok := adsl.Decode(data[:adsl.FrameBytes], mask[:adsl.FrameBytes]); ok {
			s.acceptADSL(p, corr, m)
			return
		}
	}
	if ognOK {
		if p, corr, ok := ogn.DecodeFrame(data, mask); ok && corr < maxCorrectedBits {
			s.acceptOGN(p, corr, m, false)
			return
		}
	}
	if adslOK {
		if p, corr, ok := adsl.Decode(data[:adsl.FrameBytes], mask[:adsl.FrameBytes]); ok {
			s.acceptADSL(p, corr, m)
			return
		}
	}
	s.stats.RxBad++
}

// handleLongRange strips the sync tail and decodes either an embedded
// secondary frame or a long-range position packet.
func (s *Scheduler) handleLongRange(f radio.Frame, m meta) {
	tail := paw.SyncPrefix[2:]
	if len(f.Data) < len(tail)+paw.FrameBytes || !bytes.Equal(f.Data[:len(tail)], tail) {
		s.stats.RxBad++
		return
	}
	res := paw.Decode(f.Data[len(tail):])
	switch res.Kind {
	case paw.KindADSL:
		s.acceptADSL(res.ADSL, res.Corrected, m)
	case paw.KindPAW:
		s.acceptOGN(res.PAW.ToOGN(m.utc), res.Corrected, m, true)
	default:
		s.stats.RxBad++
	}
}

func (s *Scheduler) handleBeacon(f radio.Frame, m meta) {
	if !f.CRCOK {
		s.stats.RxBad++
		return
	}
	p, err := fanet.Decode(f.Data)
	if err != nil {
		s.stats.RxBad++
		return
	}
	if p.Address&0xFFFFFF == s.cfg.Identity.Address {
		s.stats.RxOwn++
		return
	}
	s.stats.Rx[ProtoFANET]++
	s.rxCycle++
	if err := s.RxFANET.Push(Received[fanet.Packet]{
		Packet:      p,
		RSSI:        m.rssi,
		SNR:         m.snr,
		UTC:         m.utc,
		OffsetMs:    m.offset,
		FreqHz:      m.freq,
		Significant: true,
	}); err != nil {
		s.stats.RxFull++
	}
}

func (s *Scheduler) acceptOGN(p ogn.Packet, corr int, m meta, longRange bool) {
	if s.isOwn(p.Header.Address, p.Header.AddrType) {
		s.stats.RxOwn++
		return
	}
	proto := ProtoOGN
	if longRange {
		proto = ProtoLDR
	}
	s.stats.Rx[proto]++
	s.rxCycle++

	rank := ogn.RelayRank(p, s.own)
	if p.Header.Encrypted && corr >= maxEncryptedRelayErrors {
		rank = 0
	}
	prev, had := s.RelayOGN.Insert(relay.Entry[ogn.Packet]{
		Key:    relay.Key{Address: p.Header.Address, AddrType: p.Header.AddrType},
		Packet: p,
		Rank:   rank,
		Time:   uint16(m.utc % 60),
		RxErr:  uint8(corr),
	})
	if err := s.RxOGN.Push(Received[ogn.Packet]{
		Packet:      p,
		RSSI:        m.rssi,
		SNR:         m.snr,
		UTC:         m.utc,
		OffsetMs:    m.offset,
		Channel:     m.ch,
		FreqHz:      m.freq,
		Corrected:   corr,
		Rank:        rank,
		Significant: !had || ogn.Significant(prev.Packet, p),
		LongRange:   longRange,
	}); err != nil {
		s.stats.RxFull++
	}
}

func (s *Scheduler) acceptADSL(p adsl.Packet, corr int, m meta) {
	if s.isOwn(p.Address, p.AddrType) {
		s.stats.RxOwn++
		return
	}
	s.stats.Rx[ProtoADSL]++
	s.rxCycle++

	rank := adsl.RelayRank(p, s.own)
	prev, had := s.RelayADSL.Insert(relay.Entry[adsl.Packet]{
		Key:    relay.Key{Address: p.Address, AddrType: p.AddrType},
		Packet: p,
		Rank:   rank,
		Time:   uint16(adsl.QuarterSecond(m.utc+uint32(m.offset/1000), m.offset%1000)),
		RxErr:  uint8(corr),
	})
	if err := s.RxADSL.Push(Received[adsl.Packet]{
		Packet:      p,
		RSSI:        m.rssi,
		SNR:         m.snr,
		UTC:         m.utc,
		OffsetMs:    m.offset,
		Channel:     m.ch,
		FreqHz:      m.freq,
		Corrected:   corr,
		Rank:        rank,
		Significant: !had || adslSignificant(prev.Packet, p),
	}); err != nil {
		s.stats.RxFull++
	}
}

// adslSignificant mirrors ogn.Significant for secondary packets.
func adslSignificant(prev, next adsl.Packet) bool {
	if prev.MsgType != next.MsgType || next.Emergency != 0 {
		return true
	}
	var a, b ogn.Packet
	a.SetPosition(adslPosition(prev))
	b.SetPosition(adslPosition(next))
	return ogn.Significant(a, b)
}

func adslPosition(p adsl.Packet) ogn.Position {
	return ogn.Position{
		Time:       p.Time / 4,
		FixQuality: 1,
		LatDeg:     p.LatDeg,
		LonDeg:     p.LonDeg,
		AltM:       p.AltM,
		SpeedMS:    p.SpeedMS,
		HeadingDeg: p.TrackDeg,
		ClimbMS:    p.ClimbMS,
	}
}
