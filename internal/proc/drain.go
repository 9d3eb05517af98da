package proc

import (
	"time"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/fanet"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/sched"
	"tracker-ng/internal/traffic"
)

// Drain empties the receive queues into the traffic store and forwards
// significant updates to the sinks.
func (p *Producer) Drain(now time.Time) {
	for {
		r, ok := p.sch.RxOGN.Pop()
		if !ok {
			break
		}
		p.stats.Drained++
		if t, ok := p.fromOGN(r); ok {
			p.deliver(now, t, r.Significant)
		}
	}
	for {
		r, ok := p.sch.RxADSL.Pop()
		if !ok {
			break
		}
		p.stats.Drained++
		if r.Packet.IsPosition() {
			p.deliver(now, fromADSL(r), r.Significant)
		}
	}
	for {
		r, ok := p.sch.RxFANET.Pop()
		if !ok {
			break
		}
		p.stats.Drained++
		if t, ok := fromFANET(r); ok {
			p.deliver(now, t, r.Significant)
		}
	}
}

func (p *Producer) deliver(now time.Time, t traffic.Target, significant bool) {
	t.SeenAt = now.UTC()
	p.store.Upsert(now, t)
	if !significant {
		return
	}
	for _, s := range p.sinks {
		s.Publish(t)
		p.stats.Published++
	}
}

// fromOGN converts a received primary packet. Status packets and packets
// encrypted with a key we do not hold carry no usable position.
func (p *Producer) fromOGN(r sched.Received[ogn.Packet]) (traffic.Target, bool) {
	pkt := r.Packet
	if pkt.Header.Encrypted {
		if p.cfg.Cipher == nil {
			p.stats.Encrypted++
			return traffic.Target{}, false
		}
		p.cfg.Cipher.Decrypt(&pkt)
	}
	if pkt.Header.NonPos {
		return traffic.Target{}, false
	}
	pos := pkt.Position()
	src := traffic.SourceOGN
	if r.LongRange {
		src = traffic.SourceLDR
	}
	return traffic.Target{
		Key:           traffic.Key{Address: pkt.Header.Address, AddrType: pkt.Header.AddrType},
		Source:        src,
		PositionValid: true,
		LatDeg:        pos.LatDeg,
		LonDeg:        pos.LonDeg,
		AltM:          pos.AltM,
		SpeedMS:       pos.SpeedMS,
		TrackDeg:      pos.HeadingDeg,
		ClimbMS:       pos.ClimbMS,
		AcftType:      pos.AcftType,
		Emergency:     pkt.Header.Emergency,
		Relayed:       pkt.Header.Relay > 0,
		RSSI:          r.RSSI,
	}, true
}

func fromADSL(r sched.Received[adsl.Packet]) traffic.Target {
	pkt := r.Packet
	return traffic.Target{
		Key:           traffic.Key{Address: pkt.Address, AddrType: pkt.AddrType},
		Source:        traffic.SourceADSL,
		PositionValid: true,
		LatDeg:        pkt.LatDeg,
		LonDeg:        pkt.LonDeg,
		AltM:          pkt.AltM,
		SpeedMS:       pkt.SpeedMS,
		TrackDeg:      pkt.TrackDeg,
		ClimbMS:       pkt.ClimbMS,
		AcftType:      acftFromADSL(pkt.AcftCat),
		Emergency:     pkt.Emergency != 0,
		Relayed:       pkt.Relay,
		RSSI:          r.RSSI,
	}
}

func fromFANET(r sched.Received[fanet.Packet]) (traffic.Target, bool) {
	pkt := r.Packet
	t := traffic.Target{
		Key:    traffic.Key{Address: pkt.Address & 0xFFFFFF, AddrType: traffic.AddrFANET},
		Source: traffic.SourceFANET,
		RSSI:   r.RSSI,
	}
	switch pkt.Type {
	case fanet.TypeTracking:
		tr := pkt.Tracking
		t.PositionValid = true
		t.LatDeg, t.LonDeg, t.AltM = tr.LatDeg, tr.LonDeg, tr.AltM
		t.SpeedMS = tr.SpeedKmh / 3.6
		t.TrackDeg = tr.HeadingDeg
		t.ClimbMS = tr.ClimbMS
		t.AcftType = acftFromFANET(tr.AcftType)
	case fanet.TypeName:
		t.Name = pkt.Name
	default:
		return t, false
	}
	return t, true
}
