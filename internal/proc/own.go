package proc

import (
	"math"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/fanet"
	"tracker-ng/internal/fifo"
	"tracker-ng/internal/gps"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/paw"
	"tracker-ng/internal/sched"
)

func push[T any](p *Producer, q *fifo.Queue[T], v T) bool {
	if err := q.Push(v); err != nil {
		p.stats.QueueFull++
		return false
	}
	return true
}

// produceOwn queues an own position packet for every enabled protocol whose
// backoff has run out. With encryption on, only the primary protocol
// carries the position.
func (p *Producer) produceOwn(fix gps.Fix) {
	plain := p.ownOGN(fix)
	encrypted := p.cfg.Cipher != nil

	if p.cfg.EnableOGN && p.backoff[sched.ProtoOGN] == 0 {
		pkt := plain
		if encrypted {
			p.cfg.Cipher.Encrypt(&pkt)
		}
		if push(p, p.sch.TxOGN, pkt) {
			p.stats.Own[sched.ProtoOGN]++
		}
		p.backoff[sched.ProtoOGN] = p.txBackoff()
	}
	if encrypted {
		return
	}
	if p.cfg.EnableADSL && p.backoff[sched.ProtoADSL] == 0 {
		if push(p, p.sch.TxADSL, p.ownADSL(fix)) {
			p.stats.Own[sched.ProtoADSL]++
		}
		p.backoff[sched.ProtoADSL] = p.txBackoff()
	}
	if p.cfg.EnableLDR && p.backoff[sched.ProtoLDR] == 0 {
		if push(p, p.sch.TxLDR, paw.FromOGN(plain)) {
			p.stats.Own[sched.ProtoLDR]++
		}
		p.backoff[sched.ProtoLDR] = p.txBackoff()
	}
	if p.cfg.EnableFANET && p.backoff[sched.ProtoFANET] == 0 {
		frame, err := sched.NewLoRaFrame(fanet.EncodeTracking(p.cfg.Identity.Address, fanet.Tracking{
			LatDeg:     fix.LatDeg,
			LonDeg:     fix.LonDeg,
			AltM:       fix.AltM,
			SpeedKmh:   fix.SpeedMS * 3.6,
			ClimbMS:    fix.ClimbMS,
			HeadingDeg: fix.TrackDeg,
			AcftType:   fanetType(p.cfg.AcftType),
			Online:     true,
		}))
		if err == nil && push(p, p.sch.TxFANET, frame) {
			p.stats.Own[sched.ProtoFANET]++
		}
		p.backoff[sched.ProtoFANET] = p.txBackoff()
	}
}

func (p *Producer) ownOGN(fix gps.Fix) ogn.Packet {
	var pkt ogn.Packet
	pkt.Header = ogn.Header{Address: p.cfg.Identity.Address, AddrType: p.cfg.Identity.AddrType}
	var mode uint8
	if fix.ThreeD {
		mode = 1
	}
	pkt.SetPosition(ogn.Position{
		Time:       uint8(fix.Time.Second()),
		FixQuality: uint8(min(max(fix.Quality, 0), 3)),
		FixMode:    mode,
		DOP:        uint8(math.Min(63, math.Round(fix.HDOP*10))),
		Stealth:    p.cfg.Stealth,
		LatDeg:     fix.LatDeg,
		LonDeg:     fix.LonDeg,
		AltM:       fix.AltM,
		SpeedMS:    fix.SpeedMS,
		HeadingDeg: fix.TrackDeg,
		ClimbMS:    fix.ClimbMS,
		TurnDegS:   fix.TurnDegS,
		AcftType:   p.cfg.AcftType,
	})
	return pkt
}

func (p *Producer) ownADSL(fix gps.Fix) adsl.Packet {
	state := uint8(1)
	if fix.SpeedMS > 5 {
		state = 2
	}
	return adsl.Packet{
		Address:     p.cfg.Identity.Address,
		AddrType:    p.cfg.Identity.AddrType,
		MsgType:     adsl.MsgTraffic,
		FlightState: state,
		AcftCat:     adslCategory(p.cfg.AcftType),
		LatDeg:      fix.LatDeg,
		LonDeg:      fix.LonDeg,
		AltM:        fix.AltM,
		SpeedMS:     fix.SpeedMS,
		ClimbMS:     fix.ClimbMS,
		TrackDeg:    fix.TrackDeg,
	}
}

// produceStatus queues a status packet when its backoff has run out and
// the primary queue has room to spare.
func (p *Producer) produceStatus(fix gps.Fix) {
	if !p.cfg.EnableOGN || p.statusBackoff > 0 || p.sch.TxOGN.Len() >= queueLowWater {
		return
	}
	st := p.sch.Snapshot()
	var pkt ogn.Packet
	pkt.Header = ogn.Header{Address: p.cfg.Identity.Address, AddrType: p.cfg.Identity.AddrType}
	status := ogn.Status{
		Hardware:   HardwareID,
		Firmware:   FirmwareID,
		TxPowerDBm: uint8(min(max(p.cfg.TxPowerDBm, 0), 15)),
		RxRate:     uint8(math.Min(15, math.Round(st.PktRate))),
		RadioNoise: st.BkgRSSI,
	}
	if fix.Valid {
		status.Time = uint8(fix.Time.Second())
		status.FixQuality = uint8(min(max(fix.Quality, 0), 3))
		status.AltM = fix.AltM
		status.Satellites = uint8(min(fix.Satellites, 15))
	} else {
		status.Time = 63
	}
	pkt.SetStatus(status)
	if push(p, p.sch.TxOGN, pkt) {
		p.stats.Status++
	}
	p.statusBackoff = statusBackoffBase + int(p.rnd.Uint32()%statusBackoffSpan)
}

func (p *Producer) produceName() {
	if !p.cfg.EnableFANET || p.cfg.PilotName == "" || p.nameBackoff > 0 {
		return
	}
	p.nameBackoff = nameInterval
	b, err := fanet.EncodeName(p.cfg.Identity.Address, p.cfg.PilotName)
	if err != nil {
		return
	}
	frame, err := sched.NewLoRaFrame(b)
	if err == nil && push(p, p.sch.TxFANET, frame) {
		p.stats.Names++
	}
}

// Aircraft type codes of the primary protocol.
const (
	acftGlider     = 1
	acftTowPlane   = 2
	acftHeli       = 3
	acftParachute  = 4
	acftHangGlider = 6
	acftParaglider = 7
	acftPiston     = 8
	acftJet        = 9
	acftBalloon    = 11
	acftUAV        = 13
)

var adslCategories = map[uint8]uint8{
	acftGlider:     9,
	acftTowPlane:   1,
	acftPiston:     1,
	acftJet:        3,
	acftHeli:       5,
	acftParachute:  13,
	acftHangGlider: 12,
	acftParaglider: 12,
	acftBalloon:    10,
	acftUAV:        14,
}

func adslCategory(acft uint8) uint8 { return adslCategories[acft] }

// acftFromADSL is the inverse of adslCategory, picking the first match.
func acftFromADSL(cat uint8) uint8 {
	for _, acft := range []uint8{acftGlider, acftPiston, acftJet, acftHeli, acftParachute, acftParaglider, acftBalloon, acftUAV} {
		if adslCategories[acft] == cat {
			return acft
		}
	}
	return 0
}

var fanetTypes = [8]uint8{0, acftParaglider, acftHangGlider, acftBalloon, acftGlider, acftPiston, acftHeli, acftUAV}

func fanetType(acft uint8) uint8 {
	for i, a := range fanetTypes {
		if i > 0 && a == acft {
			return uint8(i)
		}
	}
	if acft == acftTowPlane || acft == acftJet {
		return 5
	}
	return 0
}

func acftFromFANET(t uint8) uint8 { return fanetTypes[t&7] }
