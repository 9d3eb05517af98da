package sim

import (
	"bytes"
	"sync"
	"time"

	"tracker-ng/internal/adsl"
	"tracker-ng/internal/manchester"
	"tracker-ng/internal/ogn"
	"tracker-ng/internal/radio"
)

// BaseAddress is the address of the first simulated target.
const BaseAddress = 0xD00000

// Air puts the simulated traffic on the air for the stub radio driver.
// Even targets transmit the primary protocol, odd ones the secondary; each
// is heard at most once per second.
type Air struct {
	Traffic TrafficSim
	Count   int
	Now     func() time.Time
	RSSI    float64

	mu   sync.Mutex
	sent map[int]int64 // target index -> last unix second
}

func (a *Air) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Airings implements radio.AirSource.
func (a *Air) Airings(freqHz uint32, sync [][]byte) []radio.Airing {
	hearOGN := hasSync(sync, radio.SyncWord(radio.OGN))
	hearADSL := hasSync(sync, radio.SyncWord(radio.ADSL))
	if !hearOGN && !hearADSL {
		return nil
	}
	now := a.now()
	sec := now.Unix()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sent == nil {
		a.sent = make(map[int]int64)
	}
	rssi := a.RSSI
	if rssi == 0 {
		rssi = -85
	}

	var out []radio.Airing
	for i, t := range a.Traffic.Targets(now, a.Count) {
		if last, ok := a.sent[i]; ok && last == sec {
			continue
		}
		addr := uint32(BaseAddress + i)
		air := radio.Airing{RSSI: rssi - float64(i), SNR: 10}
		switch {
		case i%2 == 0 && hearOGN:
			air.Sync = radio.SyncWord(radio.OGN)
			air.Data = encodeOGN(addr, t, uint8(sec%60))
		case i%2 == 1 && hearADSL:
			air.Sync = radio.SyncWord(radio.ADSL)
			air.Data = encodeADSL(addr, t, adsl.QuarterSecond(uint32(sec), now.Nanosecond()/1e6))
		default:
			continue
		}
		a.sent[i] = sec
		out = append(out, air)
	}
	return out
}

func hasSync(list [][]byte, want []byte) bool {
	for _, s := range list {
		if bytes.Equal(s, want) {
			return true
		}
	}
	return false
}

func encodeOGN(addr uint32, t TrafficTarget, second uint8) []byte {
	var p ogn.Packet
	p.Header = ogn.Header{Address: addr, AddrType: ogn.AddrOGN}
	p.SetPosition(ogn.Position{
		Time:       second,
		FixQuality: 1,
		FixMode:    1,
		LatDeg:     t.LatDeg,
		LonDeg:     t.LonDeg,
		AltM:       t.AltM,
		SpeedMS:    t.SpeedMS,
		HeadingDeg: t.TrackDeg,
		AcftType:   1,
	})
	frame := ogn.Encode(p)
	return manchester.Encode(nil, frame[:])
}

func encodeADSL(addr uint32, t TrafficTarget, quarter uint8) []byte {
	frame := adsl.Encode(adsl.Packet{
		Address:     addr,
		AddrType:    ogn.AddrOGN,
		MsgType:     adsl.MsgTraffic,
		Time:        quarter,
		FlightState: 2,
		AcftCat:     1,
		LatDeg:      t.LatDeg,
		LonDeg:      t.LonDeg,
		AltM:        t.AltM,
		SpeedMS:     t.SpeedMS,
		TrackDeg:    t.TrackDeg,
	})
	return manchester.Encode(nil, frame[:])
}
