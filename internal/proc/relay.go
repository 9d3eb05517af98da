package proc

import (
	"tracker-ng/internal/relay"
	"tracker-ng/internal/sched"
)

// refillRelay tops up the primary and secondary transmit queues from the
// relay tables. Each pick is flagged as relayed and its rank is halved so
// other candidates get their turn. A candidate goes out at most once per
// tick.
func (p *Producer) refillRelay() {
	if p.cfg.EnableOGN {
		var last relay.Key
		picked := false
		for p.sch.TxOGN.Len() < queueLowWater {
			idx, e, ok := p.sch.RelayOGN.SelectWeighted(p.rnd)
			if !ok || (picked && e.Key == last) {
				break
			}
			last, picked = e.Key, true
			p.sch.RelayOGN.Decay(idx, e.Key)
			pkt := e.Packet
			pkt.Header.Relay++
			if !push(p, p.sch.TxOGN, pkt) {
				break
			}
			p.stats.Relayed[sched.ProtoOGN]++
		}
	}
	if p.cfg.EnableADSL {
		var last relay.Key
		picked := false
		for p.sch.TxADSL.Len() < queueLowWater {
			idx, e, ok := p.sch.RelayADSL.SelectWeighted(p.rnd)
			if !ok || (picked && e.Key == last) {
				break
			}
			last, picked = e.Key, true
			p.sch.RelayADSL.Decay(idx, e.Key)
			pkt := e.Packet
			pkt.Relay = true
			if !push(p, p.sch.TxADSL, pkt) {
				break
			}
			p.stats.Relayed[sched.ProtoADSL]++
		}
	}
}
