// Package freqplan maps regions to channel tables and UTC time to hopping
// channels. Channel selection must match the rest of the fleet bit for bit.
package freqplan

import "fmt"

// Plan identifies a regional frequency plan. Zero means "not set"; callers
// then pick a plan from the position.
type Plan uint8

const (
	PlanAuto Plan = iota
	PlanEurope
	PlanUSA
	PlanAustralia
	PlanNewZealand
	PlanIsrael
)

func (p Plan) String() string {
	switch p {
	case PlanAuto:
		return "auto"
	case PlanEurope:
		return "europe"
	case PlanUSA:
		return "usa"
	case PlanAustralia:
		return "australia"
	case PlanNewZealand:
		return "new-zealand"
	case PlanIsrael:
		return "israel"
	default:
		return fmt.Sprintf("plan-%d", uint8(p))
	}
}

// ParsePlan accepts the names produced by String.
func ParsePlan(s string) (Plan, error) {
	for p := PlanAuto; p <= PlanIsrael; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return PlanAuto, fmt.Errorf("unknown frequency plan %q", s)
}

type table struct {
	baseHz     uint32
	spacingHz  uint32
	channels   uint8
	maxTxPower int8
	fanetHz    uint32
	obandHz    uint32
}

var tables = map[Plan]table{
	PlanEurope:     {baseHz: 868_200_000, spacingHz: 200_000, channels: 2, maxTxPower: 14, fanetHz: 868_200_000, obandHz: 869_525_000},
	PlanUSA:        {baseHz: 902_200_000, spacingHz: 400_000, channels: 65, maxTxPower: 30, fanetHz: 920_800_000},
	PlanAustralia:  {baseHz: 917_000_000, spacingHz: 400_000, channels: 24, maxTxPower: 30, fanetHz: 920_800_000},
	PlanNewZealand: {baseHz: 869_250_000, spacingHz: 200_000, channels: 1, maxTxPower: 14},
	PlanIsrael:     {baseHz: 916_200_000, spacingHz: 200_000, channels: 1, maxTxPower: 30},
}

// FreqPlan is the active plan. The zero value behaves as Europe.
type FreqPlan struct {
	plan Plan
	t    table
}

func New(p Plan) FreqPlan {
	var fp FreqPlan
	fp.SetPlan(p)
	return fp
}

// SetPlan selects a plan; unknown or auto plans fall back to Europe.
func (fp *FreqPlan) SetPlan(p Plan) {
	t, ok := tables[p]
	if !ok {
		p = PlanEurope
		t = tables[PlanEurope]
	}
	fp.plan = p
	fp.t = t
}

// SetPlanFromPosition selects the plan for a position in degrees and
// reports whether the plan changed.
func (fp *FreqPlan) SetPlanFromPosition(latDeg, lonDeg float64) bool {
	p := PlanForPosition(latDeg, lonDeg)
	if p == fp.Plan() {
		return false
	}
	fp.SetPlan(p)
	return true
}

// PlanForPosition infers the regional plan from a position in degrees.
// Israel is never inferred; it has to be configured.
func PlanForPosition(latDeg, lonDeg float64) Plan {
	if lonDeg >= -20 && lonDeg <= 60 {
		return PlanEurope
	}
	if latDeg < 20 {
		if lonDeg > 164 && latDeg < -30 && latDeg > -48 {
			return PlanNewZealand
		}
		return PlanAustralia
	}
	return PlanUSA
}

func (fp *FreqPlan) Plan() Plan {
	if fp.plan == PlanAuto {
		return PlanEurope
	}
	return fp.plan
}

func (fp *FreqPlan) table() table {
	if fp.t.channels == 0 {
		return tables[PlanEurope]
	}
	return fp.t
}

func (fp *FreqPlan) Channels() int   { return int(fp.table().channels) }
func (fp *FreqPlan) MaxTxPower() int { return int(fp.table().maxTxPower) }

// Hopping reports whether the plan hops across more than two channels.
func (fp *FreqPlan) Hopping() bool { return fp.Plan() >= PlanUSA && fp.Channels() > 1 }

// Channel returns the channel for a UTC second, the sub-slot (0 or 1) and
// the protocol parity (1 for the primary tracker protocol, 0 for the
// legacy one). It is a pure function of its inputs and the plan.
func (fp *FreqPlan) Channel(utc uint32, slot, parity uint8) uint8 {
	n := fp.table().channels
	if n <= 1 {
		return 0
	}
	if !fp.Hopping() {
		return (slot ^ parity) & 1
	}
	ch := uint8(HopHash(utc<<1+uint32(slot&1)) % uint32(n))
	if parity != 0 {
		ch++
		if ch >= n {
			ch -= 2
		}
	}
	return ch
}

// HopHash is the integer hash behind channel hopping.
func HopHash(t uint32) uint32 {
	t = (t << 15) + ^t
	t ^= t >> 12
	t += t << 2
	t ^= t >> 4
	t *= 2057
	return t ^ (t >> 16)
}

// ChannelFrequency returns the carrier in Hz. Channel == Channels() maps to
// the long-range O-band carrier where the plan has one.
func (fp *FreqPlan) ChannelFrequency(ch uint8) uint32 {
	t := fp.table()
	if ch >= t.channels {
		if ch == t.channels && t.obandHz != 0 {
			return t.obandHz
		}
		ch = t.channels - 1
	}
	return t.baseHz + uint32(ch)*t.spacingHz
}

// FANETFrequency is the beacon protocol carrier, zero when disabled.
func (fp *FreqPlan) FANETFrequency() uint32 { return fp.table().fanetHz }

// OBandFrequency is the long-range protocol carrier, zero when disabled.
func (fp *FreqPlan) OBandFrequency() uint32 { return fp.table().obandHz }

// OBandChannel is the pseudo channel index addressing the O-band carrier.
func (fp *FreqPlan) OBandChannel() uint8 { return fp.table().channels }
