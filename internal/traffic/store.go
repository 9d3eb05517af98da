// Package traffic keeps the latest state of every transmitter heard by the
// receiver, for display and GDL90 output.
package traffic

import (
	"math"
	"sort"
	"sync"
	"time"

	"tracker-ng/internal/gdl90"
)

// Key identifies a transmitter.
type Key struct {
	Address  uint32
	AddrType uint8
}

// Address types shared by the radio protocols.
const (
	AddrRandom uint8 = iota
	AddrICAO
	AddrFLARM
	AddrOGN
	// AddrFANET keys beacon protocol addresses, which live in their own space.
	AddrFANET
)

type Target struct {
	Key
	Source Source `json:"source"`
	Name   string `json:"name,omitempty"`

	PositionValid bool    `json:"position_valid"`
	LatDeg        float64 `json:"lat_deg"`
	LonDeg        float64 `json:"lon_deg"`
	AltM          float64 `json:"alt_m"`
	SpeedMS       float64 `json:"speed_ms"`
	TrackDeg      float64 `json:"track_deg"`
	ClimbMS       float64 `json:"climb_ms"`
	AcftType      uint8   `json:"acft_type"`
	Emergency     bool    `json:"emergency,omitempty"`
	Relayed       bool    `json:"relayed,omitempty"`

	RSSI   float64   `json:"rssi_dbm"`
	SeenAt time.Time `json:"seen_at"`
}

type StoreConfig struct {
	// MaxTargets limits memory use. When exceeded, oldest targets are evicted.
	MaxTargets int
	// TTL controls how long a target is kept without updates.
	TTL time.Duration
}

type Store struct {
	mu      sync.RWMutex
	cfg     StoreConfig
	targets map[Key]Target
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = 200
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	return &Store{cfg: cfg, targets: make(map[Key]Target)}
}

// Upsert merges t into the store. A name-only update keeps the previous
// position and a position update keeps the previous name.
func (s *Store) Upsert(now time.Time, t Target) {
	if s == nil {
		return
	}
	t.SeenAt = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.targets[t.Key]; ok {
		if t.Name == "" {
			t.Name = prev.Name
		}
		if !t.PositionValid && prev.PositionValid {
			name, seen, rssi := t.Name, t.SeenAt, t.RSSI
			t = prev
			t.Name, t.SeenAt, t.RSSI = name, seen, rssi
		}
	}
	s.targets[t.Key] = t

	for len(s.targets) > s.cfg.MaxTargets {
		var oldest Key
		var oldestAt time.Time
		first := true
		for k, v := range s.targets {
			if first || v.SeenAt.Before(oldestAt) {
				oldest, oldestAt, first = k, v.SeenAt, false
			}
		}
		delete(s.targets, oldest)
	}
}

// Snapshot purges stale targets and returns the rest ordered by address.
func (s *Store) Snapshot(now time.Time) []Target {
	if s == nil {
		return nil
	}
	cutoff := now.UTC().Add(-s.cfg.TTL)

	s.mu.Lock()
	for k, v := range s.targets {
		if v.SeenAt.Before(cutoff) {
			delete(s.targets, k)
		}
	}
	out := make([]Target, 0, len(s.targets))
	for _, v := range s.targets {
		out = append(out, v)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].AddrType < out[j].AddrType
	})
	return out
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

const (
	feetPerMetre = 3.28084
	knotsPerMS   = 1.94384
)

// Report converts t into a GDL90 traffic report body.
func (t Target) Report() gdl90.Report {
	addrType := gdl90.AddrADSBSelf
	if t.AddrType == AddrICAO {
		addrType = gdl90.AddrADSBICAO
	}
	r := gdl90.Report{
		AddrType:  addrType,
		Address:   t.Address,
		LatDeg:    t.LatDeg,
		LonDeg:    t.LonDeg,
		AltFeet:   int(math.Round(t.AltM * feetPerMetre)),
		NIC:       8,
		NACp:      8,
		GroundKt:  int(math.Round(t.SpeedMS * knotsPerMS)),
		TrackDeg:  t.TrackDeg,
		VvelFpm:   int(math.Round(t.ClimbMS * feetPerMetre * 60)),
		VvelValid: true,
		Airborne:  t.SpeedMS > 5,
		Emitter:   Emitter(t.AcftType),
		Callsign:  t.Name,
	}
	if t.Emergency {
		r.Emergency = 1
	}
	return r
}

// Emitter maps the primary protocol aircraft type to a GDL90 emitter
// category.
func Emitter(acftType uint8) byte {
	switch acftType {
	case 1: // glider
		return 9
	case 2, 8: // tow plane, piston
		return 1
	case 3: // helicopter
		return 7
	case 4: // parachute
		return 11
	case 6, 7: // hang glider, paraglider
		return 12
	case 9: // jet
		return 3
	case 11: // balloon
		return 10
	case 13: // UAV
		return 14
	default:
		return 0
	}
}
