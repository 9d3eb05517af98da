// Package timeref provides the local clock and the UTC second reference
// (a GNSS pulse or the system clock) the slot scheduler aligns to.
package timeref

import (
	"sync"
	"time"
)

// Clock is the local monotonic time base. All pulse timestamps handed to a
// Tracker must come from the same Clock.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Ref is a UTC second and the local time at which that second began.
type Ref struct {
	UTC   uint32
	Pulse time.Time
	Valid bool
}

// At projects the reference to now, rolling whole elapsed seconds into the
// UTC second. The offset is always in [0, 1s).
func (r Ref) At(now time.Time) (utc uint32, offset time.Duration) {
	elapsed := now.Sub(r.Pulse)
	if elapsed < 0 {
		return r.UTC, 0
	}
	secs := elapsed / time.Second
	return r.UTC + uint32(secs), elapsed - secs*time.Second
}

// Source yields the current reference.
type Source interface {
	Reference() Ref
}

// Tracker is a Source fed by a GNSS receiver: NMEA sentences provide the
// UTC second, PPS edges (when wired) provide the precise start of second.
type Tracker struct {
	mu       sync.Mutex
	ref      Ref
	lastPPS  time.Time
	fallback Source
}

// NewTracker returns a tracker that defers to fallback until it receives
// its first fix.
func NewTracker(fallback Source) *Tracker {
	return &Tracker{fallback: fallback}
}

// SetUTC records that UTC second utc was current at local time at. A PPS
// edge seen within the preceding second overrides at as the pulse time.
func (t *Tracker) SetUTC(utc uint32, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pulse := at
	if !t.lastPPS.IsZero() {
		if d := at.Sub(t.lastPPS); d >= 0 && d < time.Second {
			pulse = t.lastPPS
		}
	}
	t.ref = Ref{UTC: utc, Pulse: pulse, Valid: true}
}

// Pulse records a PPS edge. A known reference advances by one second.
func (t *Tracker) Pulse(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPPS = at
	if !t.ref.Valid {
		return
	}
	utc, _ := t.ref.At(at.Add(500 * time.Millisecond))
	t.ref = Ref{UTC: utc, Pulse: at, Valid: true}
}

func (t *Tracker) Reference() Ref {
	t.mu.Lock()
	ref := t.ref
	t.mu.Unlock()
	if !ref.Valid && t.fallback != nil {
		return t.fallback.Reference()
	}
	return ref
}

// SystemSource derives the reference from the host wall clock, expressed
// on the given local Clock.
type SystemSource struct {
	Clock Clock
}

func (s SystemSource) Reference() Ref {
	wall := time.Now()
	now := s.Clock.Now()
	return Ref{
		UTC:   uint32(wall.Unix()),
		Pulse: now.Add(-time.Duration(wall.Nanosecond())),
		Valid: true,
	}
}
