// Package relay keeps the most recent packet heard from each nearby
// transmitter together with a rank used to pick which ones to rebroadcast.
package relay

import (
	"sync"

	"tracker-ng/internal/rng"
)

// Key identifies a transmitter.
type Key struct {
	Address  uint32
	AddrType uint8
}

// Entry is one relay candidate. Time is the insertion timestamp in protocol
// time units, modulo the table period.
type Entry[P any] struct {
	Key    Key
	Packet P
	Rank   uint8
	Time   uint16
	RxErr  uint8
}

type Config struct {
	// Capacity bounds the number of live entries.
	Capacity int
	// Period is the modulus of Entry.Time (60 for seconds).
	Period int
	// Window is the maximum age kept by Expire, in time units.
	Window int
}

// Table is a fixed capacity, mutex guarded relay priority table. Selection
// is weighted random over ranks, not sorted.
type Table[P any] struct {
	mu  sync.Mutex
	cfg Config

	entries []Entry[P]
	used    []bool
	rankSum int

	evictions uint64
}

func New[P any](cfg Config) *Table[P] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 32
	}
	if cfg.Period <= 0 {
		cfg.Period = 60
	}
	if cfg.Window <= 0 || cfg.Window >= cfg.Period {
		cfg.Window = 12
	}
	return &Table[P]{
		cfg:     cfg,
		entries: make([]Entry[P], cfg.Capacity),
		used:    make([]bool, cfg.Capacity),
	}
}

// Insert stores e, replacing an entry with the same key. It returns the
// replaced entry when there was one. A full table evicts its lowest rank
// entry first.
func (t *Table[P]) Insert(e Entry[P]) (prev Entry[P], ok bool) {
	e.Time %= uint16(t.cfg.Period)

	t.mu.Lock()
	defer t.mu.Unlock()

	free := -1
	for i := range t.entries {
		if !t.used[i] {
			if free < 0 {
				free = i
			}
			continue
		}
		if t.entries[i].Key == e.Key {
			prev = t.entries[i]
			t.rankSum += int(e.Rank) - int(prev.Rank)
			t.entries[i] = e
			return prev, true
		}
	}

	if free < 0 {
		free = t.lowestLocked()
		t.rankSum -= int(t.entries[free].Rank)
		t.evictions++
	}
	t.entries[free] = e
	t.used[free] = true
	t.rankSum += int(e.Rank)
	return prev, false
}

func (t *Table[P]) lowestLocked() int {
	idx := 0
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].Rank < t.entries[idx].Rank {
			idx = i
		}
	}
	return idx
}

// SelectWeighted draws an entry with probability proportional to its rank.
// ok is false when every rank is zero.
func (t *Table[P]) SelectWeighted(src rng.Source) (idx int, e Entry[P], ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rankSum <= 0 {
		return -1, e, false
	}
	pick := int(src.Uint32() % uint32(t.rankSum))
	for i := range t.entries {
		if !t.used[i] || t.entries[i].Rank == 0 {
			continue
		}
		pick -= int(t.entries[i].Rank)
		if pick < 0 {
			return i, t.entries[i], true
		}
	}
	return -1, e, false
}

// Decay halves the rank of entry idx if it still belongs to key.
func (t *Table[P]) Decay(idx int, key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.entries) || !t.used[idx] || t.entries[idx].Key != key {
		return
	}
	old := t.entries[idx].Rank
	t.entries[idx].Rank = old >> 1
	t.rankSum -= int(old - t.entries[idx].Rank)
}

// Expire removes entries older than the window at time now (taken modulo
// the period). It returns the number removed.
func (t *Table[P]) Expire(now int) int {
	period := t.cfg.Period
	now %= period
	if now < 0 {
		now += period
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for i := range t.entries {
		if !t.used[i] {
			continue
		}
		age := now - int(t.entries[i].Time)
		if age < 0 {
			age += period
		}
		if age > t.cfg.Window {
			t.rankSum -= int(t.entries[i].Rank)
			t.used[i] = false
			var zero Entry[P]
			t.entries[i] = zero
			removed++
		}
	}
	return removed
}

func (t *Table[P]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, u := range t.used {
		if u {
			n++
		}
	}
	return n
}

// RankSum is the total weight available to SelectWeighted.
func (t *Table[P]) RankSum() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rankSum
}

func (t *Table[P]) Evictions() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

// Lookup returns the live entry for key.
func (t *Table[P]) Lookup(key Key) (Entry[P], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.used[i] && t.entries[i].Key == key {
			return t.entries[i], true
		}
	}
	var zero Entry[P]
	return zero, false
}

// Entries returns a copy of all live entries.
func (t *Table[P]) Entries() []Entry[P] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry[P], 0, len(t.entries))
	for i := range t.entries {
		if t.used[i] {
			out = append(out, t.entries[i])
		}
	}
	return out
}
