// Package fifo provides a bounded single-producer single-consumer packet
// queue. The producer owns the write cursor and the consumer owns the read
// cursor; both are atomics so the two sides can run on different goroutines
// without a lock.
package fifo

import (
	"errors"
	"sync/atomic"
)

// Policy selects what happens when the producer writes into a full queue.
type Policy int

const (
	// Reject refuses the new entry and leaves queued entries untouched.
	Reject Policy = iota
	// Overwrite drops the oldest unread entry to make room.
	Overwrite
)

func (p Policy) String() string {
	switch p {
	case Reject:
		return "reject"
	case Overwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

var ErrFull = errors.New("fifo: queue full")

// Queue is a fixed capacity ring of T values.
//
// Overwrite queues must only be drained by a consumer that copies entries out
// before the producer can lap it (in practice: the same goroutine, or a
// consumer that is never more than one write behind).
type Queue[T any] struct {
	policy Policy
	slots  []T

	w atomic.Uint64 // committed writes
	r atomic.Uint64 // consumed reads

	dropped atomic.Uint64
}

func New[T any](capacity int, policy Policy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{policy: policy, slots: make([]T, capacity)}
}

func (q *Queue[T]) Cap() int       { return len(q.slots) }
func (q *Queue[T]) Policy() Policy { return q.policy }

// Len returns the number of committed entries not yet advanced past.
func (q *Queue[T]) Len() int {
	r := q.r.Load()
	w := q.w.Load()
	if w <= r {
		return 0
	}
	n := int(w - r)
	if n > len(q.slots) {
		n = len(q.slots)
	}
	return n
}

func (q *Queue[T]) Full() bool { return q.Len() >= len(q.slots) }

// Dropped counts entries refused (Reject) or overwritten (Overwrite).
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Write reserves the next slot for the producer. The slot becomes visible to
// the consumer only after Commit. Calling Write again before Commit returns
// the same slot.
func (q *Queue[T]) Write() (*T, error) {
	w := q.w.Load()
	for {
		r := q.r.Load()
		if w-r < uint64(len(q.slots)) {
			break
		}
		if q.policy == Reject {
			q.dropped.Add(1)
			return nil, ErrFull
		}
		if q.r.CompareAndSwap(r, r+1) {
			q.dropped.Add(1)
			break
		}
	}
	slot := &q.slots[w%uint64(len(q.slots))]
	var zero T
	*slot = zero
	return slot, nil
}

// Commit publishes the slot returned by the last Write.
func (q *Queue[T]) Commit() {
	q.w.Add(1)
}

// Push copies v into the queue.
func (q *Queue[T]) Push(v T) error {
	slot, err := q.Write()
	if err != nil {
		return err
	}
	*slot = v
	q.Commit()
	return nil
}

// Read returns the oldest committed entry without consuming it.
func (q *Queue[T]) Read() (*T, bool) {
	r := q.r.Load()
	if r >= q.w.Load() {
		return nil, false
	}
	return &q.slots[r%uint64(len(q.slots))], true
}

// Advance discards the entry returned by Read.
func (q *Queue[T]) Advance() {
	r := q.r.Load()
	if r >= q.w.Load() {
		return
	}
	// A failed swap means an overwriting producer already dropped it.
	q.r.CompareAndSwap(r, r+1)
}

// Pop copies out and consumes the oldest entry.
func (q *Queue[T]) Pop() (T, bool) {
	var out T
	p, ok := q.Read()
	if !ok {
		return out, false
	}
	out = *p
	q.Advance()
	return out, true
}
