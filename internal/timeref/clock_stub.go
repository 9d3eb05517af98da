//go:build !linux

package timeref

import "time"

// MonotonicClock falls back to the runtime clock off Linux.
type MonotonicClock struct{}

func (MonotonicClock) Now() time.Time        { return time.Now() }
func (MonotonicClock) Sleep(d time.Duration) { time.Sleep(d) }
