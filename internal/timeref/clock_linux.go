//go:build linux

package timeref

import (
	"time"

	"golang.org/x/sys/unix"
)

// MonotonicClock reads CLOCK_MONOTONIC, the base the kernel also uses for
// GPIO edge timestamps.
type MonotonicClock struct{}

func (MonotonicClock) Now() time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	return time.Unix(0, ts.Nano())
}

func (MonotonicClock) Sleep(d time.Duration) { time.Sleep(d) }
