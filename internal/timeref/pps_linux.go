//go:build linux

package timeref

import (
	"io"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"tracker-ng/internal/gpioline"
)

// OpenPPS watches a header GPIO for rising PPS edges and feeds them to t.
// Edge timestamps come from the kernel on CLOCK_MONOTONIC, so t must be
// paired with MonotonicClock.
func OpenPPS(pin int, t *Tracker) (io.Closer, error) {
	return gpioline.Request(pin, "tracker-ng-pps",
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			t.Pulse(time.Unix(0, int64(evt.Timestamp)))
		}))
}
