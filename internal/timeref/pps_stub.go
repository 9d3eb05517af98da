//go:build !linux

package timeref

import (
	"fmt"
	"io"
)

func OpenPPS(pin int, t *Tracker) (io.Closer, error) {
	return nil, fmt.Errorf("timeref: pps unsupported on this platform")
}
