//go:build linux

package radio

import (
	"log"

	"github.com/warthog618/go-gpiocdev"

	"tracker-ng/internal/gpioline"
)

// IRQLine is the transceiver's packet-ready output on a header GPIO.
type IRQLine struct {
	line *gpioline.Line
}

func OpenIRQ(pin int) (*IRQLine, error) {
	l, err := gpioline.Request(pin, "tracker-ng-irq", gpiocdev.AsInput)
	if err != nil {
		return nil, err
	}
	return &IRQLine{line: l}, nil
}

func (q *IRQLine) Ready() bool {
	v, err := q.line.Value()
	if err != nil {
		log.Printf("radio: irq read failed: %v", err)
		return false
	}
	return v == 1
}

func (q *IRQLine) Close() error { return q.line.Close() }
