//go:build !linux

package radio

import "fmt"

type IRQLine struct{}

func OpenIRQ(pin int) (*IRQLine, error) {
	return nil, fmt.Errorf("radio: irq gpio unsupported on this platform")
}

func (q *IRQLine) Ready() bool  { return false }
func (q *IRQLine) Close() error { return nil }
