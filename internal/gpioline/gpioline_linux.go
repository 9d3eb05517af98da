//go:build linux

// Package gpioline requests header GPIO lines by BCM number through the
// Linux GPIO character device.
package gpioline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// Line is a requested line together with the chip that owns it.
type Line struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// Request finds "GPIO<pin>" on any chip and requests it with opts.
func Request(pin int, consumer string, opts ...gpiocdev.LineReqOption) (*Line, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("gpioline: invalid gpio pin %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels can expose the header on gpiochip4.
	chips := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chips = append(chips, filepath.Join("/dev", e.Name()))
		}
	}

	opts = append(opts, gpiocdev.WithConsumer(consumer))
	for _, path := range chips {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &Line{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("gpioline: line %q not found (or busy)", name)
}

// Value reads the current line level.
func (l *Line) Value() (int, error) {
	if l == nil || l.line == nil {
		return 0, fmt.Errorf("gpioline: line not requested")
	}
	return l.line.Value()
}

func (l *Line) Close() error {
	if l == nil || l.line == nil {
		return nil
	}
	err := l.line.Close()
	l.line = nil
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return err
}
