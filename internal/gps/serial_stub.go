//go:build !linux

package gps

import (
	"errors"
	"os"
)

var errNoSerial = errors.New("gps: serial receivers need linux; use sim.ownship instead")

func openSerial(string, int) (*os.File, error) { return nil, errNoSerial }
