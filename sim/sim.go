// Package sim emulates the interrupt-relevant parts of a Raspberry Pi board:
// the legacy interrupt controller, the GIC-400, the system timer, the ARM
// timer, the DMA controller and a single core that takes exceptions.
//
// Each block implements mmio.Handler with the register layout of the real
// hardware, so drivers cannot tell the simulation from a mapping of
// physical memory.
package sim

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

var le = binary.LittleEndian

// LineFunc is called by a peripheral when one of its interrupt outputs
// changes level. n is the peripheral-local output number.
type LineFunc func(n int, level bool)

func nopLine(int, bool) {}

func get32(off int, p []byte) (uint32, error) {
	if len(p) != 4 || off%4 != 0 {
		return 0, unix.EINVAL
	}

	return le.Uint32(p), nil
}

func put32(off int, p []byte, v uint32) error {
	if len(p) != 4 || off%4 != 0 {
		return unix.EINVAL
	}

	le.PutUint32(p, v)
	return nil
}
