// Package systimer drives the BCM2835 system timer: a free-running 64-bit
// microsecond counter with four 32-bit compare channels.
package systimer

import (
	"errors"
	"fmt"

	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/mmio"
)

// Register offsets.
const (
	RegCS  = 0x00
	RegCLO = 0x04
	RegCHI = 0x08
	RegC0  = 0x0c
)

// Channels is the number of compare channels.
const Channels = 4

var ErrChannel = errors.New("systimer: no such channel")

// Timer is a system timer driver. Its OnFire clears every matched channel
// the driver owns and records the match in the channel's flag. Matches on
// other channels are left for their owner.
type Timer struct {
	regs  mmio.Regs
	owned uint32
	fired [Channels]irq.Flag
}

var _ irq.Handler = (*Timer)(nil)

// New returns a driver that owns the given channels, or all four if none
// are given. Out of range channels are ignored.
func New(regs mmio.Regs, channels ...int) *Timer {
	t := &Timer{regs: regs}
	for _, ch := range channels {
		if ch >= 0 && ch < Channels {
			t.owned |= 1 << ch
		}
	}

	if len(channels) == 0 {
		t.owned = 1<<Channels - 1
	}

	return t
}

// Sources returns the interrupt sources of the four channels.
func Sources() []irq.Device {
	return []irq.Device{irq.Timer0, irq.Timer1, irq.Timer2, irq.Timer3}
}

// Counter32 returns the low word of the counter.
func (t *Timer) Counter32() uint32 {
	return t.regs.Read32(RegCLO)
}

// Counter64 returns the full counter. The high word is read on both sides
// of the low word so a carry between the reads cannot tear the result.
func (t *Timer) Counter64() uint64 {
	for {
		hi := t.regs.Read32(RegCHI)
		lo := t.regs.Read32(RegCLO)
		if t.regs.Read32(RegCHI) == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// Set programs channel ch to match when the low word of the counter
// reaches v.
func (t *Timer) Set(ch int, v uint32) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrChannel, ch)
	}

	t.regs.Write32(RegC0+4*uint32(ch), v)
	return nil
}

// After programs channel ch to match d microseconds from now.
func (t *Timer) After(ch int, d uint32) error {
	return t.Set(ch, t.Counter32()+d)
}

// Matched reports whether channel ch's match bit is set.
func (t *Timer) Matched(ch int) bool {
	if ch < 0 || ch >= Channels {
		return false
	}

	return t.regs.Read32(RegCS)&(1<<ch) != 0
}

func (t *Timer) OnFire(irq.Line) {
	cs := t.regs.Read32(RegCS) & t.owned
	for ch := 0; ch < Channels; ch++ {
		if cs&(1<<ch) == 0 {
			continue
		}

		// match bits are write-one-to-clear
		t.regs.Write32(RegCS, 1<<ch)
		t.fired[ch].Set()
	}
}

// Fired reports whether channel ch matched since the last call.
func (t *Timer) Fired(ch int) bool {
	if ch < 0 || ch >= Channels {
		return false
	}

	return t.fired[ch].Take()
}
