// Package legacy drives the BCM2835-style interrupt controller: two banks
// of 32 GPU lines plus eight "basic" ARM-side lines.
package legacy

import (
	"math/bits"

	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/mmio"
)

// Register offsets.
const (
	RegBasicPending = 0x00
	RegPending1     = 0x04
	RegPending2     = 0x08
	RegFIQControl   = 0x0c
	RegEnable1      = 0x10
	RegEnable2      = 0x14
	RegEnableBasic  = 0x18
	RegDisable1     = 0x1c
	RegDisable2     = 0x20
	RegDisableBasic = 0x24
)

const (
	// BasicPending1 is set in the basic pending register when any bit of
	// pending register 1 is set.
	BasicPending1 = 1 << 8

	// BasicPending2 is the same summary bit for pending register 2.
	BasicPending2 = 1 << 9

	basicMask = 0xff
)

// Line numbering. GPU lines keep their datasheet numbers; basic line b is
// numbered BasicBase+b.
const (
	GPULines   = 64
	BasicBase  = 64
	BasicLines = 8
	NumLines   = GPULines + BasicLines
)

// Canonical lines on the Raspberry Pi 3.
const (
	LineTimer0   = irq.Line(0)
	LineTimer1   = irq.Line(1)
	LineTimer2   = irq.Line(2)
	LineTimer3   = irq.Line(3)
	LineDMA0     = irq.Line(16)
	LineArmTimer = irq.Line(BasicBase + 0)
)

// Controller is a stateless wrapper over the controller's registers.
type Controller struct {
	regs mmio.Regs
}

var _ irq.Controller = (*Controller)(nil)

func New(regs mmio.Regs) *Controller {
	return &Controller{regs: regs}
}

func (c *Controller) Line(dev irq.Device) (irq.Line, bool) {
	switch dev {
	case irq.Timer0:
		return LineTimer0, true

	case irq.Timer1:
		return LineTimer1, true

	case irq.Timer2:
		return LineTimer2, true

	case irq.Timer3:
		return LineTimer3, true

	case irq.ArmTimer:
		return LineArmTimer, true

	case irq.Dma:
		return LineDMA0, true

	default:
		return 0, false
	}
}

func (c *Controller) Device(id irq.Line) irq.Device {
	switch id {
	case LineTimer0:
		return irq.Timer0

	case LineTimer1:
		return irq.Timer1

	case LineTimer2:
		return irq.Timer2

	case LineTimer3:
		return irq.Timer3

	case LineArmTimer:
		return irq.ArmTimer

	case LineDMA0:
		return irq.Dma

	default:
		return irq.Invalid
	}
}

// Enable sets the line's bit in the matching enable register. The enable
// registers ignore zero bits, so no read-modify-write is needed.
func (c *Controller) Enable(dev irq.Device) error {
	id, ok := c.Line(dev)
	if !ok {
		return irq.ErrNoLine
	}

	return c.EnableLine(id)
}

func (c *Controller) Disable(dev irq.Device) error {
	id, ok := c.Line(dev)
	if !ok {
		return irq.ErrNoLine
	}

	return c.DisableLine(id)
}

// EnableLine enables a raw line id.
func (c *Controller) EnableLine(id irq.Line) error {
	reg, bit, ok := lineReg(id, RegEnable1, RegEnable2, RegEnableBasic)
	if !ok {
		return irq.ErrNoLine
	}

	c.regs.Write32(reg, bit)
	return nil
}

// DisableLine disables a raw line id.
func (c *Controller) DisableLine(id irq.Line) error {
	reg, bit, ok := lineReg(id, RegDisable1, RegDisable2, RegDisableBasic)
	if !ok {
		return irq.ErrNoLine
	}

	c.regs.Write32(reg, bit)
	return nil
}

// IsEnabled reports whether a raw line id is enabled.
func (c *Controller) IsEnabled(id irq.Line) bool {
	reg, bit, ok := lineReg(id, RegEnable1, RegEnable2, RegEnableBasic)
	return ok && c.regs.Read32(reg)&bit != 0
}

// SetTargetCPU is a no-op: every line goes to the core the ARM local
// routing selects.
func (c *Controller) SetTargetCPU(irq.Device, int) error {
	return nil
}

func (c *Controller) EnableDistribution() {}

func (c *Controller) Pending() bool {
	return c.regs.Read32(RegBasicPending)&(BasicPending1|BasicPending2|basicMask) != 0
}

// FirstPending scans the GPU pending words when either summary bit is set,
// and only falls back to the basic lines when no GPU line is pending.
func (c *Controller) FirstPending() (irq.Line, bool) {
	basic := c.regs.Read32(RegBasicPending)

	if basic&(BasicPending1|BasicPending2) != 0 {
		if basic&BasicPending1 != 0 {
			if p := c.regs.Read32(RegPending1); p != 0 {
				return irq.Line(bits.TrailingZeros32(p)), true
			}
		}

		if basic&BasicPending2 != 0 {
			if p := c.regs.Read32(RegPending2); p != 0 {
				return irq.Line(32 + bits.TrailingZeros32(p)), true
			}
		}
	}

	if b := basic & basicMask; b != 0 {
		return irq.Line(BasicBase + bits.TrailingZeros32(b)), true
	}

	return 0, false
}

// EndOfInterrupt is a no-op: the peripheral's own clear drops the line.
func (c *Controller) EndOfInterrupt(irq.Line) {}

func (c *Controller) Lines() int {
	return NumLines
}

// RawPending returns both GPU pending words as one 64-bit mask.
func (c *Controller) RawPending() uint64 {
	lo := c.regs.Read32(RegPending1)
	hi := c.regs.Read32(RegPending2)
	return uint64(hi)<<32 | uint64(lo)
}

// RawBasicPending returns the basic pending register.
func (c *Controller) RawBasicPending() uint32 {
	return c.regs.Read32(RegBasicPending)
}

func lineReg(id irq.Line, gpu1, gpu2, basic uint32) (reg, bit uint32, ok bool) {
	switch {
	case id < 32:
		return gpu1, 1 << id, true

	case id < GPULines:
		return gpu2, 1 << (id - 32), true

	case id < NumLines:
		return basic, 1 << (id - BasicBase), true

	default:
		return 0, 0, false
	}
}
