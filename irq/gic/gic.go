// Package gic drives a GICv2 distributor and CPU interface, as found in the
// BCM2711's GIC-400.
package gic

import (
	"errors"

	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/mmio"
)

// Distributor register offsets.
const (
	GICDCtlr       = 0x000
	GICDTyper      = 0x004
	GICDIsenabler  = 0x100
	GICDIcenabler  = 0x180
	GICDIspendr    = 0x200
	GICDIcpendr    = 0x280
	GICDIpriorityr = 0x400
	GICDItargetsr  = 0x800
	GICDIcfgr      = 0xc00
)

// CPU interface register offsets.
const (
	GICCCtlr  = 0x00
	GICCPmr   = 0x04
	GICCBpr   = 0x08
	GICCIar   = 0x0c
	GICCEoir  = 0x10
	GICCHppir = 0x18
)

const (
	CtlrEnableGrp0 = 1 << 0
	CtlrEnableGrp1 = 1 << 1

	typerITLines = 0x1f
	iarIntID     = 0x3ff

	// MaxLines is the architectural limit; ids 1020-1023 are special.
	MaxLines = 1020

	// Spurious is returned by IAR and HPPIR when nothing is pending.
	Spurious = irq.Line(1023)
)

// Id class bases.
const (
	SGIBase = 0
	PPIBase = 16
	SPIBase = 32

	// ARMC peripheral interrupts and VideoCore interrupts on the BCM2711.
	ARMCBase      = 64
	VideoCoreBase = 96
)

// Canonical lines on the Raspberry Pi 4.
const (
	LineTimer0   = irq.Line(VideoCoreBase + 0)
	LineTimer1   = irq.Line(VideoCoreBase + 1)
	LineTimer2   = irq.Line(VideoCoreBase + 2)
	LineTimer3   = irq.Line(VideoCoreBase + 3)
	LineArmTimer = irq.Line(ARMCBase + 0)
	LineDMA0     = irq.Line(VideoCoreBase + 16)
)

var ErrNotInitialized = errors.New("gic: not initialized")

// Controller drives one distributor and the CPU interface of the current core.
type Controller struct {
	dist mmio.Regs
	cpu  mmio.Regs

	// lines is derived from GICD_TYPER by Init and never changes after reset.
	lines int
}

var _ irq.Controller = (*Controller)(nil)

func New(dist, cpu mmio.Regs) *Controller {
	return &Controller{dist: dist, cpu: cpu}
}

// Init reads the number of supported lines from the distributor.
func (c *Controller) Init() {
	n := 32 * (int(c.dist.Read32(GICDTyper)&typerITLines) + 1)
	if n > MaxLines {
		n = MaxLines
	}

	c.lines = n
}

// Lines returns the number of supported lines, or 0 before Init.
func (c *Controller) Lines() int {
	return c.lines
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

func (c *Controller) Enable(dev irq.Device) error {
	id, err := c.line(dev)
	if err != nil {
		return err
	}

	c.EnableLine(id)
	return nil
}

func (c *Controller) Disable(dev irq.Device) error {
	id, err := c.line(dev)
	if err != nil {
		return err
	}

	c.dist.Write32(GICDIcenabler+4*uint32(id/32), 1<<(id%32))
	return nil
}

// EnableLine enables a raw id. The set-enable registers ignore zero bits.
func (c *Controller) EnableLine(id irq.Line) {
	c.dist.Write32(GICDIsenabler+4*uint32(id/32), 1<<(id%32))
}

// IsEnabled reports whether a raw id is enabled.
func (c *Controller) IsEnabled(id irq.Line) bool {
	return c.dist.Read32(GICDIsenabler+4*uint32(id/32))&(1<<(id%32)) != 0
}

// SetTargetCPU routes the device's line to a single core. The target
// registers hold one byte per id; only the id's byte is changed.
func (c *Controller) SetTargetCPU(dev irq.Device, cpu int) error {
	id, err := c.line(dev)
	if err != nil {
		return err
	}

	if cpu < 0 || cpu > 7 {
		return irq.ErrNoLine
	}

	c.setByte(GICDItargetsr, id, 1<<cpu)
	return nil
}

// SetPriority sets the device's priority. Lower values are more urgent.
func (c *Controller) SetPriority(dev irq.Device, prio uint8) error {
	id, err := c.line(dev)
	if err != nil {
		return err
	}

	c.setByte(GICDIpriorityr, id, prio)
	return nil
}

// EnableDistribution turns on forwarding for both groups in the distributor
// and opens the CPU interface with the lowest priority mask.
func (c *Controller) EnableDistribution() {
	ctlr := c.dist.Read32(GICDCtlr)
	c.dist.Write32(GICDCtlr, ctlr|CtlrEnableGrp0|CtlrEnableGrp1)

	c.cpu.Write32(GICCPmr, 0xff)
	c.cpu.Write32(GICCCtlr, CtlrEnableGrp0|CtlrEnableGrp1)
}

// Pending peeks at the highest priority pending id without acknowledging it.
func (c *Controller) Pending() bool {
	id := irq.Line(c.cpu.Read32(GICCHppir) & iarIntID)
	return id < MaxLines
}

// FirstPending acknowledges the highest priority pending id. The read marks
// the id active; it must be handed back to EndOfInterrupt.
func (c *Controller) FirstPending() (irq.Line, bool) {
	id := irq.Line(c.cpu.Read32(GICCIar) & iarIntID)
	if id >= MaxLines {
		return 0, false
	}

	return id, true
}

func (c *Controller) EndOfInterrupt(id irq.Line) {
	c.cpu.Write32(GICCEoir, uint32(id))
}

func (c *Controller) line(dev irq.Device) (irq.Line, error) {
	if c.lines == 0 {
		return 0, ErrNotInitialized
	}

	id, ok := c.Line(dev)
	if !ok || int(id) >= c.lines {
		return 0, irq.ErrNoLine
	}

	return id, nil
}

func (c *Controller) setByte(base uint32, id irq.Line, v uint8) {
	reg := base + 4*uint32(id/4)
	shift := 8 * (id % 4)

	w := c.dist.Read32(reg)
	w &^= 0xff << shift
	w |= uint32(v) << shift
	c.dist.Write32(reg, w)
}
