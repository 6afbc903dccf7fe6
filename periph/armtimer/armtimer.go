// Package armtimer drives the SP804-derived ARM timer.
package armtimer

import (
	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/mmio"
)

// Register offsets.
const (
	RegLoad      = 0x00
	RegValue     = 0x04
	RegControl   = 0x08
	RegIRQClear  = 0x0c
	RegRawIRQ    = 0x10
	RegMaskedIRQ = 0x14
	RegReload    = 0x18
	RegPrediv    = 0x1c
	RegFreeRun   = 0x20
)

// Control bits.
const (
	Ctl32Bit       = 1 << 1
	CtlPrescale16  = 1 << 2
	CtlPrescale256 = 2 << 2
	CtlIntEnable   = 1 << 5
	CtlEnable      = 1 << 7
	CtlFreeRun     = 1 << 9

	ctlPrescaleMask = 3 << 2
)

type Timer struct {
	regs  mmio.Regs
	fired irq.Flag
}

var _ irq.Handler = (*Timer)(nil)

func New(regs mmio.Regs) *Timer {
	return &Timer{regs: regs}
}

// SetCountDown loads the countdown. The counter restarts from t at once.
func (tm *Timer) SetCountDown(t uint32) {
	tm.regs.Write32(RegLoad, t)
}

// SetReload sets the value loaded when the countdown reaches zero without
// restarting the current period.
func (tm *Timer) SetReload(t uint32) {
	tm.regs.Write32(RegReload, t)
}

func (tm *Timer) ReadCountDown() uint32 {
	return tm.regs.Read32(RegValue)
}

// Enable starts the countdown in 32-bit mode without prescaling.
func (tm *Timer) Enable() {
	tm.modify(Ctl32Bit|CtlEnable, ctlPrescaleMask)
}

func (tm *Timer) Disable() {
	tm.modify(0, CtlEnable)
}

func (tm *Timer) EnableInterrupt() {
	tm.modify(CtlIntEnable, 0)
}

// StartFreeRun starts the free-running counter.
func (tm *Timer) StartFreeRun() {
	tm.modify(CtlFreeRun|Ctl32Bit, 0)
}

func (tm *Timer) ReadFreeRun() uint32 {
	return tm.regs.Read32(RegFreeRun)
}

func (tm *Timer) ClearIRQ() {
	tm.regs.Write32(RegIRQClear, 1)
}

// Pending reports whether the timer is asserting its interrupt.
func (tm *Timer) Pending() bool {
	return tm.regs.Read32(RegMaskedIRQ)&1 != 0
}

func (tm *Timer) OnFire(irq.Line) {
	if !tm.Pending() {
		return
	}

	tm.ClearIRQ()
	tm.fired.Set()
}

// HasFired reports whether the countdown expired since the last call.
func (tm *Timer) HasFired() bool {
	return tm.fired.Take()
}

func (tm *Timer) modify(set, unset uint32) {
	v := tm.regs.Read32(RegControl)
	tm.regs.Write32(RegControl, v&^unset|set)
}
