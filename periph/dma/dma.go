// Package dma drives the status side of the BCM2835 DMA controller: channel
// start, abort and reset, and completion interrupts.
package dma

import (
	"errors"
	"fmt"

	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/mmio"
)

// Register layout.
const (
	ChannelSize  = 0x100
	RegCS        = 0x00
	RegConblkAd  = 0x04
	RegIntStatus = 0xfe0
	RegEnable    = 0xff0
)

// CS bits.
const (
	CSActive = 1 << 0
	CSEnd    = 1 << 1
	CSInt    = 1 << 2
	CSError  = 1 << 8
	CSAbort  = 1 << 30
	CSReset  = 1 << 31
)

// Channels is the number of channels reachable through the controller's
// main register block.
const Channels = 15

var (
	ErrChannel = errors.New("dma: no such channel")
	ErrBusy    = errors.New("dma: channel busy")
	ErrNoBlock = errors.New("dma: control block address is zero")
)

// Controller is a DMA driver. Each channel raises its own interrupt line.
// OnFire scans the global status register and records a completion flag
// for each finished channel, so one handler can serve any of them.
type Controller struct {
	regs mmio.Regs
	done [Channels]irq.Flag
}

var _ irq.Handler = (*Controller)(nil)

func New(regs mmio.Regs) *Controller {
	return &Controller{regs: regs}
}

// Enable turns on channel ch in the global enable register.
func (c *Controller) Enable(ch int) error {
	if err := check(ch); err != nil {
		return err
	}

	v := c.regs.Read32(RegEnable)
	c.regs.Write32(RegEnable, v|1<<ch)
	return nil
}

// Start runs the control block chain at bus address cb on channel ch.
func (c *Controller) Start(ch int, cb uint32) error {
	if err := check(ch); err != nil {
		return err
	}

	if cb == 0 {
		return ErrNoBlock
	}

	if c.Active(ch) {
		return fmt.Errorf("%w: %d", ErrBusy, ch)
	}

	c.regs.Write32(reg(ch, RegConblkAd), cb)
	c.regs.Write32(reg(ch, RegCS), CSActive)
	return nil
}

// Abort stops the transfer in progress on ch.
func (c *Controller) Abort(ch int) error {
	if err := check(ch); err != nil {
		return err
	}

	c.regs.Write32(reg(ch, RegCS), CSAbort)
	return nil
}

// Reset returns ch to its power-on state.
func (c *Controller) Reset(ch int) error {
	if err := check(ch); err != nil {
		return err
	}

	c.regs.Write32(reg(ch, RegCS), CSReset)
	return nil
}

func (c *Controller) Active(ch int) bool {
	return check(ch) == nil && c.regs.Read32(reg(ch, RegCS))&CSActive != 0
}

// Failed reports whether ch stopped with an error.
func (c *Controller) Failed(ch int) bool {
	return check(ch) == nil && c.regs.Read32(reg(ch, RegCS))&CSError != 0
}

func (c *Controller) OnFire(irq.Line) {
	st := c.regs.Read32(RegIntStatus)
	for ch := 0; ch < Channels; ch++ {
		if st&(1<<ch) == 0 {
			continue
		}

		// INT and END are write-one-to-clear
		c.regs.Write32(reg(ch, RegCS), CSInt|CSEnd)
		c.done[ch].Set()
	}
}

// Completed reports whether a transfer on ch completed since the last call.
func (c *Controller) Completed(ch int) bool {
	if check(ch) != nil {
		return false
	}

	return c.done[ch].Take()
}

func reg(ch int, off uint32) uint32 {
	return uint32(ch)*ChannelSize + off
}

func check(ch int) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrChannel, ch)
	}

	return nil
}
