package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/c35s/pirq/exception"
)

var ErrHalted = errors.New("sim: core halted")

const (
	// IdlePC is the address the core reports as interrupted while it waits
	// for an event.
	IdlePC = 0x8_0000

	// spsrEL1h is PSTATE for EL1 using SP_EL1 with every exception unmasked.
	spsrEL1h = 0x5
)

// Core emulates one EL1 core as seen by interrupt-driven code: a vector
// base, the PSTATE.I mask and the event register.
//
// The mask is a mutex. Holding it means IRQs are masked: DisableIRQ locks
// it, EnableIRQ unlocks it, and delivery takes it for the duration of the
// handler the way the hardware sets PSTATE.I on exception entry. A core
// starts with IRQs masked.
type Core struct {
	mask sync.Mutex

	mu      sync.Mutex
	vectors exception.Vectors

	wake     chan struct{}
	halted   chan struct{}
	haltOnce sync.Once
}

func NewCore() *Core {
	c := &Core{
		wake:   make(chan struct{}, 1),
		halted: make(chan struct{}),
	}

	c.mask.Lock()
	return c
}

// SetVectors sets the vector base.
func (c *Core) SetVectors(v exception.Vectors) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vectors = v
}

// DisableIRQ masks IRQs. It waits for a handler in progress to return.
func (c *Core) DisableIRQ() {
	c.mask.Lock()
}

// EnableIRQ unmasks IRQs.
func (c *Core) EnableIRQ() {
	c.mask.Unlock()
}

// Interrupt delivers an IRQ if the core is unmasked and has vectors. It
// reports whether the exception was taken. An IRQ that is not taken stays
// asserted at the controller and is offered again later.
func (c *Core) Interrupt() bool {
	if c.Halted() {
		return false
	}

	v := c.getVectors()
	if v == nil {
		return false
	}

	if !c.mask.TryLock() {
		return false
	}

	ctx := exception.Context{ELR: IdlePC, SPSR: spsrEL1h}
	v.Take(exception.CurrentSPx, exception.IRQ, &ctx)
	c.mask.Unlock()

	c.Signal()
	return true
}

// Raise takes a synchronous exception or SError with the given syndrome.
// It ignores the IRQ mask.
func (c *Core) Raise(o exception.Origin, k exception.Kind, esr, elr uint64) bool {
	if c.Halted() {
		return false
	}

	v := c.getVectors()
	if v == nil {
		return false
	}

	ctx := exception.Context{ELR: elr, SPSR: spsrEL1h, ESR: esr}
	v.Take(o, k, &ctx)
	c.Signal()
	return true
}

// Signal sets the event register.
func (c *Core) Signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// WaitForEvent blocks until the event register is set, then clears it.
func (c *Core) WaitForEvent(ctx context.Context) error {
	select {
	case <-c.wake:
		return nil

	case <-c.halted:
		return ErrHalted

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Halt stops the core. Halted cores take no more exceptions.
func (c *Core) Halt() {
	c.haltOnce.Do(func() { close(c.halted) })
}

func (c *Core) Halted() bool {
	select {
	case <-c.halted:
		return true
	default:
		return false
	}
}

// Done is closed when the core halts.
func (c *Core) Done() <-chan struct{} {
	return c.halted
}

func (c *Core) getVectors() exception.Vectors {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.vectors
}
