package sim

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/c35s/pirq/board"
	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/irq/gic"
	"github.com/c35s/pirq/irq/legacy"
	"github.com/c35s/pirq/mmio"
	"github.com/cavaliergopher/cpio"
)

// gicLines is the number of ids implemented by the BCM2711's GIC-400.
const gicLines = 256

// Board is a simulated SoC: the peripheral models installed on an MMIO bus
// at their physical addresses, wired to one core.
type Board struct {
	Rev  board.Revision
	Bus  *mmio.Bus
	Core *Core

	IntC     *IntC
	GIC      *GIC // nil on revisions without one
	SysTimer *SysTimer
	ArmTimer *ArmTimer
	DMA      *DMA

	// mu serializes Step
	mu    sync.Mutex
	ticks uint64
}

// New builds a board for rev.
func New(rev board.Revision) (*Board, error) {
	if rev.PeripheralBase() == 0 {
		return nil, fmt.Errorf("sim: unsupported revision %v", rev)
	}

	b := &Board{
		Rev:  rev,
		Bus:  new(mmio.Bus),
		Core: NewCore(),
		IntC: new(IntC),
	}

	if rev.HasGIC() {
		b.GIC = NewGIC(gicLines)
	}

	b.SysTimer = NewSysTimer(func(ch int, level bool) {
		b.route(legacy.LineTimer0+irq.Line(ch), gic.LineTimer0+irq.Line(ch), level)
	})

	b.ArmTimer = NewArmTimer(func(_ int, level bool) {
		b.route(legacy.LineArmTimer, gic.LineArmTimer, level)
	})

	// channel n raises GPU line 16+n and VideoCore SPI 112+n
	b.DMA = NewDMA(func(ch int, level bool) {
		b.route(legacy.LineDMA0+irq.Line(ch), gic.LineDMA0+irq.Line(ch), level)
	})

	for _, blk := range rev.Blocks() {
		if err := b.Bus.Install(blk.Name, blk.Addr, blk.Size, b.handler(blk.Name)); err != nil {
			return nil, fmt.Errorf("sim: install %s: %w", blk.Name, err)
		}
	}

	return b, nil
}

// route drives a peripheral output into the legacy controller and, if the
// board has one, the GIC.
func (b *Board) route(l, g irq.Line, level bool) {
	b.IntC.SetLine(int(l), level)
	if b.GIC != nil {
		b.GIC.SetLine(int(g), level)
	}
}

// Map implements mmio.Space over the board's bus.
func (b *Board) Map(addr, size uint64) (mmio.Regs, error) {
	return b.Bus.Map(addr, size)
}

// Ticks returns the time elapsed since the board was built.
func (b *Board) Ticks() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ticks
}

// Step advances every peripheral by ticks and then offers the core an IRQ
// if the interrupt controller is asserting one. One tick is one
// microsecond of system timer time.
func (b *Board) Step(ticks uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ticks += ticks
	b.SysTimer.Step(ticks)
	b.ArmTimer.Step(ticks)
	b.DMA.Step(ticks)

	if b.asserted() {
		b.Core.Interrupt()
	}
}

func (b *Board) asserted() bool {
	if b.GIC != nil {
		return b.GIC.Asserted()
	}

	return b.IntC.Asserted()
}

// Run steps the board by tick every interval until ctx is done or the core
// halts.
func (b *Board) Run(ctx context.Context, tick uint64, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-b.Core.Done():
			return ErrHalted

		case <-t.C:
			b.Step(tick)
		}
	}
}

// peeker is implemented by blocks whose reads have side effects.
type peeker interface {
	peekMMIO(off int, p []byte) error
}

// Snapshot writes a cpio archive with one file per register block. Each
// file holds the block's registers as little-endian words. Taking a
// snapshot does not acknowledge interrupts.
func (b *Board) Snapshot(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cw := cpio.NewWriter(w)

	for _, blk := range b.Rev.Blocks() {
		data := make([]byte, blk.Size)
		h := b.handler(blk.Name)

		for off := 0; off+4 <= len(data); off += 4 {
			var err error
			if pk, ok := h.(peeker); ok {
				err = pk.peekMMIO(off, data[off:off+4])
			} else {
				err = h.ReadMMIO(off, data[off:off+4])
			}

			if err != nil {
				return fmt.Errorf("sim: snapshot %s+%#x: %w", blk.Name, off, err)
			}
		}

		err := cw.WriteHeader(&cpio.Header{
			Name:    blk.Name,
			Mode:    0444,
			Size:    int64(len(data)),
			ModTime: time.Unix(0, 0),
		})

		if err != nil {
			return err
		}

		if _, err := cw.Write(data); err != nil {
			return err
		}
	}

	return cw.Close()
}

func (b *Board) handler(name string) mmio.Handler {
	switch name {
	case "systimer":
		return b.SysTimer

	case "dma":
		return b.DMA

	case "intc":
		return b.IntC

	case "armtimer":
		return b.ArmTimer

	case "gicd":
		return b.GIC.Dist()

	case "gicc":
		return b.GIC.CPU()

	default:
		panic("sim: no handler for " + name)
	}
}
