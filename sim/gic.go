package sim

import (
	"sync"

	"github.com/c35s/pirq/irq/gic"
	"github.com/c35s/pirq/mmio"
)

// GIC emulates a GICv2 distributor and one CPU interface. Interrupts are
// level sensitive: an id is pending while its source drives it high or
// while it is software-pending, and an acknowledged id stays active until
// it is written to EOIR.
type GIC struct {
	mu sync.Mutex

	lines int

	distCtlr uint32
	cpuCtlr  uint32
	pmr      uint32
	bpr      uint32

	level     []bool
	swPending []bool
	enabled   []bool
	active    []bool
	priority  []uint8
	target    []uint8
	cfg       []uint32
}

// NewGIC returns a GIC with the given number of lines, rounded up to a
// multiple of 32.
func NewGIC(lines int) *GIC {
	lines = (lines + 31) &^ 31
	if lines > gic.MaxLines {
		lines = gic.MaxLines
	}

	return &GIC{
		lines:     lines,
		level:     make([]bool, lines),
		swPending: make([]bool, lines),
		enabled:   make([]bool, lines),
		active:    make([]bool, lines),
		priority:  make([]uint8, lines),
		target:    make([]uint8, lines),
		cfg:       make([]uint32, (lines+15)/16),
	}
}

// SetLine drives id.
func (g *GIC) SetLine(id int, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id >= 0 && id < g.lines {
		g.level[id] = level
	}
}

// Asserted reports whether the CPU interface is signalling IRQ to the core.
func (g *GIC) Asserted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cpuCtlr&(gic.CtlrEnableGrp0|gic.CtlrEnableGrp1) != 0 && g.best() >= 0
}

// Active reports whether id has been acknowledged but not yet ended.
func (g *GIC) Active(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return id >= 0 && id < g.lines && g.active[id]
}

// Dist returns the distributor's register block.
func (g *GIC) Dist() mmio.Handler { return (*gicDist)(g) }

// CPU returns the CPU interface's register block.
func (g *GIC) CPU() mmio.Handler { return (*gicCPU)(g) }

// best returns the highest priority deliverable id, or -1. Lower priority
// values win; ties go to the lower id.
func (g *GIC) best() int {
	if g.distCtlr&(gic.CtlrEnableGrp0|gic.CtlrEnableGrp1) == 0 {
		return -1
	}

	id := -1
	for i := 0; i < g.lines; i++ {
		if !(g.level[i] || g.swPending[i]) || !g.enabled[i] || g.active[i] {
			continue
		}

		if uint32(g.priority[i]) >= g.pmr {
			continue
		}

		if id < 0 || g.priority[i] < g.priority[id] {
			id = i
		}
	}

	return id
}

type gicDist GIC

func (d *gicDist) ReadMMIO(off int, p []byte) error {
	g := (*GIC)(d)
	g.mu.Lock()
	defer g.mu.Unlock()

	var v uint32
	switch {
	case off == gic.GICDCtlr:
		v = g.distCtlr

	case off == gic.GICDTyper:
		v = uint32(g.lines/32 - 1)

	case inBank(off, gic.GICDIsenabler, g.lines/8):
		v = g.bits(g.enabled, off-gic.GICDIsenabler)

	case inBank(off, gic.GICDIcenabler, g.lines/8):
		v = g.bits(g.enabled, off-gic.GICDIcenabler)

	case inBank(off, gic.GICDIspendr, g.lines/8):
		v = g.pendingBits(off - gic.GICDIspendr)

	case inBank(off, gic.GICDIcpendr, g.lines/8):
		v = g.pendingBits(off - gic.GICDIcpendr)

	case inBank(off, gic.GICDIpriorityr, g.lines):
		v = bytesWord(g.priority, off-gic.GICDIpriorityr)

	case inBank(off, gic.GICDItargetsr, g.lines):
		v = bytesWord(g.target, off-gic.GICDItargetsr)

	case inBank(off, gic.GICDIcfgr, len(g.cfg)*4):
		v = g.cfg[(off-gic.GICDIcfgr)/4]
	}

	return put32(off, p, v)
}

func (d *gicDist) WriteMMIO(off int, p []byte) error {
	v, err := get32(off, p)
	if err != nil {
		return err
	}

	g := (*GIC)(d)
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case off == gic.GICDCtlr:
		g.distCtlr = v & (gic.CtlrEnableGrp0 | gic.CtlrEnableGrp1)

	case inBank(off, gic.GICDIsenabler, g.lines/8):
		g.setBits(g.enabled, off-gic.GICDIsenabler, v, true)

	case inBank(off, gic.GICDIcenabler, g.lines/8):
		g.setBits(g.enabled, off-gic.GICDIcenabler, v, false)

	case inBank(off, gic.GICDIspendr, g.lines/8):
		g.setBits(g.swPending, off-gic.GICDIspendr, v, true)

	case inBank(off, gic.GICDIcpendr, g.lines/8):
		g.setBits(g.swPending, off-gic.GICDIcpendr, v, false)

	case inBank(off, gic.GICDIpriorityr, g.lines):
		putBytesWord(g.priority, off-gic.GICDIpriorityr, v)

	case inBank(off, gic.GICDItargetsr, g.lines):
		// SGI and PPI targets are read-only
		if off-gic.GICDItargetsr >= gic.SPIBase {
			putBytesWord(g.target, off-gic.GICDItargetsr, v)
		}

	case inBank(off, gic.GICDIcfgr, len(g.cfg)*4):
		g.cfg[(off-gic.GICDIcfgr)/4] = v
	}

	return nil
}

type gicCPU GIC

func (c *gicCPU) ReadMMIO(off int, p []byte) error {
	return (*GIC)(c).readCPU(off, p, true)
}

// peekMMIO reads without acknowledging.
func (c *gicCPU) peekMMIO(off int, p []byte) error {
	return (*GIC)(c).readCPU(off, p, false)
}

func (g *GIC) readCPU(off int, p []byte, ack bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var v uint32
	switch off {
	case gic.GICCCtlr:
		v = g.cpuCtlr

	case gic.GICCPmr:
		v = g.pmr

	case gic.GICCBpr:
		v = g.bpr

	case gic.GICCIar:
		v = uint32(gic.Spurious)
		if g.cpuCtlr&(gic.CtlrEnableGrp0|gic.CtlrEnableGrp1) != 0 {
			if id := g.best(); id >= 0 {
				if ack {
					g.active[id] = true
					g.swPending[id] = false
				}

				v = uint32(id)
			}
		}

	case gic.GICCHppir:
		v = uint32(gic.Spurious)
		if id := g.best(); id >= 0 {
			v = uint32(id)
		}
	}

	return put32(off, p, v)
}

func (c *gicCPU) WriteMMIO(off int, p []byte) error {
	v, err := get32(off, p)
	if err != nil {
		return err
	}

	g := (*GIC)(c)
	g.mu.Lock()
	defer g.mu.Unlock()

	switch off {
	case gic.GICCCtlr:
		g.cpuCtlr = v & (gic.CtlrEnableGrp0 | gic.CtlrEnableGrp1)

	case gic.GICCPmr:
		g.pmr = v & 0xff

	case gic.GICCBpr:
		g.bpr = v & 0x7

	case gic.GICCEoir:
		if id := int(v & 0x3ff); id < g.lines {
			g.active[id] = false
		}
	}

	return nil
}

// inBank reports whether off falls in the n-byte bank starting at base.
func inBank(off, base, n int) bool {
	return off >= base && off < base+n
}

func (g *GIC) bits(b []bool, boff int) uint32 {
	var v uint32
	for i := 0; i < 32; i++ {
		if b[boff*8+i] {
			v |= 1 << i
		}
	}

	return v
}

func (g *GIC) pendingBits(boff int) uint32 {
	var v uint32
	for i := 0; i < 32; i++ {
		if id := boff*8 + i; g.level[id] || g.swPending[id] {
			v |= 1 << i
		}
	}

	return v
}

// setBits sets (or clears) b[id] for every 1 bit in v. Zero bits are ignored.
func (g *GIC) setBits(b []bool, boff int, v uint32, set bool) {
	for i := 0; i < 32; i++ {
		if v&(1<<i) != 0 {
			b[boff*8+i] = set
		}
	}
}

func bytesWord(b []uint8, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func putBytesWord(b []uint8, off int, v uint32) {
	b[off] = uint8(v)
	b[off+1] = uint8(v >> 8)
	b[off+2] = uint8(v >> 16)
	b[off+3] = uint8(v >> 24)
}
