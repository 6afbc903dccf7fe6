// Package board describes the memory-mapped I/O layout of the supported SoCs.
package board

import (
	"fmt"
	"strings"
)

// Revision identifies a target SoC.
type Revision int

const (
	InvalidRevision = Revision(0)

	// BCM2837 is the Raspberry Pi 3 SoC. It only has the legacy interrupt controller.
	BCM2837 = Revision(1)

	// BCM2711 is the Raspberry Pi 4 SoC. Its ARM local block includes a GIC-400.
	BCM2711 = Revision(2)
)

// Offsets of the peripheral blocks from the peripheral base.
const (
	SysTimerOffset  = 0x3000
	DMAOffset       = 0x7000
	LegacyICOffset  = 0xB200
	ArmTimerOffset  = 0xB400
	BlockSize       = 0x1000
	legacyICSize    = 0x28
	armTimerSize    = 0x24
	sysTimerSize    = 0x1c
	gicDistSize     = 0x1000
	gicCPUSize      = 0x1000
	peripheralBase3 = 0x3f00_0000
	peripheralBase4 = 0xfe00_0000
	localBase4      = 0xff80_0000
)

// Offsets of the GIC-400 blocks from the ARM local base.
const (
	GICDistOffset = 0x4_1000
	GICCPUOffset  = 0x4_2000
)

// Block is a named memory-mapped register window.
type Block struct {
	Name string
	Addr uint64
	Size uint64
}

// ParseRevision parses a revision name as printed by String.
func ParseRevision(s string) (Revision, error) {
	switch strings.ToLower(s) {
	case "bcm2837", "rpi3":
		return BCM2837, nil

	case "bcm2711", "rpi4":
		return BCM2711, nil

	default:
		return InvalidRevision, fmt.Errorf("board: unknown revision %q", s)
	}
}

// PeripheralBase returns the physical base of the BCM2835-compatible peripherals.
func (r Revision) PeripheralBase() uint64 {
	switch r {
	case BCM2837:
		return peripheralBase3

	case BCM2711:
		return peripheralBase4

	default:
		return 0
	}
}

// LocalBase returns the physical base of the ARM local block, or 0 if the
// revision has none.
func (r Revision) LocalBase() uint64 {
	if r == BCM2711 {
		return localBase4
	}

	return 0
}

// HasGIC reports whether the revision routes interrupts through a GIC.
func (r Revision) HasGIC() bool {
	return r == BCM2711
}

func (r Revision) LegacyIC() uint64 { return r.PeripheralBase() + LegacyICOffset }
func (r Revision) SysTimer() uint64 { return r.PeripheralBase() + SysTimerOffset }
func (r Revision) ArmTimer() uint64 { return r.PeripheralBase() + ArmTimerOffset }
func (r Revision) DMA() uint64      { return r.PeripheralBase() + DMAOffset }
func (r Revision) GICDist() uint64  { return r.LocalBase() + GICDistOffset }
func (r Revision) GICCPU() uint64   { return r.LocalBase() + GICCPUOffset }

// Blocks enumerates the register windows used by the interrupt subsystem.
func (r Revision) Blocks() []Block {
	bb := []Block{
		{Name: "systimer", Addr: r.SysTimer(), Size: sysTimerSize},
		{Name: "dma", Addr: r.DMA(), Size: BlockSize},
		{Name: "intc", Addr: r.LegacyIC(), Size: legacyICSize},
		{Name: "armtimer", Addr: r.ArmTimer(), Size: armTimerSize},
	}

	if r.HasGIC() {
		bb = append(bb,
			Block{Name: "gicd", Addr: r.GICDist(), Size: gicDistSize},
			Block{Name: "gicc", Addr: r.GICCPU(), Size: gicCPUSize})
	}

	return bb
}

func (r Revision) String() string {
	switch r {
	case InvalidRevision:
		return "invalid"

	case BCM2837:
		return "bcm2837"

	case BCM2711:
		return "bcm2711"

	default:
		return fmt.Sprintf("Revision(%d)", int(r))
	}
}
