// Package mmio provides 32-bit register access to memory-mapped peripherals,
// either through an emulated bus or through a mapping of physical memory.
package mmio

import (
	"encoding/binary"
	"log/slog"
	"sort"

	"golang.org/x/sys/unix"
)

// Regs is a window of 32-bit registers addressed by byte offset.
type Regs interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Handler emulates a register block. Offsets are relative to the block's base.
type Handler interface {
	ReadMMIO(off int, p []byte) error
	WriteMMIO(off int, p []byte) error
}

// DeviceInfo describes a block installed on the bus.
type DeviceInfo struct {
	Name string
	Addr uint64
	Size uint64
}

// Bus routes physical addresses to the installed handlers.
type Bus struct {

	// Logger receives diagnostics about accesses made through windows.
	// If Logger is nil, slog.Default() is used.
	Logger *slog.Logger

	devices []*device
}

type device struct {
	info    DeviceInfo
	handler Handler
}

var le = binary.LittleEndian

// Install adds a handler for the window [addr, addr+size).
// It returns EEXIST if the window overlaps an installed one.
func (b *Bus) Install(name string, addr, size uint64, h Handler) error {
	if size == 0 {
		return unix.EINVAL
	}

	for _, d := range b.devices {
		if addr < d.info.Addr+d.info.Size && d.info.Addr < addr+size {
			return unix.EEXIST
		}
	}

	b.devices = append(b.devices, &device{
		info:    DeviceInfo{Name: name, Addr: addr, Size: size},
		handler: h,
	})

	sort.Slice(b.devices, func(i, j int) bool {
		return b.devices[i].info.Addr < b.devices[j].info.Addr
	})

	return nil
}

// HandleMMIO routes an MMIO access to the appropriate device.
// It returns (found=false, err=nil) if no device is found.
func (b *Bus) HandleMMIO(addr uint64, data []byte, isWrite bool) (found bool, err error) {
	var dev *device
	for _, d := range b.devices {
		if addr >= d.info.Addr && addr < d.info.Addr+d.info.Size {
			dev = d
			break
		}
	}

	if dev == nil {
		return false, nil
	}

	off := int(addr - dev.info.Addr)
	if isWrite {
		return true, dev.handler.WriteMMIO(off, data)
	}

	return true, dev.handler.ReadMMIO(off, data)
}

// Devices returns a slice describing the installed devices, ordered by address.
func (b *Bus) Devices() []DeviceInfo {
	dd := make([]DeviceInfo, len(b.devices))
	for i, d := range b.devices {
		dd[i] = d.info
	}

	return dd
}

// Window returns a register view of the bus starting at base.
func (b *Bus) Window(base uint64) Regs {
	return &window{bus: b, base: base}
}

type window struct {
	bus  *Bus
	base uint64
}

func (w *window) Read32(off uint32) uint32 {
	var p [4]byte
	addr := w.base + uint64(off)

	found, err := w.bus.HandleMMIO(addr, p[:], false)
	if !found {
		w.bus.log().Warn("mmio read from unmapped address", "addr", addr)
		return 0
	}

	if err != nil {
		w.bus.log().Error("mmio read failed", "addr", addr, "err", err)
		return 0
	}

	return le.Uint32(p[:])
}

func (w *window) Write32(off uint32, v uint32) {
	var p [4]byte
	addr := w.base + uint64(off)
	le.PutUint32(p[:], v)

	found, err := w.bus.HandleMMIO(addr, p[:], true)
	if !found {
		w.bus.log().Warn("mmio write to unmapped address", "addr", addr, "value", v)
		return
	}

	if err != nil {
		w.bus.log().Error("mmio write failed", "addr", addr, "value", v, "err", err)
	}
}

func (b *Bus) log() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}

	return b.Logger
}

// Space maps physical register windows.
type Space interface {
	Map(addr, size uint64) (Regs, error)
}

var _ Space = (*Bus)(nil)

// Map returns a register view of [addr, addr+size). It returns ENXIO if no
// installed device covers the window's first register.
func (b *Bus) Map(addr, size uint64) (Regs, error) {
	if size == 0 {
		return nil, unix.EINVAL
	}

	for _, d := range b.devices {
		if addr >= d.info.Addr && addr < d.info.Addr+d.info.Size {
			return b.Window(addr), nil
		}
	}

	return nil, unix.ENXIO
}
