//go:build linux

package mmio

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem is the path of the physical memory device.
const DevMem = "/dev/mem"

var (
	ErrOpen  = errors.New("mmio: open physical memory failed")
	ErrMap   = errors.New("mmio: map failed")
	ErrRange = errors.New("mmio: offset out of range")
)

// Mapping is a mapped window of physical memory.
// Register accesses are single aligned 32-bit loads and stores.
type Mapping struct {
	mem  []byte
	skew int // distance from the page-aligned mapping start to the requested base
}

// OpenDevMem maps size bytes of physical memory starting at base.
// base need not be page aligned.
func OpenDevMem(base uint64, size int) (*Mapping, error) {
	fd, err := unix.Open(DevMem, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	defer unix.Close(fd)

	pgsz := uint64(os.Getpagesize())
	aligned := base &^ (pgsz - 1)
	skew := int(base - aligned)

	mem, err := unix.Mmap(fd, int64(aligned), skew+size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)

	if err != nil {
		return nil, fmt.Errorf("%w: base %#x: %w", ErrMap, base, err)
	}

	return &Mapping{mem: mem, skew: skew}, nil
}

func (m *Mapping) Read32(off uint32) uint32 {
	return atomic.LoadUint32(m.reg(off))
}

func (m *Mapping) Write32(off uint32, v uint32) {
	atomic.StoreUint32(m.reg(off), v)
}

// Len returns the usable size of the mapping in bytes.
func (m *Mapping) Len() int {
	return len(m.mem) - m.skew
}

func (m *Mapping) Close() error {
	if m.mem == nil {
		return nil
	}

	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}

func (m *Mapping) reg(off uint32) *uint32 {
	i := m.skew + int(off)
	if off&3 != 0 || i+4 > len(m.mem) {
		panic(fmt.Errorf("%w: %#x", ErrRange, off))
	}

	return (*uint32)(unsafe.Pointer(&m.mem[i]))
}

// DevMemSpace maps windows of physical memory on demand. Close unmaps
// every window it handed out.
type DevMemSpace struct {
	maps []*Mapping
}

var _ Space = (*DevMemSpace)(nil)

func (s *DevMemSpace) Map(addr, size uint64) (Regs, error) {
	m, err := OpenDevMem(addr, int(size))
	if err != nil {
		return nil, err
	}

	s.maps = append(s.maps, m)
	return m, nil
}

func (s *DevMemSpace) Close() error {
	var errs []error
	for _, m := range s.maps {
		errs = append(errs, m.Close())
	}

	s.maps = nil
	return errors.Join(errs...)
}
