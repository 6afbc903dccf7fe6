package sim

import "sync"

// System timer register offsets.
const (
	stCS  = 0x00
	stCLO = 0x04
	stCHI = 0x08
	stC0  = 0x0c
	stC3  = 0x18
)

// SysTimer emulates the free-running 1MHz system timer and its four
// compare channels. Channel n drives output n while its CS match bit is set.
type SysTimer struct {
	mu sync.Mutex

	count uint64
	cmp   [4]uint32
	match uint32

	line LineFunc
}

// NewSysTimer returns a system timer that reports its outputs to line.
func NewSysTimer(line LineFunc) *SysTimer {
	if line == nil {
		line = nopLine
	}

	return &SysTimer{line: line}
}

// Count returns the 64-bit counter.
func (t *SysTimer) Count() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

// Step advances the counter by ticks microseconds. A channel matches when
// the low word of the counter passes its compare value.
func (t *SysTimer) Step(ticks uint64) {
	if ticks == 0 {
		return
	}

	t.mu.Lock()
	lo := uint32(t.count)
	t.count += ticks

	var raised uint32
	for ch, c := range t.cmp {
		// distance from the old low word to the compare value, with wrap
		d := c - lo
		if ticks >= 1<<32 || (d != 0 && uint64(d) <= ticks) {
			raised |= 1 << ch
		}
	}

	raised &^= t.match
	t.match |= raised
	t.mu.Unlock()

	t.notify(raised, true)
}

func (t *SysTimer) ReadMMIO(off int, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var v uint32
	switch {
	case off == stCS:
		v = t.match

	case off == stCLO:
		v = uint32(t.count)

	case off == stCHI:
		v = uint32(t.count >> 32)

	case off >= stC0 && off <= stC3:
		v = t.cmp[(off-stC0)/4]
	}

	return put32(off, p, v)
}

func (t *SysTimer) WriteMMIO(off int, p []byte) error {
	v, err := get32(off, p)
	if err != nil {
		return err
	}

	var cleared uint32

	t.mu.Lock()
	switch {
	case off == stCS:
		cleared = t.match & v & 0xf
		t.match &^= cleared

	case off >= stC0 && off <= stC3:
		t.cmp[(off-stC0)/4] = v
	}
	t.mu.Unlock()

	t.notify(cleared, false)
	return nil
}

func (t *SysTimer) notify(mask uint32, level bool) {
	for ch := 0; ch < 4; ch++ {
		if mask&(1<<ch) != 0 {
			t.line(ch, level)
		}
	}
}
