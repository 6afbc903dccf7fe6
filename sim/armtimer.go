package sim

import "sync"

// ARM timer register offsets.
const (
	atLoad      = 0x00
	atValue     = 0x04
	atControl   = 0x08
	atIRQClear  = 0x0c
	atRawIRQ    = 0x10
	atMaskedIRQ = 0x14
	atReload    = 0x18
	atPrediv    = 0x1c
	atFreeRun   = 0x20
)

// ARM timer control bits.
const (
	atCtl32Bit    = 1 << 1
	atCtlIntEn    = 1 << 5
	atCtlEnabled  = 1 << 7
	atCtlFreeRun  = 1 << 9
	atCtlPrescale = 3 << 2

	// reset value: interrupt enabled, free-running prescaler 0x3e
	atCtlReset = 0x003e_0020
)

// ArmTimer emulates the SP804-derived ARM timer. One tick is one timer
// clock before the prescaler.
type ArmTimer struct {
	mu sync.Mutex

	load    uint32
	value   uint32
	reload  uint32
	control uint32
	prediv  uint32
	raw     bool

	free    uint32
	freeAcc uint64
	acc     uint64

	line LineFunc
}

// NewArmTimer returns an ARM timer that reports its single output to line.
func NewArmTimer(line LineFunc) *ArmTimer {
	if line == nil {
		line = nopLine
	}

	return &ArmTimer{
		control: atCtlReset,
		prediv:  0x7d,
		line:    line,
	}
}

// RawIRQ reports whether the countdown has reached zero since the last clear.
func (t *ArmTimer) RawIRQ() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.raw
}

// Step advances the timer by ticks clocks.
func (t *ArmTimer) Step(ticks uint64) {
	t.mu.Lock()
	before := t.masked()

	if t.control&atCtlFreeRun != 0 {
		div := uint64(t.control>>16&0xff) + 1
		t.freeAcc += ticks
		t.free += uint32(t.freeAcc / div)
		t.freeAcc %= div
	}

	if t.control&atCtlEnabled != 0 {
		div := t.prescale()
		t.acc += ticks
		n := t.acc / div
		t.acc %= div
		t.countDown(n)
	}

	after := t.masked()
	t.mu.Unlock()

	if after != before {
		t.line(0, after)
	}
}

// countDown decrements the counter by n clocks. Reaching zero raises the
// interrupt and reloads the counter.
func (t *ArmTimer) countDown(n uint64) {
	for n > 0 {
		if uint64(t.value) > n {
			t.value -= uint32(n)
			return
		}

		n -= uint64(t.value)
		t.raw = true
		t.value = t.width(t.reload)

		if t.value == 0 {
			return
		}

		n %= uint64(t.value)
	}
}

func (t *ArmTimer) prescale() uint64 {
	switch t.control & atCtlPrescale >> 2 {
	case 1:
		return 16

	case 2:
		return 256

	default:
		return 1
	}
}

func (t *ArmTimer) width(v uint32) uint32 {
	if t.control&atCtl32Bit == 0 {
		return v & 0xffff
	}

	return v
}

func (t *ArmTimer) masked() bool {
	return t.raw && t.control&atCtlIntEn != 0
}

func (t *ArmTimer) ReadMMIO(off int, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var v uint32
	switch off {
	case atLoad:
		v = t.load

	case atValue:
		v = t.value

	case atControl:
		v = t.control

	case atRawIRQ:
		v = b2u(t.raw)

	case atMaskedIRQ:
		v = b2u(t.masked())

	case atReload:
		v = t.reload

	case atPrediv:
		v = t.prediv

	case atFreeRun:
		v = t.free
	}

	return put32(off, p, v)
}

func (t *ArmTimer) WriteMMIO(off int, p []byte) error {
	v, err := get32(off, p)
	if err != nil {
		return err
	}

	t.mu.Lock()
	before := t.masked()

	switch off {
	case atLoad:
		// writing LOAD restarts the countdown immediately
		t.load = v
		t.reload = v
		t.value = v
		t.acc = 0

	case atControl:
		t.control = v

	case atIRQClear:
		t.raw = false

	case atReload:
		t.reload = v

	case atPrediv:
		t.prediv = v & 0x3ff
	}

	after := t.masked()
	t.mu.Unlock()

	if after != before {
		t.line(0, after)
	}

	return nil
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
