package sim

import (
	"sync"

	"github.com/c35s/pirq/irq/legacy"
)

// IntC emulates the BCM2835 interrupt controller. Pending bits are the
// enabled subset of the levels driven by the peripherals, so a line drops
// as soon as its peripheral clears its own condition.
type IntC struct {
	mu sync.Mutex

	level       [2]uint32
	levelBasic  uint32
	enable      [2]uint32
	enableBasic uint32
	fiq         uint32
}

// SetGPU drives GPU line n (0-63).
func (c *IntC) SetGPU(n int, level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	setBit(&c.level[n/32], n%32, level)
}

// SetBasic drives basic line n (0-7).
func (c *IntC) SetBasic(n int, level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	setBit(&c.levelBasic, n, level)
}

// Asserted reports whether the controller is signalling IRQ to the core.
func (c *IntC) Asserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.basicPending() != 0
}

func (c *IntC) pending(i int) uint32 {
	return c.level[i] & c.enable[i]
}

func (c *IntC) basicPending() uint32 {
	v := c.levelBasic & c.enableBasic & 0xff
	if c.pending(0) != 0 {
		v |= legacy.BasicPending1
	}

	if c.pending(1) != 0 {
		v |= legacy.BasicPending2
	}

	return v
}

func (c *IntC) ReadMMIO(off int, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var v uint32
	switch off {
	case legacy.RegBasicPending:
		v = c.basicPending()

	case legacy.RegPending1:
		v = c.pending(0)

	case legacy.RegPending2:
		v = c.pending(1)

	case legacy.RegFIQControl:
		v = c.fiq

	case legacy.RegEnable1, legacy.RegDisable1:
		v = c.enable[0]

	case legacy.RegEnable2, legacy.RegDisable2:
		v = c.enable[1]

	case legacy.RegEnableBasic, legacy.RegDisableBasic:
		v = c.enableBasic
	}

	return put32(off, p, v)
}

func (c *IntC) WriteMMIO(off int, p []byte) error {
	v, err := get32(off, p)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch off {
	case legacy.RegFIQControl:
		c.fiq = v

	case legacy.RegEnable1:
		c.enable[0] |= v

	case legacy.RegEnable2:
		c.enable[1] |= v

	case legacy.RegEnableBasic:
		c.enableBasic |= v & 0xff

	case legacy.RegDisable1:
		c.enable[0] &^= v

	case legacy.RegDisable2:
		c.enable[1] &^= v

	case legacy.RegDisableBasic:
		c.enableBasic &^= v
	}

	return nil
}

func setBit(w *uint32, n int, level bool) {
	if level {
		*w |= 1 << n
	} else {
		*w &^= 1 << n
	}
}

// SetLine drives a line in the controller's combined numbering: GPU lines
// 0-63 followed by the basic lines.
func (c *IntC) SetLine(id int, level bool) {
	switch {
	case id < legacy.GPULines:
		c.SetGPU(id, level)

	case id < legacy.NumLines:
		c.SetBasic(id-legacy.BasicBase, level)
	}
}
