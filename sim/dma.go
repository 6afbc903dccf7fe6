package sim

import "sync"

// DMA register layout.
const (
	DMAChannels = 15

	dmaChannelSize = 0x100
	dmaCS          = 0x00
	dmaConblkAd    = 0x04
	dmaIntStatus   = 0xfe0
	dmaEnable      = 0xff0
)

// DMA CS bits.
const (
	dmaActive = 1 << 0
	dmaEnd    = 1 << 1
	dmaInt    = 1 << 2
	dmaError  = 1 << 8
	dmaAbort  = 1 << 30
	dmaReset  = 1 << 31
)

// DefaultDMALatency is the number of ticks a transfer takes to complete.
const DefaultDMALatency = 100

// DMA emulates the DMA controller's channel status registers. Control
// blocks are not fetched: a started transfer completes after Latency ticks
// and always raises its interrupt. Channel n drives output n.
type DMA struct {
	mu sync.Mutex

	ch     [DMAChannels]dmaChannel
	enable uint32

	// Latency is read when a transfer starts.
	Latency uint64

	line  LineFunc
	level uint32
}

type dmaChannel struct {
	cs     uint32
	conblk uint32
	left   uint64
}

// NewDMA returns a DMA controller that reports its output to line.
func NewDMA(line LineFunc) *DMA {
	if line == nil {
		line = nopLine
	}

	return &DMA{
		enable:  1<<DMAChannels - 1,
		Latency: DefaultDMALatency,
		line:    line,
	}
}

// Fail terminates the transfer on ch with an error. The error bit stays set
// until the channel is reset.
func (d *DMA) Fail(ch int) {
	d.mu.Lock()
	c := &d.ch[ch]
	c.cs = c.cs&^dmaActive | dmaError
	c.left = 0
	d.mu.Unlock()
}

// Busy reports whether a transfer is in flight on ch.
func (d *DMA) Busy(ch int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ch[ch].cs&dmaActive != 0
}

// Step advances every active transfer by ticks.
func (d *DMA) Step(ticks uint64) {
	d.mu.Lock()
	for i := range d.ch {
		c := &d.ch[i]
		if c.cs&dmaActive == 0 {
			continue
		}

		if c.left > ticks {
			c.left -= ticks
			continue
		}

		c.left = 0
		c.cs = c.cs&^dmaActive | dmaEnd | dmaInt
	}

	d.update()
}

func (d *DMA) intStatus() uint32 {
	var v uint32
	for i, c := range d.ch {
		if c.cs&dmaInt != 0 {
			v |= 1 << i
		}
	}

	return v
}

// update unlocks d and reports every channel output that changed.
func (d *DMA) update() {
	level := d.intStatus()
	changed := level ^ d.level
	d.level = level
	d.mu.Unlock()

	for ch := 0; ch < DMAChannels; ch++ {
		if changed&(1<<ch) != 0 {
			d.line(ch, level&(1<<ch) != 0)
		}
	}
}

func (d *DMA) ReadMMIO(off int, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var v uint32
	switch {
	case off == dmaIntStatus:
		v = d.intStatus()

	case off == dmaEnable:
		v = d.enable

	case off < DMAChannels*dmaChannelSize:
		c := &d.ch[off/dmaChannelSize]
		switch off % dmaChannelSize {
		case dmaCS:
			v = c.cs

		case dmaConblkAd:
			v = c.conblk
		}
	}

	return put32(off, p, v)
}

func (d *DMA) WriteMMIO(off int, p []byte) error {
	v, err := get32(off, p)
	if err != nil {
		return err
	}

	d.mu.Lock()
	switch {
	case off == dmaIntStatus:
		// writing a 1 clears the channel's INT bit
		for i := range d.ch {
			if v&(1<<i) != 0 {
				d.ch[i].cs &^= dmaInt
			}
		}

	case off == dmaEnable:
		d.enable = v & (1<<DMAChannels - 1)

	case off < DMAChannels*dmaChannelSize:
		n := off / dmaChannelSize
		c := &d.ch[n]

		switch off % dmaChannelSize {
		case dmaCS:
			d.writeCS(n, c, v)

		case dmaConblkAd:
			c.conblk = v
		}
	}

	d.update()
	return nil
}

func (d *DMA) writeCS(n int, c *dmaChannel, v uint32) {
	if v&dmaReset != 0 {
		*c = dmaChannel{}
		return
	}

	c.cs &^= v & (dmaEnd | dmaInt)

	if v&dmaAbort != 0 {
		c.cs &^= dmaActive
		c.left = 0
		return
	}

	if v&dmaActive != 0 && c.cs&dmaActive == 0 {
		if d.enable&(1<<n) == 0 || c.conblk == 0 {
			return
		}

		c.cs |= dmaActive
		c.left = d.Latency
	}
}
