package gic_test

import (
	"errors"
	"testing"

	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/irq/gic"
	"github.com/c35s/pirq/mmio"
	"github.com/c35s/pirq/sim"
	"github.com/google/go-cmp/cmp"
)

const (
	distBase = 0x1_0000
	cpuBase  = 0x2_0000
)

func newController(t *testing.T, lines int) (*gic.Controller, *sim.GIC, mmio.Regs) {
	t.Helper()

	hw := sim.NewGIC(lines)
	bus := new(mmio.Bus)

	if err := bus.Install("gicd", distBase, 0x1000, hw.Dist()); err != nil {
		t.Fatal(err)
	}

	if err := bus.Install("gicc", cpuBase, 0x1000, hw.CPU()); err != nil {
		t.Fatal(err)
	}

	dist := bus.Window(distBase)
	return gic.New(dist, bus.Window(cpuBase)), hw, dist
}

func TestInit(t *testing.T) {
	c, _, _ := newController(t, 256)

	if err := c.Enable(irq.Timer0); !errors.Is(err, gic.ErrNotInitialized) {
		t.Errorf("enable before init: got %v, want ErrNotInitialized", err)
	}

	if n := c.Lines(); n != 0 {
		t.Errorf("lines before init = %d", n)
	}

	c.Init()

	if n := c.Lines(); n != 256 {
		t.Errorf("lines = %d, want 256", n)
	}

	t.Run("too few lines", func(t *testing.T) {
		c, _, _ := newController(t, 64)
		c.Init()

		if n := c.Lines(); n != 64 {
			t.Fatalf("lines = %d, want 64", n)
		}

		if err := c.Enable(irq.Timer0); !errors.Is(err, irq.ErrNoLine) {
			t.Errorf("enable beyond supported lines: got %v, want ErrNoLine", err)
		}
	})
}

func TestLineRoundTrip(t *testing.T) {
	c, _, _ := newController(t, 256)

	got := map[irq.Device]irq.Line{}
	for _, dev := range irq.Devices {
		id, ok := c.Line(dev)
		if !ok {
			t.Fatalf("%v has no line", dev)
		}

		if back := c.Device(id); back != dev {
			t.Errorf("Device(Line(%v)) = %v", dev, back)
		}

		got[dev] = id
	}

	want := map[irq.Device]irq.Line{
		irq.Timer0:   96,
		irq.Timer1:   97,
		irq.Timer2:   98,
		irq.Timer3:   99,
		irq.ArmTimer: 64,
		irq.Dma:      112,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("line mapping mismatch (-want +got):\n%s", diff)
	}

	if got := c.Device(gic.Spurious); got != irq.Invalid {
		t.Errorf("Device(spurious) = %v", got)
	}
}

func TestTargetAndPriority(t *testing.T) {
	c, _, dist := newController(t, 256)
	c.Init()

	if err := c.SetTargetCPU(irq.Timer0, 0); err != nil {
		t.Fatal(err)
	}

	if err := c.SetTargetCPU(irq.Timer1, 2); err != nil {
		t.Fatal(err)
	}

	// ids 96-99 share one target register, one byte each
	if got := dist.Read32(gic.GICDItargetsr + 96); got != 0x0401 {
		t.Errorf("ITARGETSR24 = %#x, want 0x0401", got)
	}

	if err := c.SetTargetCPU(irq.Timer0, 8); err == nil {
		t.Error("want error for cpu 8")
	}

	if err := c.SetPriority(irq.Timer3, 0x20); err != nil {
		t.Fatal(err)
	}

	if got := dist.Read32(gic.GICDIpriorityr + 96); got != 0x2000_0000 {
		t.Errorf("IPRIORITYR24 = %#x, want 0x20000000", got)
	}
}

func TestFirstPending(t *testing.T) {
	setup := func(t *testing.T, devs ...irq.Device) (*gic.Controller, *sim.GIC) {
		c, hw, _ := newController(t, 256)
		c.Init()

		for _, dev := range devs {
			if err := c.Enable(dev); err != nil {
				t.Fatal(err)
			}

			if err := c.SetTargetCPU(dev, 0); err != nil {
				t.Fatal(err)
			}
		}

		c.EnableDistribution()
		return c, hw
	}

	t.Run("distribution off", func(t *testing.T) {
		c, hw, _ := newController(t, 256)
		c.Init()
		c.Enable(irq.Timer1)
		hw.SetLine(97, true)

		if c.Pending() {
			t.Error("pending before distribution is enabled")
		}
	})

	t.Run("drain", func(t *testing.T) {
		devs := []irq.Device{irq.Timer0, irq.Timer1, irq.Timer3, irq.ArmTimer}
		c, hw := setup(t, devs...)

		for _, dev := range devs {
			id, _ := c.Line(dev)
			hw.SetLine(int(id), true)
		}

		if !c.Pending() {
			t.Fatal("nothing pending")
		}

		var (
			got   []irq.Device
			reads int
		)

		for {
			reads++
			id, ok := c.FirstPending()
			if !ok {
				break
			}

			if !hw.Active(int(id)) {
				t.Errorf("id %d not active after acknowledge", id)
			}

			got = append(got, c.Device(id))
			hw.SetLine(int(id), false)
			c.EndOfInterrupt(id)

			if hw.Active(int(id)) {
				t.Errorf("id %d still active after EOI", id)
			}
		}

		if reads != len(devs)+1 {
			t.Errorf("drained in %d reads, want %d", reads, len(devs)+1)
		}

		// equal priorities go lowest id first
		want := []irq.Device{irq.ArmTimer, irq.Timer0, irq.Timer1, irq.Timer3}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("service order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("active is not redelivered", func(t *testing.T) {
		c, hw := setup(t, irq.Dma)
		hw.SetLine(int(gic.LineDMA0), true)

		id, ok := c.FirstPending()
		if !ok || id != gic.LineDMA0 {
			t.Fatalf("FirstPending = %d, %v", id, ok)
		}

		if _, ok := c.FirstPending(); ok {
			t.Error("active id delivered again before EOI")
		}

		// source still high, so it comes back after EOI
		c.EndOfInterrupt(id)
		if id, ok := c.FirstPending(); !ok || id != gic.LineDMA0 {
			t.Errorf("FirstPending after EOI = %d, %v", id, ok)
		}
	})

	t.Run("priority", func(t *testing.T) {
		c, hw := setup(t, irq.Timer1, irq.Timer3)
		c.SetPriority(irq.Timer1, 0x80)
		c.SetPriority(irq.Timer3, 0x10)

		hw.SetLine(97, true)
		hw.SetLine(99, true)

		id, _ := c.FirstPending()
		if id != gic.LineTimer3 {
			t.Errorf("FirstPending = %d, want %d", id, gic.LineTimer3)
		}
	})
}
