//go:build linux

// irq-probe prints the state of the live interrupt controller. It maps the
// controller's registers through /dev/mem and must run as root on the board.
package main

import (
	"flag"
	"fmt"

	"github.com/c35s/pirq/board"
	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/irq/gic"
	"github.com/c35s/pirq/irq/legacy"
	"github.com/c35s/pirq/mmio"
)

func main() {
	boardName := flag.String("board", "bcm2711", "probe `board` (bcm2837 or bcm2711)")
	flag.Parse()

	rev, err := board.ParseRevision(*boardName)
	if err != nil {
		panic(err)
	}

	var space mmio.DevMemSpace
	defer space.Close()

	regs, err := mapBlock(&space, rev, "intc")
	if err != nil {
		panic(err)
	}

	fmt.Println("# legacy controller")
	for _, r := range []struct {
		name string
		off  uint32
	}{
		{"basic pending", legacy.RegBasicPending},
		{"pending 1", legacy.RegPending1},
		{"pending 2", legacy.RegPending2},
		{"enable 1", legacy.RegEnable1},
		{"enable 2", legacy.RegEnable2},
		{"enable basic", legacy.RegEnableBasic},
	} {
		fmt.Printf("%-14s %08x\n", r.name, regs.Read32(r.off))
	}

	if !rev.HasGIC() {
		return
	}

	dist, err := mapBlock(&space, rev, "gicd")
	if err != nil {
		panic(err)
	}

	cpu, err := mapBlock(&space, rev, "gicc")
	if err != nil {
		panic(err)
	}

	g := gic.New(dist, cpu)
	g.Init()

	fmt.Println("\n# gic")
	fmt.Printf("lines: %d\n", g.Lines())
	fmt.Printf("pending: %v\n", g.Pending())

	for _, dev := range irq.Devices {
		id, _ := g.Line(dev)
		fmt.Printf("%-8v id %3d enabled %v\n", dev, id, g.IsEnabled(id))
	}
}

func mapBlock(space mmio.Space, rev board.Revision, name string) (mmio.Regs, error) {
	for _, b := range rev.Blocks() {
		if b.Name == name {
			return space.Map(b.Addr, b.Size)
		}
	}

	return nil, fmt.Errorf("%v has no %s block", rev, name)
}
