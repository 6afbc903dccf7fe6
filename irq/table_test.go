package irq_test

import (
	"errors"
	"testing"

	"github.com/c35s/pirq/irq"
	"github.com/google/go-cmp/cmp"
)

var nopHandler = irq.HandlerFunc(func(irq.Line) {})

func TestNewTable(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		rr := make([]irq.Record, irq.MaxRecords+1)
		for i := range rr {
			rr[i] = irq.Record{Handler: nopHandler, Sources: []irq.Device{irq.Dma}}
		}

		if _, err := irq.NewTable(rr...); !errors.Is(err, irq.ErrTableFull) {
			t.Errorf("error isn't ErrTableFull: %v", err)
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		_, err := irq.NewTable(irq.Record{Sources: []irq.Device{irq.Dma}})
		if !errors.Is(err, irq.ErrNilHandler) {
			t.Errorf("error isn't ErrNilHandler: %v", err)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		_, err := irq.NewTable(irq.Record{Handler: nopHandler})
		if !errors.Is(err, irq.ErrNoSources) {
			t.Errorf("error isn't ErrNoSources: %v", err)
		}
	})

	t.Run("sources copied", func(t *testing.T) {
		src := []irq.Device{irq.Timer1}
		tab, err := irq.NewTable(irq.Record{Handler: nopHandler, Sources: src})
		if err != nil {
			t.Fatal(err)
		}

		src[0] = irq.Dma
		if n := len(tab.Lookup(irq.Timer1)); n != 1 {
			t.Errorf("table changed with caller's slice: %d handlers", n)
		}
	})
}

func TestTableLookup(t *testing.T) {
	var a, b, c irq.Handler = &recorder{name: "a"}, &recorder{name: "b"}, &recorder{name: "c"}

	tab, err := irq.NewTable(
		irq.Record{Handler: a, Sources: []irq.Device{irq.Timer1, irq.Timer3}},
		irq.Record{Handler: b, Sources: []irq.Device{irq.ArmTimer}},
		irq.Record{Handler: c, Sources: []irq.Device{irq.Timer3, irq.Dma}},
	)

	if err != nil {
		t.Fatal(err)
	}

	if tab.Len() != 3 {
		t.Errorf("len %d", tab.Len())
	}

	if hh := tab.Lookup(irq.Timer3); len(hh) != 2 || hh[0] != a || hh[1] != c {
		t.Errorf("timer3 handlers %v", hh)
	}

	if hh := tab.Lookup(irq.Timer0); len(hh) != 0 {
		t.Errorf("timer0 handlers %v", hh)
	}

	want := []irq.Device{irq.Timer1, irq.Timer3, irq.ArmTimer, irq.Dma}
	if diff := cmp.Diff(want, tab.Sources()); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}
}

func TestDeviceString(t *testing.T) {
	var got []string
	for _, d := range append([]irq.Device{irq.Invalid}, irq.Devices...) {
		got = append(got, d.String())
	}

	got = append(got, irq.Device(42).String())

	want := []string{"invalid", "timer0", "timer1", "timer2", "timer3", "armtimer", "dma", "Device(42)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
