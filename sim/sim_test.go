package sim_test

import (
	"testing"

	"github.com/c35s/pirq/mmio"
	"github.com/google/go-cmp/cmp"
)

// regsOf returns a register view of a single handler.
func regsOf(t *testing.T, h mmio.Handler) mmio.Regs {
	t.Helper()

	bus := new(mmio.Bus)
	if err := bus.Install(t.Name(), 0x1000, 0x1000, h); err != nil {
		t.Fatal(err)
	}

	return bus.Window(0x1000)
}

type lineEvent struct {
	N     int
	Level bool
}

// lineLog records output changes.
type lineLog struct {
	events []lineEvent
}

func (l *lineLog) set(n int, level bool) {
	l.events = append(l.events, lineEvent{n, level})
}

func (l *lineLog) expect(t *testing.T, want ...lineEvent) {
	t.Helper()

	if diff := cmp.Diff(want, l.events); diff != "" {
		t.Errorf("line events mismatch (-want +got):\n%s", diff)
	}

	l.events = nil
}
