package kernel_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c35s/pirq/board"
	"github.com/c35s/pirq/exception"
	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/kernel"
	"github.com/c35s/pirq/mmio"
	"github.com/c35s/pirq/sim"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var revisions = []board.Revision{board.BCM2837, board.BCM2711}

// logBuffer is a bytes.Buffer that can be written from interrupt context
// while the test reads it.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type harness struct {
	k      *kernel.Kernel
	b      *sim.Board
	events chan kernel.Event
	log    *logBuffer
	done   chan error
	cancel context.CancelFunc
}

func boot(t *testing.T, rev board.Revision, cfg kernel.Config) *harness {
	t.Helper()

	b, err := sim.New(rev)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		b:      b,
		events: make(chan kernel.Event, 64),
		log:    new(logBuffer),
		done:   make(chan error, 1),
	}

	cfg.Revision = rev
	cfg.Space = b
	cfg.CPU = b.Core
	cfg.State = new(irq.State)
	cfg.Logger = slog.New(slog.NewTextHandler(h.log, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg.OnEvent = func(e kernel.Event) { h.events <- e }

	h.k, err = kernel.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() { h.done <- h.k.Run(ctx) }()
	t.Cleanup(h.stop)

	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

// next steps the board by tick until an event arrives. An IRQ raised while
// the main loop is inside its critical section is only taken on a later
// step, so the board keeps stepping.
func (h *harness) next(t *testing.T, tick uint64) kernel.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		h.b.Step(tick)

		select {
		case e := <-h.events:
			return e

		case <-deadline:
			t.Fatalf("no event after %d ticks\n%s", h.b.Ticks(), h.log)
			return kernel.Event{}

		case <-time.After(time.Millisecond):
		}
	}
}

// quiet checks that no event arrives for a while.
func (h *harness) quiet(t *testing.T) {
	t.Helper()

	for i := 0; i < 20; i++ {
		h.b.Step(0)
		select {
		case e := <-h.events:
			t.Fatalf("unexpected event %v", e)

		case <-time.After(time.Millisecond):
		}
	}
}

func TestConfig(t *testing.T) {
	b, _ := sim.New(board.BCM2711)

	for _, tc := range []struct {
		name string
		cfg  kernel.Config
	}{
		{"no revision", kernel.Config{Space: b, CPU: b.Core, State: new(irq.State)}},
		{"no space", kernel.Config{Revision: board.BCM2711, CPU: b.Core, State: new(irq.State)}},
		{"no cpu", kernel.Config{Revision: board.BCM2711, Space: b, State: new(irq.State)}},
		{"bad timer", kernel.Config{Revision: board.BCM2711, Space: b, CPU: b.Core, State: new(irq.State), TimerChannels: []int{4}}},
		{"bad dma", kernel.Config{Revision: board.BCM2711, Space: b, CPU: b.Core, State: new(irq.State), DMAChannels: []int{15}}},
		{"dma without source", kernel.Config{Revision: board.BCM2711, Space: b, CPU: b.Core, State: new(irq.State), DMAChannels: []int{0, 5}}},
	} {
		if _, err := kernel.New(tc.cfg); !errors.Is(err, kernel.ErrConfig) {
			t.Errorf("%s: got %v, want ErrConfig", tc.name, err)
		}
	}
}

func TestInstallOnce(t *testing.T) {
	b, _ := sim.New(board.BCM2837)
	st := new(irq.State)

	cfg := kernel.Config{Revision: board.BCM2837, Space: b, CPU: b.Core, State: st}
	if _, err := kernel.New(cfg); err != nil {
		t.Fatal(err)
	}

	if _, err := kernel.New(cfg); !errors.Is(err, kernel.ErrRegister) || !errors.Is(err, irq.ErrInstalled) {
		t.Errorf("second boot: got %v, want ErrRegister wrapping ErrInstalled", err)
	}
}

func TestTooFewLines(t *testing.T) {
	rev := board.BCM2711
	g := sim.NewGIC(64)

	handlers := map[string]mmio.Handler{
		"systimer": sim.NewSysTimer(nil),
		"dma":      sim.NewDMA(nil),
		"intc":     new(sim.IntC),
		"armtimer": sim.NewArmTimer(nil),
		"gicd":     g.Dist(),
		"gicc":     g.CPU(),
	}

	bus := new(mmio.Bus)
	for _, blk := range rev.Blocks() {
		if err := bus.Install(blk.Name, blk.Addr, blk.Size, handlers[blk.Name]); err != nil {
			t.Fatal(err)
		}
	}

	st := new(irq.State)
	_, err := kernel.New(kernel.Config{Revision: rev, Space: bus, CPU: sim.NewCore(), State: st})
	if !errors.Is(err, kernel.ErrEnable) || !errors.Is(err, irq.ErrNoLine) {
		t.Errorf("got %v, want ErrEnable wrapping ErrNoLine", err)
	}

	if st.Installed() {
		t.Error("state installed by a failed boot")
	}
}

func TestWrongSpace(t *testing.T) {
	b, _ := sim.New(board.BCM2837)

	// a Pi 3 bus has no GIC to map
	_, err := kernel.New(kernel.Config{Revision: board.BCM2711, Space: b, CPU: b.Core, State: new(irq.State)})
	if !errors.Is(err, kernel.ErrController) {
		t.Errorf("got %v, want ErrController", err)
	}
}

type failSpace struct {
	err error
}

func (s failSpace) Map(uint64, uint64) (mmio.Regs, error) {
	return nil, s.err
}

func TestMapError(t *testing.T) {
	boom := errors.New("boom")
	c := sim.NewCore()

	k, err := kernel.New(kernel.Config{
		Revision: board.BCM2837,
		Space:    failSpace{boom},
		CPU:      c,
		State:    new(irq.State),
	})

	if k != nil {
		t.Fatalf("kernel is present: %v", k)
	}

	if !errors.Is(err, kernel.ErrController) {
		t.Errorf("error isn't ErrController: %v", err)
	}

	if !errors.Is(err, boom) {
		t.Errorf("no boom: %v", err)
	}
}

func TestArmTimer(t *testing.T) {
	for _, rev := range revisions {
		t.Run(rev.String(), func(t *testing.T) {
			h := boot(t, rev, kernel.Config{
				Period:       100_000_000,
				ArmTimerLoad: 1_000_000,
			})

			h.b.Step(999_999)
			h.quiet(t)

			h.b.Step(1)
			e := h.next(t, 0)
			if e.Device != irq.ArmTimer {
				t.Fatalf("event = %v, want arm timer", e)
			}

			if h.b.ArmTimer.RawIRQ() {
				t.Error("arm timer interrupt not cleared")
			}

			// one expiry, one event
			h.quiet(t)

			if h.b.Ticks() != 1_000_000 {
				t.Errorf("fired at %d ticks", h.b.Ticks())
			}
		})
	}
}

func TestSysTimer(t *testing.T) {
	for _, rev := range revisions {
		t.Run(rev.String(), func(t *testing.T) {
			h := boot(t, rev, kernel.Config{
				Period:       1000,
				ArmTimerLoad: 0xffff_ffff,
			})

			var got []int
			for len(got) < 6 {
				e := h.next(t, 500)
				if e.Device != irq.Timer1 && e.Device != irq.Timer3 {
					t.Fatalf("unexpected event %v", e)
				}

				got = append(got, e.Channel)
			}

			// both channels keep firing after being re-armed
			var ones, threes int
			for _, ch := range got {
				switch ch {
				case 1:
					ones++
				case 3:
					threes++
				}
			}

			if ones < 2 || threes < 2 {
				t.Errorf("channels = %v", got)
			}
		})
	}
}

func TestDMA(t *testing.T) {
	for _, rev := range revisions {
		t.Run(rev.String(), func(t *testing.T) {
			h := boot(t, rev, kernel.Config{
				Period:       100_000_000,
				ArmTimerLoad: 0xffff_ffff,
			})

			if err := h.k.StartDMA(0, 0xc000_0000); err != nil {
				t.Fatal(err)
			}

			h.b.Step(sim.DefaultDMALatency)
			e := h.next(t, 0)
			want := kernel.Event{Device: irq.Dma, Channel: 0}
			if diff := cmp.Diff(want, e, cmpopts.IgnoreFields(kernel.Event{}, "Time")); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}

			if err := h.k.StartDMA(3, 0xc000_0000); !errors.Is(err, kernel.ErrConfig) {
				t.Errorf("start on disabled channel: got %v, want ErrConfig", err)
			}

			// channel 5 raises its own line, which is never enabled
			if err := h.k.DMA().Enable(5); err != nil {
				t.Fatal(err)
			}

			if err := h.k.DMA().Start(5, 0xc000_0000); err != nil {
				t.Fatal(err)
			}

			h.b.Step(sim.DefaultDMALatency)
			h.quiet(t)
		})
	}
}

func TestFault(t *testing.T) {
	h := boot(t, board.BCM2711, kernel.Config{})

	h.b.Core.Raise(exception.CurrentSPx, exception.Synchronous, 0x9600_0007, sim.IdlePC)

	select {
	case err := <-h.done:
		if !errors.Is(err, kernel.ErrHalted) {
			t.Errorf("Run returned %v, want ErrHalted", err)
		}

		h.done <- err

	case <-time.After(2 * time.Second):
		t.Fatal("kernel did not stop after a fatal exception")
	}

	if !strings.Contains(h.log.String(), "unexpected exception") {
		t.Errorf("fault not logged:\n%s", h.log)
	}
}
