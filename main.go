package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/c35s/pirq/board"
	"github.com/c35s/pirq/console"
	"github.com/c35s/pirq/exception"
	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/kernel"
	"github.com/c35s/pirq/sim"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const (
	// dmaBlock is the bus address handed to the DMA controller by -dma.
	dmaBlock = 0xc000_0100

	// esrDataAbort is ESR_EL1 for a translation fault on a data access at EL1.
	esrDataAbort = 0x25<<26 | 1<<25 | 0x07
)

func main() {
	if err := run(); err != nil {
		fatal(err)
	}
}

func run() error {

	var (
		boardName   = flag.String("board", "bcm2711", "simulate `board` (bcm2837 or bcm2711)")
		ticks       = flag.Uint64("ticks", 1000, "advance the board by `n` microseconds per step")
		interval    = flag.Duration("interval", time.Millisecond, "wall time between steps")
		period      = flag.Uint("period", kernel.DefaultPeriod, "system timer period in microseconds")
		load        = flag.Uint("load", kernel.DefaultArmTimerLoad, "ARM timer countdown in timer clocks")
		dmaKick     = flag.Bool("dma", false, "start a DMA transfer every time the ARM timer fires")
		consoleSpec = flag.String("console", "stderr", "send diagnostics to `sink` (stdout, stderr, file:PATH, vsock:CID:PORT)")
		dumpPath    = flag.String("dump", "", "write a cpio archive of the board's registers to `file` on exit")
		duration    = flag.Duration("duration", 0, "stop after this long (0 runs until q is pressed)")
		fault       = flag.Duration("fault", 0, "raise a data abort after this long")
		verbose     = flag.Bool("v", false, "log every interrupt")
	)

	flag.Parse()

	rev, err := board.ParseRevision(*boardName)
	if err != nil {
		return err
	}

	out, err := console.Open(*consoleSpec)
	if err != nil {
		return err
	}

	defer out.Close()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	log := console.NewLogger(out, level)

	b, err := sim.New(rev)
	if err != nil {
		return err
	}

	b.Bus.Logger = log

	eol := "\n"
	if term.IsTerminal(int(os.Stdin.Fd())) {
		old, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return err
		}

		defer term.Restore(int(os.Stdin.Fd()), old)
		eol = "\r\n"
	}

	var k *kernel.Kernel
	k, err = kernel.New(kernel.Config{
		Revision:     rev,
		Space:        b,
		CPU:          b.Core,
		Logger:       log,
		Period:       uint32(*period),
		ArmTimerLoad: uint32(*load),

		OnEvent: func(e kernel.Event) {
			eventColor(e.Device).Printf("%s%s", e, eol)

			if *dmaKick && e.Device == irq.ArmTimer {
				if err := k.StartDMA(0, dmaBlock); err != nil {
					log.Warn("dma start failed", "err", err)
				}
			}
		},
	})

	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	go watchQuit(cancel)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(ctx, *ticks, *interval)
	})

	g.Go(func() error {
		return k.Run(ctx)
	})

	if *fault > 0 {
		g.Go(func() error {
			select {
			case <-time.After(*fault):
				b.Core.Raise(exception.CurrentSPx, exception.Synchronous, esrDataAbort, sim.IdlePC+0x40)

			case <-ctx.Done():
			}

			return nil
		})
	}

	err = g.Wait()

	if *dumpPath != "" {
		if err := dump(b, *dumpPath); err != nil {
			log.Error("register dump failed", "err", err)
		}
	}

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fmt.Printf("stopped after %d ticks%s", b.Ticks(), eol)
		return nil

	default:
		color.New(color.FgRed).Printf("halted after %d ticks%s", b.Ticks(), eol)
		return err
	}
}

// watchQuit cancels when q or ^C is typed. In raw mode ^C does not raise
// SIGINT.
func watchQuit(cancel context.CancelFunc) {
	var buf [1]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return
		}

		if n == 1 && (buf[0] == 'q' || buf[0] == 3) {
			cancel()
			return
		}
	}
}

func eventColor(dev irq.Device) *color.Color {
	switch dev {
	case irq.ArmTimer:
		return color.New(color.FgGreen)

	case irq.Dma:
		return color.New(color.FgYellow)

	default:
		return color.New(color.FgCyan)
	}
}

func dump(b *sim.Board, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := b.Snapshot(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "pirq: %v\n", err)
	os.Exit(1)
}
