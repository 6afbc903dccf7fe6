// Package kernel boots the interrupt subsystem on a board and runs the
// event loop that consumes what the interrupt handlers record.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/c35s/pirq/board"
	"github.com/c35s/pirq/exception"
	"github.com/c35s/pirq/irq"
	"github.com/c35s/pirq/irq/gic"
	"github.com/c35s/pirq/irq/legacy"
	"github.com/c35s/pirq/mmio"
	"github.com/c35s/pirq/periph/armtimer"
	"github.com/c35s/pirq/periph/dma"
	"github.com/c35s/pirq/periph/systimer"
)

// Config describes a kernel.
type Config struct {

	// Revision selects the SoC layout and interrupt controller.
	Revision board.Revision

	// Space maps the board's register blocks.
	Space mmio.Space

	// CPU is the core that takes interrupts.
	CPU CPU

	// State receives the controller and handler table.
	// If State is nil, the process-wide irq state is used.
	State *irq.State

	// Logger receives diagnostics, including those from interrupt context.
	// If Logger is nil, slog.Default() is used.
	Logger *slog.Logger

	// TimerChannels lists the system timer channels to arm.
	// If TimerChannels is empty, channels 1 and 3 are used; 0 and 2
	// belong to the GPU on real hardware.
	TimerChannels []int

	// Period is the system timer period in microseconds.
	// If Period is 0, it is 10ms.
	Period uint32

	// ArmTimerLoad is the ARM timer countdown in timer clocks.
	// If ArmTimerLoad is 0, it is 1,000,000.
	ArmTimerLoad uint32

	// DMAChannels lists the DMA channels StartDMA may use. Only channel 0
	// has an interrupt source (irq.Dma); every other channel raises its own
	// line, which nothing here enables.
	// If DMAChannels is empty, channel 0 is enabled.
	DMAChannels []int

	// OnEvent, if set, is called from Run for every event, outside the
	// critical section.
	OnEvent func(Event)
}

// CPU is the core the kernel runs on.
type CPU interface {
	irq.Masker

	// SetVectors installs the exception vector table.
	SetVectors(v exception.Vectors)

	// WaitForEvent blocks until an interrupt has been taken or ctx is done.
	WaitForEvent(ctx context.Context) error

	// Halt stops the core for good.
	Halt()
}

const (
	DefaultPeriod       = 10_000
	DefaultArmTimerLoad = 1_000_000
)

var (
	ErrConfig     = errors.New("kernel: invalid config")
	ErrController = errors.New("kernel: interrupt controller setup failed")
	ErrRegister   = errors.New("kernel: handler registration failed")
	ErrEnable     = errors.New("kernel: interrupt enable failed")
	ErrHalted     = errors.New("kernel: core halted")
)

type Kernel struct {
	cfg   Config
	state *irq.State
	ctl   irq.Controller
	log   *slog.Logger

	sys *systimer.Timer
	arm *armtimer.Timer
	dma *dma.Controller
}

// New maps the board, installs the interrupt state and vector table,
// enables every registered source and unmasks IRQs.
func New(cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	regs := make(map[string]mmio.Regs)
	for _, b := range cfg.Revision.Blocks() {
		r, err := cfg.Space.Map(b.Addr, b.Size)
		if err != nil {
			return nil, fmt.Errorf("%w: map %s at %#x: %w", ErrController, b.Name, b.Addr, err)
		}

		regs[b.Name] = r
	}

	k := &Kernel{
		cfg:   cfg,
		state: cfg.State,
		log:   cfg.Logger,
		sys:   systimer.New(regs["systimer"], cfg.TimerChannels...),
		arm:   armtimer.New(regs["armtimer"]),
		dma:   dma.New(regs["dma"]),
	}

	// interrupt controller
	if cfg.Revision.HasGIC() {
		g := gic.New(regs["gicd"], regs["gicc"])
		g.Init()
		k.ctl = g
	} else {
		k.ctl = legacy.New(regs["intc"])
	}

	if k.ctl.Lines() == 0 {
		return nil, fmt.Errorf("%w: controller reports no lines", ErrController)
	}

	// handlers are registered before any source is enabled
	timers := make([]irq.Device, len(cfg.TimerChannels))
	for i, ch := range cfg.TimerChannels {
		timers[i] = systimer.Sources()[ch]
	}

	tab, err := irq.NewTable(
		irq.Record{Handler: k.sys, Sources: timers},
		irq.Record{Handler: k.arm, Sources: []irq.Device{irq.ArmTimer}},
		irq.Record{Handler: k.dma, Sources: []irq.Device{irq.Dma}},
	)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegister, err)
	}

	// Install cannot be undone, so every line is checked first. With a
	// validated config nothing after Install can fail.
	for _, dev := range tab.Sources() {
		if id, ok := k.ctl.Line(dev); !ok || int(id) >= k.ctl.Lines() {
			return nil, fmt.Errorf("%w: %v: %w", ErrEnable, dev, irq.ErrNoLine)
		}
	}

	err = k.state.Install(irq.Config{
		Controller: k.ctl,
		Table:      tab,
		Logger:     cfg.Logger,
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegister, err)
	}

	cfg.CPU.SetVectors(exception.NewTable(k.state.Handle, cfg.CPU.Halt, cfg.Logger))

	// route and enable
	for _, dev := range tab.Sources() {
		if err := k.ctl.Enable(dev); err != nil {
			return nil, fmt.Errorf("%w: %v: %w", ErrEnable, dev, err)
		}

		if err := k.ctl.SetTargetCPU(dev, 0); err != nil {
			return nil, fmt.Errorf("%w: %v: %w", ErrEnable, dev, err)
		}
	}

	k.ctl.EnableDistribution()

	// arm peripherals
	for _, ch := range cfg.TimerChannels {
		if err := k.sys.After(ch, cfg.Period); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnable, err)
		}
	}

	k.arm.EnableInterrupt()
	k.arm.SetCountDown(cfg.ArmTimerLoad)
	k.arm.Enable()
	k.arm.StartFreeRun()

	for _, ch := range cfg.DMAChannels {
		if err := k.dma.Enable(ch); err != nil {
			return nil, fmt.Errorf("%w: dma: %w", ErrEnable, err)
		}
	}

	k.log.Info("kernel: interrupts enabled",
		"board", cfg.Revision,
		"lines", k.ctl.Lines(),
		"sources", len(tab.Sources()))

	cfg.CPU.EnableIRQ()
	return k, nil
}

// Run consumes interrupt flags until ctx is done or the core halts. Each
// pass takes every flag inside a critical section, re-arms the system
// timer channels that fired, reports the events and then sleeps until the
// next interrupt.
func (k *Kernel) Run(ctx context.Context) error {
	var evs []Event
	for {
		evs = evs[:0]
		irq.Free(k.cfg.CPU, func() {
			evs = k.poll(evs)
		})

		for _, e := range evs {
			k.log.Debug("kernel: event", "event", e)
			if k.cfg.OnEvent != nil {
				k.cfg.OnEvent(e)
			}
		}

		if err := k.cfg.CPU.WaitForEvent(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("%w: %w", ErrHalted, err)
		}
	}
}

func (k *Kernel) poll(evs []Event) []Event {
	now := k.sys.Counter64()

	for _, ch := range k.cfg.TimerChannels {
		if k.sys.Fired(ch) {
			k.sys.Set(ch, uint32(now)+k.cfg.Period)
			evs = append(evs, Event{Device: systimer.Sources()[ch], Channel: ch, Time: now})
		}
	}

	if k.arm.HasFired() {
		evs = append(evs, Event{Device: irq.ArmTimer, Time: now})
	}

	for _, ch := range k.cfg.DMAChannels {
		if k.dma.Completed(ch) {
			evs = append(evs, Event{Device: irq.Dma, Channel: ch, Time: now})
		}
	}

	return evs
}

// StartDMA starts the control block at bus address cb on ch. Completion is
// reported as an Event.
func (k *Kernel) StartDMA(ch int, cb uint32) error {
	if !slices.Contains(k.cfg.DMAChannels, ch) {
		return fmt.Errorf("%w: dma channel %d is not enabled", ErrConfig, ch)
	}

	return k.dma.Start(ch, cb)
}

// Controller returns the interrupt controller in use.
func (k *Kernel) Controller() irq.Controller {
	return k.ctl
}

// State returns the installed interrupt state.
func (k *Kernel) State() *irq.State {
	return k.state
}

func (k *Kernel) SysTimer() *systimer.Timer { return k.sys }
func (k *Kernel) ArmTimer() *armtimer.Timer { return k.arm }
func (k *Kernel) DMA() *dma.Controller      { return k.dma }

func (cfg Config) validate() error {
	if cfg.Revision.PeripheralBase() == 0 {
		return fmt.Errorf("unsupported board revision %v", cfg.Revision)
	}

	if cfg.Space == nil {
		return errors.New("space is not set")
	}

	if cfg.CPU == nil {
		return errors.New("cpu is not set")
	}

	for _, ch := range cfg.TimerChannels {
		if ch < 0 || ch >= systimer.Channels {
			return fmt.Errorf("system timer channel %d out of range", ch)
		}
	}

	for _, ch := range cfg.DMAChannels {
		if ch < 0 || ch >= dma.Channels {
			return fmt.Errorf("dma channel %d out of range", ch)
		}

		if ch != 0 {
			return fmt.Errorf("dma channel %d has no interrupt source", ch)
		}
	}

	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.State == nil {
		cfg.State = irq.Global()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if len(cfg.TimerChannels) == 0 {
		cfg.TimerChannels = []int{1, 3}
	}

	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}

	if cfg.ArmTimerLoad == 0 {
		cfg.ArmTimerLoad = DefaultArmTimerLoad
	}

	if len(cfg.DMAChannels) == 0 {
		cfg.DMAChannels = []int{0}
	}

	return cfg
}
