package irq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

var (
	ErrInstalled = errors.New("irq: state already installed")
	ErrConfig    = errors.New("irq: invalid config")
)

// Config is what gets installed into a State.
type Config struct {

	// Controller reports and acknowledges pending lines.
	Controller Controller

	// Table routes devices to handlers.
	Table *Table

	// Logger receives diagnostics from interrupt context.
	// If Logger is nil, slog.Default() is used.
	Logger *slog.Logger
}

// State is write-once interrupt state. The zero value is empty; Install
// fills it exactly once. Exception vectors have no way to carry a context
// argument, so the vector table reaches its State through a package-level
// default (see Install and Handle).
type State struct {
	p atomic.Pointer[installed]
}

type installed struct {
	ctl Controller
	tab *Table
	log *slog.Logger
}

var global State

// Install installs cfg into the process-wide state.
func Install(cfg Config) error {
	return global.Install(cfg)
}

// Handle services pending interrupts using the process-wide state.
func Handle() int {
	return global.Handle()
}

// Global returns the process-wide state.
func Global() *State {
	return &global
}

// Install installs cfg. It returns ErrInstalled if the state was already
// installed, in which case the existing contents are kept.
func (s *State) Install(cfg Config) error {
	if cfg.Controller == nil {
		return fmt.Errorf("%w: controller is not set", ErrConfig)
	}

	if cfg.Table == nil {
		return fmt.Errorf("%w: table is not set", ErrConfig)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	in := &installed{
		ctl: cfg.Controller,
		tab: cfg.Table,
		log: cfg.Logger,
	}

	if !s.p.CompareAndSwap(nil, in) {
		return ErrInstalled
	}

	return nil
}

// Installed reports whether Install has succeeded.
func (s *State) Installed() bool {
	return s.p.Load() != nil
}

// Controller returns the installed controller. It panics before Install.
func (s *State) Controller() Controller {
	return s.get().ctl
}

// Table returns the installed table. It panics before Install.
func (s *State) Table() *Table {
	return s.get().tab
}

// Logger returns the installed diagnostic logger. It panics before Install.
func (s *State) Logger() *slog.Logger {
	return s.get().log
}

// Handle services every pending interrupt and returns how many ids were
// dispatched. Ids nobody registered for are reported and acknowledged.
// The loop gives up after Lines() ids so that a handler that never clears
// its source cannot wedge the core forever.
func (s *State) Handle() int {
	st := s.get()
	ctl := st.ctl

	if !ctl.Pending() {
		st.log.Warn("irq: spurious wake, nothing pending")
		return 0
	}

	limit := ctl.Lines()
	for n := 0; ; n++ {
		id, ok := ctl.FirstPending()
		if !ok {
			return n
		}

		dev := ctl.Device(id)
		if st.log.Enabled(context.Background(), slog.LevelDebug) {
			st.log.Debug("irq: pending", "id", id, "device", dev)
		}

		if st.tab.fire(dev, id) == 0 {
			st.log.Warn("irq: unhandled interrupt", "id", id, "device", dev)
		}

		ctl.EndOfInterrupt(id)

		if n+1 >= limit {
			st.log.Error("irq: drain limit reached", "limit", limit, "last", id)
			return n + 1
		}
	}
}

func (s *State) get() *installed {
	in := s.p.Load()
	if in == nil {
		panic("irq: state used before Install")
	}

	return in
}
