package irq

import "errors"

// ErrNoLine is returned when a device maps to no usable interrupt line.
var ErrNoLine = errors.New("irq: no such interrupt line")

// Controller is the capability shared by every interrupt controller design.
// Code that dispatches interrupts only calls these methods and never asks
// which controller it is talking to.
type Controller interface {

	// Line maps a device to the controller's id for it. The mapping is pure
	// and total: it reports false for Invalid and for devices the controller
	// cannot route.
	Line(dev Device) (Line, bool)

	// Device maps an id back to a device, returning Invalid for unknown ids.
	Device(id Line) Device

	// Enable marks the device's line as deliverable. Enabling an enabled line
	// is a no-op. It returns ErrNoLine if the device has no line, or its line
	// is beyond what the hardware supports.
	Enable(dev Device) error

	// Disable stops delivery of the device's line.
	Disable(dev Device) error

	// SetTargetCPU routes the device's line to a core. Controllers without
	// affinity routing ignore it.
	SetTargetCPU(dev Device, cpu int) error

	// EnableDistribution is the global switch that must be thrown once before
	// any line is delivered. Controllers without one ignore it.
	EnableDistribution()

	// Pending reports whether any enabled line is asserted. It has no side
	// effects.
	Pending() bool

	// FirstPending returns the next line to service, or false if none is
	// pending. On some controllers the read acknowledges the interrupt and
	// must be paired with EndOfInterrupt.
	FirstPending() (Line, bool)

	// EndOfInterrupt signals that handling of id is complete.
	EndOfInterrupt(id Line)

	// Lines returns the number of interrupt lines the hardware supports.
	Lines() int
}
