// Package irq routes interrupts reported by an interrupt controller to the
// peripheral drivers registered for them.
//
// The controller, the registration table and the diagnostic logger are
// installed once at boot, before any interrupt line is enabled, and are
// read-only afterwards. Handle is the entry point called from the IRQ
// exception vector.
package irq

import "fmt"

// Device is the logical interrupt identity of a peripheral.
type Device uint8

const (
	Invalid = Device(0)
	Timer0  = Device(1)
	Timer1  = Device(2)
	Timer2  = Device(3)
	Timer3  = Device(4)

	// ArmTimer is the SP804-derived ARM timer.
	ArmTimer = Device(5)

	// Dma is the DMA controller's completion interrupt.
	Dma = Device(6)
)

// Devices lists every valid device in ascending order.
var Devices = []Device{Timer0, Timer1, Timer2, Timer3, ArmTimer, Dma}

// Line is a controller-specific interrupt id.
type Line uint32

func (d Device) String() string {
	switch d {
	case Invalid:
		return "invalid"

	case Timer0, Timer1, Timer2, Timer3:
		return fmt.Sprintf("timer%d", d-Timer0)

	case ArmTimer:
		return "armtimer"

	case Dma:
		return "dma"

	default:
		return fmt.Sprintf("Device(%d)", d)
	}
}
