package kernel

import (
	"fmt"

	"github.com/c35s/pirq/irq"
)

// Event is something an interrupt handler recorded.
type Event struct {
	Device irq.Device

	// Channel is the timer or DMA channel. It is 0 for the ARM timer.
	Channel int

	// Time is the system timer counter when the event was collected.
	Time uint64
}

func (e Event) String() string {
	switch e.Device {
	case irq.ArmTimer:
		return fmt.Sprintf("%v at %d", e.Device, e.Time)

	default:
		return fmt.Sprintf("%v ch%d at %d", e.Device, e.Channel, e.Time)
	}
}
