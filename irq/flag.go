package irq

import "sync/atomic"

// Flag records that an event happened. It is set from interrupt context and
// consumed exactly once by the main loop.
//
// Take is atomic on its own, but the main loop still reads flags inside Free
// so that a batch of flags is observed at a single instant.
type Flag struct {
	v atomic.Bool
}

// Set marks the event as fired.
func (f *Flag) Set() {
	f.v.Store(true)
}

// Take reports whether the event fired and clears the flag. Taking an empty
// flag reports false.
func (f *Flag) Take() bool {
	return f.v.Swap(false)
}

// Peek reports whether the event fired without clearing the flag.
func (f *Flag) Peek() bool {
	return f.v.Load()
}
