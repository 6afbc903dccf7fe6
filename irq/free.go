package irq

// Masker masks and unmasks IRQ delivery on the current core.
type Masker interface {
	DisableIRQ()
	EnableIRQ()
}

// Free runs fn with IRQs masked. fn must not block.
func Free(m Masker, fn func()) {
	m.DisableIRQ()
	defer m.EnableIRQ()

	fn()
}
