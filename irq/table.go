package irq

import (
	"errors"
	"fmt"
	"slices"
)

// Handler is implemented by interrupt-capable peripherals.
//
// OnFire runs in interrupt context with IRQs masked. It must clear the
// hardware pending condition it owns before returning, or the controller
// will re-deliver the same interrupt immediately. It must not block.
type Handler interface {
	OnFire(id Line)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(id Line)

func (f HandlerFunc) OnFire(id Line) { f(id) }

// MaxRecords is the capacity of a Table.
const MaxRecords = 16

var (
	ErrTableFull  = errors.New("irq: registration table full")
	ErrNilHandler = errors.New("irq: nil handler")
	ErrNoSources  = errors.New("irq: record has no sources")
)

// Record registers a handler for a set of devices. Several records may claim
// the same device; all of them are invoked.
type Record struct {
	Handler Handler
	Sources []Device
}

// Table is a fixed-capacity registration table. It is built once at boot
// and never changes after it has been installed.
type Table struct {
	records [MaxRecords]Record
	n       int
}

// NewTable builds a table from records, preserving their order.
func NewTable(records ...Record) (*Table, error) {
	if len(records) > MaxRecords {
		return nil, fmt.Errorf("%w: %d > %d", ErrTableFull, len(records), MaxRecords)
	}

	t := new(Table)
	for i, r := range records {
		if r.Handler == nil {
			return nil, fmt.Errorf("%w: record %d", ErrNilHandler, i)
		}

		if len(r.Sources) == 0 {
			return nil, fmt.Errorf("%w: record %d", ErrNoSources, i)
		}

		t.records[i] = Record{
			Handler: r.Handler,
			Sources: slices.Clone(r.Sources),
		}
	}

	t.n = len(records)
	return t, nil
}

// Len returns the number of records.
func (t *Table) Len() int {
	return t.n
}

// Lookup returns the handlers registered for dev in registration order.
func (t *Table) Lookup(dev Device) []Handler {
	var hh []Handler
	for _, r := range t.records[:t.n] {
		if slices.Contains(r.Sources, dev) {
			hh = append(hh, r.Handler)
		}
	}

	return hh
}

// Sources returns every distinct device claimed by the table, in the order
// the devices were first registered.
func (t *Table) Sources() []Device {
	var dd []Device
	for _, r := range t.records[:t.n] {
		for _, d := range r.Sources {
			if !slices.Contains(dd, d) {
				dd = append(dd, d)
			}
		}
	}

	return dd
}

// fire invokes every handler registered for dev and returns how many ran.
// It does not allocate.
func (t *Table) fire(dev Device, id Line) int {
	var n int
	for i := range t.records[:t.n] {
		r := &t.records[i]
		if slices.Contains(r.Sources, dev) {
			r.Handler.OnFire(id)
			n++
		}
	}

	return n
}
