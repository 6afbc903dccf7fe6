// Package exception routes AArch64 exceptions taken at EL1 to their handlers.
//
// The vector table has sixteen entries: four origins, each with a
// synchronous, IRQ, FIQ and SError slot. Only an IRQ taken from the current
// level with SP_ELx is serviced. Every other entry reports what it can about
// the exception and halts the core.
package exception

import (
	"fmt"
	"io"
	"log/slog"
)

// Origin is where the core was executing when the exception was taken.
type Origin uint8

const (
	CurrentSP0 = Origin(iota)
	CurrentSPx
	LowerAArch64
	LowerAArch32
)

// Kind is the exception type within an origin's group.
type Kind uint8

const (
	Synchronous = Kind(iota)
	IRQ
	FIQ
	SError
)

const (
	// NumEntries is the number of slots in the vector table.
	NumEntries = 16

	// EntrySize is the size of one vector slot in bytes.
	EntrySize = 0x80

	// GroupSize is the size of one origin's four slots in bytes.
	GroupSize = 4 * EntrySize

	// TableAlign is the required alignment of VBAR_EL1.
	TableAlign = 0x800
)

// Offset returns the byte offset of the slot from the vector base.
func Offset(o Origin, k Kind) uint32 {
	return uint32(o)*GroupSize + uint32(k)*EntrySize
}

// Name returns the conventional name of a vector slot.
func Name(o Origin, k Kind) string {
	return o.String() + "_" + k.String()
}

func (o Origin) String() string {
	switch o {
	case CurrentSP0:
		return "current_el0"

	case CurrentSPx:
		return "current_elx"

	case LowerAArch64:
		return "lower_aarch64"

	case LowerAArch32:
		return "lower_aarch32"

	default:
		return fmt.Sprintf("Origin(%d)", uint8(o))
	}
}

func (k Kind) String() string {
	switch k {
	case Synchronous:
		return "synchronous"

	case IRQ:
		return "irq"

	case FIQ:
		return "fiq"

	case SError:
		return "serror"

	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Context is the register state saved on exception entry.
type Context struct {
	GPR  [30]uint64
	LR   uint64
	ELR  uint64
	SPSR uint64
	ESR  uint64
}

// Print writes a dump of the saved registers to w.
func (c *Context) Print(w io.Writer) {
	for i := 0; i < len(c.GPR); i += 2 {
		fmt.Fprintf(w, "X%-2d = %16x X%-2d = %16x\n", i, c.GPR[i], i+1, c.GPR[i+1])
	}

	fmt.Fprintf(w, "LR  = %16x ELR = %16x\n", c.LR, c.ELR)
	fmt.Fprintf(w, "SPSR= %16x ESR = %16x\n", c.SPSR, c.ESR)
}

// Handler services one vector slot.
type Handler func(o Origin, k Kind, ctx *Context)

// Vectors is anything that can take an exception. A core delivers
// exceptions to the Vectors installed in its VBAR.
type Vectors interface {
	Take(o Origin, k Kind, ctx *Context)
}

// Table is a vector table. The zero value is not usable; see NewTable.
type Table struct {
	entries [NumEntries]Handler
	log     *slog.Logger
	halt    func()
}

var _ Vectors = (*Table)(nil)

// NewTable returns a vector table that calls onIRQ for IRQs taken from the
// current level with SP_ELx. Every other slot logs the exception and calls
// halt, which must not return control to the interrupted code.
func NewTable(onIRQ func() int, halt func(), log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}

	if halt == nil {
		halt = func() {}
	}

	t := &Table{log: log, halt: halt}
	for i := range t.entries {
		t.entries[i] = t.unexpected
	}

	if onIRQ != nil {
		t.entries[index(CurrentSPx, IRQ)] = func(_ Origin, _ Kind, ctx *Context) {
			if n := onIRQ(); n > 1 {
				t.log.Debug("exception: irq drained", "elr", ctx.ELR, "count", n)
			}
		}
	}

	return t
}

// Entry returns the handler installed in a slot.
func (t *Table) Entry(o Origin, k Kind) Handler {
	return t.entries[index(o, k)]
}

// Take runs the handler for the slot.
func (t *Table) Take(o Origin, k Kind, ctx *Context) {
	if o > LowerAArch32 || k > SError {
		t.log.Error("exception: bad vector", "origin", o, "kind", k)
		t.halt()
		return
	}

	t.entries[index(o, k)](o, k, ctx)
}

func (t *Table) unexpected(o Origin, k Kind, ctx *Context) {
	args := []any{
		"vector", Name(o, k),
		"lr", fmt.Sprintf("%#x", ctx.LR),
		"elr", fmt.Sprintf("%#x", ctx.ELR),
		"spsr", fmt.Sprintf("%#x", ctx.SPSR),
	}

	if k == Synchronous || k == SError {
		args = append(args, "esr", Syndrome(ctx.ESR))
	}

	t.log.Error("exception: unexpected exception", args...)
	t.halt()
}

func index(o Origin, k Kind) int {
	return int(o)*4 + int(k)
}
