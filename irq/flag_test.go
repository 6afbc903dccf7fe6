package irq_test

import (
	"testing"

	"github.com/c35s/pirq/irq"
)

func TestFlag(t *testing.T) {
	var f irq.Flag

	if f.Take() {
		t.Error("empty flag taken as fired")
	}

	f.Set()
	if !f.Peek() {
		t.Error("peek after set is false")
	}

	if !f.Take() {
		t.Error("take after set is false")
	}

	if f.Take() {
		t.Error("second take is true")
	}

	t.Run("set twice", func(t *testing.T) {
		f.Set()
		f.Set()

		if !f.Take() || f.Take() {
			t.Error("flag is not take-once")
		}
	})
}

type countMasker struct {
	masked, unmasked int
	inside           bool
}

func (m *countMasker) DisableIRQ() { m.masked++; m.inside = true }
func (m *countMasker) EnableIRQ()  { m.unmasked++; m.inside = false }

func TestFree(t *testing.T) {
	var m countMasker
	var ran bool

	irq.Free(&m, func() {
		ran = true
		if !m.inside {
			t.Error("fn ran with IRQs unmasked")
		}
	})

	if !ran {
		t.Fatal("fn didn't run")
	}

	if m.masked != 1 || m.unmasked != 1 {
		t.Errorf("masked %d unmasked %d", m.masked, m.unmasked)
	}

	t.Run("panic", func(t *testing.T) {
		defer func() {
			recover()
			if m.inside {
				t.Error("IRQs still masked after panic")
			}
		}()

		irq.Free(&m, func() { panic("boom") })
	})
}
