package sim_test

import (
	"testing"

	"github.com/c35s/pirq/sim"
)

func TestSysTimer(t *testing.T) {
	t.Run("match and clear", func(t *testing.T) {
		var log lineLog
		st := sim.NewSysTimer(log.set)
		regs := regsOf(t, st)

		regs.Write32(0x10, 100) // C1
		regs.Write32(0x18, 300) // C3

		st.Step(99)
		log.expect(t)

		st.Step(1)
		log.expect(t, lineEvent{1, true})

		if cs := regs.Read32(0x00); cs != 1<<1 {
			t.Errorf("CS = %#x, want %#x", cs, 1<<1)
		}

		// still matched: no new edge
		st.Step(100)
		log.expect(t)

		// writing zero bits clears nothing
		regs.Write32(0x00, 0)
		log.expect(t)

		regs.Write32(0x00, 1<<1)
		log.expect(t, lineEvent{1, false})

		st.Step(100)
		log.expect(t, lineEvent{3, true})

		if lo := regs.Read32(0x04); lo != 300 {
			t.Errorf("CLO = %d, want 300", lo)
		}
	})

	t.Run("wrap", func(t *testing.T) {
		var log lineLog
		st := sim.NewSysTimer(log.set)
		regs := regsOf(t, st)

		st.Step(1<<32 - 10)
		log.expect(t)

		regs.Write32(0x0c, 5) // C0 just past the wrap
		for off := uint32(0x10); off <= 0x18; off += 4 {
			regs.Write32(off, 1000)
		}

		st.Step(20)
		log.expect(t, lineEvent{0, true})

		if hi := regs.Read32(0x08); hi != 1 {
			t.Errorf("CHI = %d, want 1", hi)
		}

		if got := st.Count(); got != 1<<32+10 {
			t.Errorf("count = %d", got)
		}
	})
}
