package exception

import "fmt"

// Syndrome is the value of ESR_EL1.
type Syndrome uint64

// Exception classes of interest.
const (
	ClassUnknown         = 0x00
	ClassWFx             = 0x01
	ClassFP              = 0x07
	ClassIllegalState    = 0x0e
	ClassSVC32           = 0x11
	ClassSVC64           = 0x15
	ClassSysReg          = 0x18
	ClassInstAbortLower  = 0x20
	ClassInstAbort       = 0x21
	ClassPCAlign         = 0x22
	ClassDataAbortLower  = 0x24
	ClassDataAbort       = 0x25
	ClassSPAlign         = 0x26
	ClassSError          = 0x2f
	ClassBreakpointLower = 0x30
	ClassBreakpoint      = 0x31
	ClassStepLower       = 0x32
	ClassStep            = 0x33
	ClassWatchpointLower = 0x34
	ClassWatchpoint      = 0x35
	ClassBKPT32          = 0x38
	ClassBRK64           = 0x3c
)

var classNames = map[uint8]string{
	ClassUnknown:         "unknown reason",
	ClassWFx:             "trapped WFI or WFE",
	ClassFP:              "access to SIMD or floating point",
	ClassIllegalState:    "illegal execution state",
	ClassSVC32:           "SVC in AArch32",
	ClassSVC64:           "SVC in AArch64",
	ClassSysReg:          "trapped MSR, MRS or system instruction",
	ClassInstAbortLower:  "instruction abort from lower level",
	ClassInstAbort:       "instruction abort from same level",
	ClassPCAlign:         "PC alignment fault",
	ClassDataAbortLower:  "data abort from lower level",
	ClassDataAbort:       "data abort from same level",
	ClassSPAlign:         "SP alignment fault",
	ClassSError:          "SError",
	ClassBreakpointLower: "breakpoint from lower level",
	ClassBreakpoint:      "breakpoint from same level",
	ClassStepLower:       "software step from lower level",
	ClassStep:            "software step from same level",
	ClassWatchpointLower: "watchpoint from lower level",
	ClassWatchpoint:      "watchpoint from same level",
	ClassBKPT32:          "BKPT in AArch32",
	ClassBRK64:           "BRK in AArch64",
}

// Class returns the exception class field.
func (s Syndrome) Class() uint8 {
	return uint8(s>>26) & 0x3f
}

// ISS returns the instruction specific syndrome.
func (s Syndrome) ISS() uint32 {
	return uint32(s) & 0x1ff_ffff
}

func (s Syndrome) String() string {
	name, ok := classNames[s.Class()]
	if !ok {
		name = "reserved"
	}

	switch s.Class() {
	case ClassSVC32, ClassSVC64, ClassBRK64:
		return fmt.Sprintf("%s (ec %#x, imm %#x)", name, s.Class(), s.ISS()&0xffff)

	default:
		return fmt.Sprintf("%s (ec %#x, iss %#x)", name, s.Class(), s.ISS())
	}
}
