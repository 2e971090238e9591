// Package isa holds the value primitives shared by the RV32 core: the
// major-opcode and field layout of the 32-bit instruction encoding,
// exception causes, memory-access failure kinds, and the small value types
// (byte-lane masks, extension status, float width) that every other
// package in this module builds on.
//
// None of these types talk to memory or mutate CPU state; they exist so
// that decode tables and the step core in pkg/cpu, and the execution
// environment contract in pkg/env, share one vocabulary.
package isa

import "fmt"

// ExceptionCause identifies why a guest instruction trapped. The numeric
// values match the RISC-V mcause encoding for exceptions (not interrupts),
// so a host vectoring into a real privileged trap handler can use these
// values directly.
type ExceptionCause uint32

const (
	MisalignedPC ExceptionCause = 0
	InstructionFault ExceptionCause = 1
	IllegalInstruction ExceptionCause = 2
	Breakpoint ExceptionCause = 3
	MisalignedLoad ExceptionCause = 4
	LoadFault ExceptionCause = 5
	MisalignedStore ExceptionCause = 6
	StoreFault ExceptionCause = 7
	EcallFromU ExceptionCause = 8
	EcallFromS ExceptionCause = 9
	EcallFromM ExceptionCause = 11
	InstructionPageFault ExceptionCause = 12
	LoadPageFault ExceptionCause = 13
	StorePageFault ExceptionCause = 15
)

func (c ExceptionCause) String() string {
	switch c {
	case MisalignedPC:
		return "misaligned-pc"
	case InstructionFault:
		return "instruction-fault"
	case IllegalInstruction:
		return "illegal-instruction"
	case Breakpoint:
		return "breakpoint"
	case MisalignedLoad:
		return "misaligned-load"
	case LoadFault:
		return "load-fault"
	case MisalignedStore:
		return "misaligned-store"
	case StoreFault:
		return "store-fault"
	case EcallFromU:
		return "ecall-from-u"
	case EcallFromS:
		return "ecall-from-s"
	case EcallFromM:
		return "ecall-from-m"
	case InstructionPageFault:
		return "instruction-page-fault"
	case LoadPageFault:
		return "load-page-fault"
	case StorePageFault:
		return "store-page-fault"
	default:
		return fmt.Sprintf("exception-cause(%d)", uint32(c))
	}
}

// AccessKind distinguishes the three ways the core touches memory, so that
// a MemoryAccessFailure from the environment can be mapped to the right
// ExceptionCause.
type AccessKind int

const (
	AccessInstructionFetch AccessKind = iota
	AccessLoad
	AccessStore
)

// MemoryAccessFailure is returned by Environment memory methods. The core
// maps each variant to an ExceptionCause using the AccessKind in flight.
type MemoryAccessFailure int

const (
	Unaligned MemoryAccessFailure = iota
	AccessFault
	PageFault
)

func (f MemoryAccessFailure) Error() string {
	switch f {
	case Unaligned:
		return "unaligned memory access"
	case AccessFault:
		return "memory access fault"
	case PageFault:
		return "page fault"
	default:
		return fmt.Sprintf("memory-access-failure(%d)", int(f))
	}
}

// Cause maps a MemoryAccessFailure to the ExceptionCause appropriate for
// the access kind that produced it.
func (f MemoryAccessFailure) Cause(kind AccessKind) ExceptionCause {
	switch kind {
	case AccessInstructionFetch:
		switch f {
		case Unaligned:
			return MisalignedPC
		case PageFault:
			return InstructionPageFault
		default:
			return InstructionFault
		}
	case AccessLoad:
		switch f {
		case Unaligned:
			return MisalignedLoad
		case PageFault:
			return LoadPageFault
		default:
			return LoadFault
		}
	case AccessStore:
		switch f {
		case Unaligned:
			return MisalignedStore
		case PageFault:
			return StorePageFault
		default:
			return StoreFault
		}
	default:
		panic("isa: invalid access kind")
	}
}

// ExtensionStatus tracks the FS (and, in a fuller privileged
// implementation, VS/XS) two-bit field: whether the float register file
// has been touched since the last context-switch boundary.
type ExtensionStatus uint8

const (
	Disabled ExtensionStatus = iota
	Initialized
	Clean
	Dirty
)

func (s ExtensionStatus) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Initialized:
		return "initialized"
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	default:
		return fmt.Sprintf("extension-status(%d)", uint8(s))
	}
}

// FloatWidth selects which float extensions are compiled in, measured in
// bytes per float register (0 = no floating point, 4 = F only, 8 = F+D,
// 16 = F+D+Q). This is the runtime realization of the spec's "float bits"
// compile-time marker; see DESIGN.md for why a runtime enum was chosen
// over a generic type parameter.
type FloatWidth uint8

const (
	FloatNone FloatWidth = 0
	Float32   FloatWidth = 4
	Float64   FloatWidth = 8
	Float128  FloatWidth = 16
)

// HasF reports whether the F (single-precision) extension is present.
func (w FloatWidth) HasF() bool { return w >= Float32 }

// HasD reports whether the D (double-precision) extension is present.
func (w FloatWidth) HasD() bool { return w >= Float64 }

// HasQ reports whether the Q (quad-precision) extension is present.
func (w FloatWidth) HasQ() bool { return w >= Float128 }

// Major opcodes: bits [6:2] of a canonical 32-bit instruction word (bits
// [1:0] are always 0b11 for a full-width instruction).
const (
	OpLoad     uint32 = 0b00000
	OpLoadFP   uint32 = 0b00001
	OpMiscMem  uint32 = 0b00011
	OpOPImm    uint32 = 0b00100
	OpAUIPC    uint32 = 0b00101
	OpStore    uint32 = 0b01000
	OpStoreFP  uint32 = 0b01001
	OpAMO      uint32 = 0b01011
	OpOP       uint32 = 0b01100
	OpLUI      uint32 = 0b01101
	OpMADD     uint32 = 0b10000
	OpMSUB     uint32 = 0b10001
	OpNMSUB    uint32 = 0b10010
	OpNMADD    uint32 = 0b10011
	OpOPFP     uint32 = 0b10100
	OpBranch   uint32 = 0b11000
	OpJALR     uint32 = 0b11001
	OpJAL      uint32 = 0b11011
	OpSystem   uint32 = 0b11100
)

// Opcode extracts the 5-bit major opcode (bits [6:2]) from a canonical
// 32-bit instruction word.
func Opcode(instr uint32) uint32 { return (instr >> 2) & 0x1F }

// Funct3 extracts the 3-bit funct3 field.
func Funct3(instr uint32) uint32 { return (instr >> 12) & 0x7 }

// Funct7 extracts the 7-bit funct7 field (R-type / AMO funct5+aq+rl).
func Funct7(instr uint32) uint32 { return (instr >> 25) & 0x7F }

// Funct5 extracts the top 5 bits of funct7, used by AMO and OP-FP to
// select the operation independent of the aq/rl bits.
func Funct5(instr uint32) uint32 { return (instr >> 27) & 0x1F }

// Funct2 extracts the 2-bit format field used by the fused multiply-add
// opcodes (MADD/MSUB/NMSUB/NMADD) and OP-FP to select S/D/Q precision.
func Funct2(instr uint32) uint32 { return (instr >> 25) & 0x3 }

// Rd extracts the destination register index.
func Rd(instr uint32) uint32 { return (instr >> 7) & 0x1F }

// Rs1 extracts the first source register index.
func Rs1(instr uint32) uint32 { return (instr >> 15) & 0x1F }

// Rs2 extracts the second source register index.
func Rs2(instr uint32) uint32 { return (instr >> 20) & 0x1F }

// Rs3 extracts the third source register index, used only by the fused
// multiply-add opcodes.
func Rs3(instr uint32) uint32 { return (instr >> 27) & 0x1F }

// RM extracts the 3-bit rounding-mode field carried by every floating
// point instruction. 0b111 conventionally means "use frm".
func RM(instr uint32) uint32 { return (instr >> 12) & 0x7 }

// ImmI sign-extends the I-type immediate (bits [31:20]).
func ImmI(instr uint32) uint32 { return uint32(int32(instr) >> 20) }

// ImmS sign-extends the S-type immediate (bits [31:25] | [11:7]).
func ImmS(instr uint32) uint32 {
	hi := uint32(int32(instr) >> 25 << 5)
	lo := (instr >> 7) & 0x1F
	return hi | lo
}

// ImmB sign-extends the B-type (branch) immediate.
func ImmB(instr uint32) uint32 {
	signAndTop := uint32(int32(instr) >> 31 << 12)
	b11 := (instr >> 7) & 0x1
	b10_5 := (instr >> 25) & 0x3F
	b4_1 := (instr >> 8) & 0xF
	return signAndTop | (b11 << 11) | (b10_5 << 5) | (b4_1 << 1)
}

// ImmU extracts the U-type immediate (LUI/AUIPC): bits [31:12] left where
// they sit, low 12 bits zero.
func ImmU(instr uint32) uint32 { return instr & 0xFFFFF000 }

// ImmJ sign-extends the J-type (JAL) immediate.
func ImmJ(instr uint32) uint32 {
	signAndTop := uint32(int32(instr) >> 31 << 20)
	b19_12 := (instr >> 12) & 0xFF
	b11 := (instr >> 20) & 0x1
	b10_1 := (instr >> 21) & 0x3FF
	return signAndTop | (b19_12 << 12) | (b11 << 11) | (b10_1 << 1)
}

// Fault is the common currency for "this instruction cannot complete":
// an ExceptionCause plus the value RISC-V calls "tval" (faulting address,
// offending instruction bits, etc., depending on the cause). Environment
// methods that can trap return *Fault; pkg/cpu.Step converts one into a
// Trap for its caller.
type Fault struct {
	Cause ExceptionCause
	Value uint32
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s (tval=0x%08x)", f.Cause, f.Value)
}

// NewFault builds a Fault, a small convenience used throughout pkg/env and
// pkg/cpu so call sites read as "raise(cause, value)".
func NewFault(cause ExceptionCause, value uint32) *Fault {
	return &Fault{Cause: cause, Value: value}
}

// ByteLaneMask returns the mask that selects the bytes a width-byte wide
// (width in {1,2,4}) access touches at the given address, for use with the
// default half/byte memory helpers. One of 0xFF, 0xFF00, 0xFF0000,
// 0xFF000000 for bytes; 0xFFFF or 0xFFFF0000 for halfwords; 0xFFFFFFFF for
// words.
func ByteLaneMask(address uint32, width uint32) uint32 {
	switch width {
	case 1:
		return 0xFF << ((address & 3) * 8)
	case 2:
		if address&2 != 0 {
			return 0xFFFF0000
		}
		return 0x0000FFFF
	case 4:
		return 0xFFFFFFFF
	default:
		panic("isa: invalid byte-lane width")
	}
}
