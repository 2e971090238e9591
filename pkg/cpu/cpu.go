// Package cpu implements the core instruction step for
// RV32GCQ_Zicsr_Zifence. A CPU owns only its integer and (optionally)
// float register files, the program counter, and fcsr/fstatus; everything
// else — memory, non-FP CSRs, ECALL/EBREAK policy, extension enable
// flags, the LR/SC reservation, accounting — is delegated to a
// caller-supplied env.Environment.
package cpu

import (
	"fmt"
	"math/big"

	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/isa"
)

// VendorID is the value returned for the mvendorid CSR: 0, meaning an open
// source, non-commercial implementation.
const VendorID uint32 = 0

// ArchID is the value returned for the marchid CSR: the ID the RISC-V
// Foundation assigned to the microarchitecture this core is bit-for-bit
// compatible with.
const ArchID uint32 = 45

// ImplementationVersion identifies this implementation for the mimpid CSR:
// extra-flags byte (always 0, no JIT), major, minor, patch.
type ImplementationVersion struct {
	Major, Minor, Patch uint8
}

// ImplementationID packs v into the big-endian mimpid CSR value.
func (v ImplementationVersion) ImplementationID() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8 | uint32(v.Patch)
}

// Trap is what Step returns when a guest instruction cannot complete: the
// RISC-V exception cause plus tval (faulting address for the
// misaligned/fault causes, the raw instruction word for
// IllegalInstruction, 0 for Breakpoint/Ecall). Callers use errors.As to
// recover the cause and value.
type Trap struct {
	Cause isa.ExceptionCause
	Value uint32
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap: %s (tval=0x%08x)", t.Cause, t.Value)
}

func trapFromFault(f *isa.Fault) *Trap {
	return &Trap{Cause: f.Cause, Value: f.Value}
}

func raise(cause isa.ExceptionCause, value uint32) *Trap {
	return &Trap{Cause: cause, Value: value}
}

// CPU is one RV32GCQ_Zicsr_Zifence hart's architectural state. The zero
// value is not usable; construct with New.
type CPU struct {
	registers [32]uint32
	pc        uint32

	floatWidth     isa.FloatWidth
	floatRegisters [32][16]byte // only the low floatWidth bytes of each slot are meaningful
	fcsr           uint8        // fflags (bits 0-4), frm (bits 5-7)
	fstatus        isa.ExtensionStatus
}

// New constructs a CPU configured for the given float width (isa.FloatNone
// to disable floating point entirely). All registers, PC, and fcsr start
// at zero; fstatus starts Dirty.
func New(floatWidth isa.FloatWidth) *CPU {
	return &CPU{
		floatWidth: floatWidth,
		fstatus:    isa.Dirty,
	}
}

// FloatWidth reports the compile-time-configured float width.
func (c *CPU) FloatWidth() isa.FloatWidth { return c.floatWidth }

// PC returns the program counter.
func (c *CPU) PC() uint32 { return c.pc }

// PutPC sets the program counter, silently clearing the low bit.
func (c *CPU) PutPC(value uint32) { c.pc = value &^ 1 }

// Register reads integer register index. Index 0 always reads 0. Index
// >= 32 is a programmer error and panics.
func (c *CPU) Register(index uint32) uint32 {
	if index == 0 {
		return 0
	}
	return c.registers[index]
}

// SetRegister writes integer register index. Writes to index 0 are
// silently discarded. Index >= 32 panics.
func (c *CPU) SetRegister(index uint32, value uint32) {
	if index == 0 {
		return
	}
	c.registers[index] = value
}

// Fcsr returns the combined fflags|frm byte.
func (c *CPU) Fcsr() uint8 { return c.fcsr }

// PutFcsr sets the combined fflags|frm byte directly (used by CSRRW etc.
// on CSR 0x003, and by snapshot restore).
func (c *CPU) PutFcsr(value uint8) { c.fcsr = value }

// Fflags returns the low 5 bits of fcsr (the accrued exception flags).
func (c *CPU) Fflags() uint8 { return c.fcsr & 0x1F }

// SetFflags ORs additional exception flags into fcsr's low 5 bits — fflags
// accumulate, they are never cleared by an operation, only by an explicit
// CSR write.
func (c *CPU) SetFflags(flags uint8) { c.fcsr |= flags & 0x1F }

// Frm returns the 3-bit rounding mode field (bits 5-7 of fcsr).
func (c *CPU) Frm() uint8 { return (c.fcsr >> 5) & 0x7 }

// FStatus returns the FS (float extension status) field.
func (c *CPU) FStatus() isa.ExtensionStatus { return c.fstatus }

// PutFStatus sets the FS field directly (snapshot restore; an embedder
// simulating an OS context switch).
func (c *CPU) PutFStatus(status isa.ExtensionStatus) { c.fstatus = status }

// markFloatDirty is called by every instruction that writes a float
// register or fcsr: it updates the CPU's own fstatus field and notifies
// the environment, since both the core and the environment track FS and
// neither may be allowed to drift from the other.
func (c *CPU) markFloatDirty(e env.Environment) {
	c.fstatus = isa.Dirty
	e.WriteFS(isa.Dirty)
}

// floatRegisterRaw returns the full configured-width raw bit pattern of
// float register index, as a big.Int.
func (c *CPU) floatRegisterRaw(index uint32) *big.Int {
	return new(big.Int).SetBytes(c.floatRegisters[index][:c.floatWidth])
}

// setFloatRegisterRaw stores a full configured-width raw bit pattern into
// float register index.
func (c *CPU) setFloatRegisterRaw(index uint32, raw *big.Int) {
	raw.FillBytes(c.floatRegisters[index][:c.floatWidth])
}

// ResetAccruedFlags is a convenience hook for embedders simulating fcsr
// being cleared at process start; not used internally.
func (c *CPU) ResetAccruedFlags() { c.fcsr &^= 0x1F }
