package cpu

import (
	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/isa"
)

// fflags/frm/fcsr CSR numbers pkg/cpu answers itself (as it does reads of
// mvendorid/marchid, below); every other CSR number is the environment's
// responsibility.
const (
	csrFflags uint32 = 0x001
	csrFrm    uint32 = 0x002
	csrFcsr   uint32 = 0x003
)

func (c *CPU) execSystem(e env.Environment, instr uint32) *Trap {
	funct3 := isa.Funct3(instr)

	if funct3 == 0 {
		imm := instr >> 20
		switch imm {
		case 0x000: // ECALL
			e.AccountGenericOp()
			if err := e.PerformECALL(c); err != nil {
				return trapFromFault(asFault(err))
			}
			return nil
		case 0x001: // EBREAK
			e.AccountGenericOp()
			if err := e.PerformEBREAK(c); err != nil {
				return trapFromFault(asFault(err))
			}
			return nil
		default:
			return raise(isa.IllegalInstruction, instr)
		}
	}

	if !e.EnableZicsr() {
		return raise(isa.IllegalInstruction, instr)
	}

	csrNumber := instr >> 20
	rd := isa.Rd(instr)
	rs1Field := isa.Rs1(instr)

	var operand uint32
	immediate := funct3&0b100 != 0
	if immediate {
		operand = rs1Field
	} else {
		operand = c.Register(rs1Field)
	}

	writes := true
	switch funct3 &^ 0b100 {
	case 0b010, 0b011: // CSRRS/CSRRC family only write when the operand is nonzero
		writes = operand != 0
	}

	if writes && isReadOnlyCSR(csrNumber) {
		return raise(isa.IllegalInstruction, instr)
	}

	// CSRRW(I) with rd=x0 must not read the CSR at all, so an environment
	// CSR with read side effects does not observe a spurious read.
	reads := !(funct3&^0b100 == 0b001 && rd == 0)

	var old uint32
	if reads {
		var trap *Trap
		old, trap = c.readCSR(e, csrNumber)
		if trap != nil {
			return trap
		}
	}

	if writes {
		var newValue uint32
		switch funct3 &^ 0b100 {
		case 0b001: // CSRRW(I)
			newValue = operand
		case 0b010: // CSRRS(I)
			newValue = old | operand
		case 0b011: // CSRRC(I)
			newValue = old &^ operand
		default:
			return raise(isa.IllegalInstruction, instr)
		}
		if trap := c.writeCSR(e, csrNumber, newValue); trap != nil {
			return trap
		}
	}

	e.AccountGenericOp()
	c.SetRegister(rd, old)
	return nil
}

// isReadOnlyCSR reports whether csrNumber's top two bits mark it read-only,
// per the RISC-V CSR address convention (bits [11:10] == 0b11).
func isReadOnlyCSR(csrNumber uint32) bool {
	return (csrNumber>>10)&0x3 == 0x3
}

func (c *CPU) readCSR(e env.Environment, csrNumber uint32) (uint32, *Trap) {
	switch {
	case csrNumber == csrFflags && c.floatWidth != isa.FloatNone:
		return uint32(c.Fflags()), nil
	case csrNumber == csrFrm && c.floatWidth != isa.FloatNone:
		return uint32(c.Frm()), nil
	case csrNumber == csrFcsr && c.floatWidth != isa.FloatNone:
		return uint32(c.Fcsr()), nil
	case csrNumber == csrVendorID:
		return VendorID, nil
	case csrNumber == csrArchID:
		return ArchID, nil
	default:
		value, err := e.ReadCSR(csrNumber)
		if err != nil {
			return 0, trapFromFault(asFault(err))
		}
		return value, nil
	}
}

func (c *CPU) writeCSR(e env.Environment, csrNumber, value uint32) *Trap {
	switch {
	case csrNumber == csrFflags && c.floatWidth != isa.FloatNone:
		c.PutFcsr((c.Fcsr() &^ 0x1F) | uint8(value&0x1F))
		c.markFloatDirty(e)
		return nil
	case csrNumber == csrFrm && c.floatWidth != isa.FloatNone:
		c.PutFcsr((c.Fcsr() & 0x1F) | uint8((value&0x7)<<5))
		c.markFloatDirty(e)
		return nil
	case csrNumber == csrFcsr && c.floatWidth != isa.FloatNone:
		c.PutFcsr(uint8(value & 0xFF))
		c.markFloatDirty(e)
		return nil
	default:
		if err := e.WriteCSR(csrNumber, value); err != nil {
			return trapFromFault(asFault(err))
		}
		return nil
	}
}

const (
	csrVendorID uint32 = 0xF11 // mvendorid, read-only
	csrArchID   uint32 = 0xF12 // marchid, read-only
)

// asFault coerces an arbitrary error from an Environment policy method
// (PerformECALL/PerformEBREAK/ReadCSR/WriteCSR) into an *isa.Fault: these
// methods are documented to return *isa.Fault (env.DefaultECALL and friends
// all do), but a permissive signature is kept so a host can wrap a plain
// error without importing isa.
func asFault(err error) *isa.Fault {
	if f, ok := err.(*isa.Fault); ok {
		return f
	}
	return isa.NewFault(isa.IllegalInstruction, 0)
}
