package cpu

import (
	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/isa"
)

// AMO funct5 values (top 5 bits of funct7; aq/rl occupy the low 2 bits and
// are ignored by a single-hart core).
const (
	amoAdd    uint32 = 0b00000
	amoSwap   uint32 = 0b00001
	amoLR     uint32 = 0b00010
	amoSC     uint32 = 0b00011
	amoXor    uint32 = 0b00100
	amoOr     uint32 = 0b01000
	amoAnd    uint32 = 0b01100
	amoMin    uint32 = 0b10000
	amoMax    uint32 = 0b10100
	amoMinU   uint32 = 0b11000
	amoMaxU   uint32 = 0b11100
)

// execAMO implements the A extension's word-wide atomics: LR/SC delegate
// to the environment's reservation; the other read-modify-write AMOs are
// a plain load, compute, store against the environment's word access —
// the environment's WriteWord is what invalidates any outstanding
// reservation on overlapping addresses.
func (c *CPU) execAMO(e env.Environment, instr uint32) *Trap {
	if !e.SupportsA() || !e.EnableA() {
		return raise(isa.IllegalInstruction, instr)
	}
	if isa.Funct3(instr) != 0b010 {
		return raise(isa.IllegalInstruction, instr)
	}

	address := c.Register(isa.Rs1(instr))
	rd := isa.Rd(instr)
	funct5 := isa.Funct5(instr)
	if address&3 != 0 {
		// LR.W is load-only; SC.W and the read-modify-write AMOs also
		// store, so they fault as a misaligned store.
		if funct5 == amoLR {
			return raise(isa.MisalignedLoad, address)
		}
		return raise(isa.MisalignedStore, address)
	}

	e.AccountAMOOp()

	if funct5 == amoLR {
		old, err := e.LoadReservedWord(address)
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessLoad))
		}
		c.SetRegister(rd, old)
		return nil
	}

	if funct5 == amoSC {
		value := c.Register(isa.Rs2(instr))
		ok, err := e.StoreReservedWord(address, value)
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessStore))
		}
		if ok {
			c.SetRegister(rd, 0)
		} else {
			c.SetRegister(rd, 1)
		}
		return nil
	}

	old, err := e.ReadWord(address, 0xFFFFFFFF)
	if err != nil {
		return trapFromFault(toFault(err, isa.AccessLoad))
	}
	operand := c.Register(isa.Rs2(instr))

	var result uint32
	switch funct5 {
	case amoAdd:
		result = old + operand
	case amoSwap:
		result = operand
	case amoXor:
		result = old ^ operand
	case amoOr:
		result = old | operand
	case amoAnd:
		result = old & operand
	case amoMin:
		if int32(old) < int32(operand) {
			result = old
		} else {
			result = operand
		}
	case amoMax:
		if int32(old) > int32(operand) {
			result = old
		} else {
			result = operand
		}
	case amoMinU:
		if old < operand {
			result = old
		} else {
			result = operand
		}
	case amoMaxU:
		if old > operand {
			result = old
		} else {
			result = operand
		}
	default:
		return raise(isa.IllegalInstruction, instr)
	}

	if err := e.WriteWord(address, result, 0xFFFFFFFF); err != nil {
		return trapFromFault(toFault(err, isa.AccessStore))
	}
	c.SetRegister(rd, old)
	return nil
}
