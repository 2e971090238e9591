package cpu

import (
	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/isa"
)

// Step fetches, decodes, and executes exactly one guest instruction against
// e, advancing pc past it (or to the target of a taken branch/jump) and
// returning nil on success, or leaving pc unchanged and returning a *Trap
// describing why the instruction could not complete.
func (c *CPU) Step(e env.Environment) error {
	pc := c.pc
	if pc&1 != 0 {
		return raise(isa.MisalignedPC, pc)
	}

	e.AccountIfetch(pc)

	raw, err := e.ReadInstruction(pc)
	if err != nil {
		return trapFromFault(toFault(err, isa.AccessInstructionFetch))
	}

	var instr uint32
	var length uint32
	if raw&0x3 != 0x3 {
		if !e.SupportsC() || !e.EnableC() {
			return raise(isa.IllegalInstruction, raw&0xFFFF)
		}
		expanded, trap := expandCompressed(uint16(raw), c.floatWidth, floatEnabled(c, e, isa.Float32), floatEnabled(c, e, isa.Float64))
		if trap != nil {
			return trap
		}
		instr = expanded
		length = 2
	} else {
		instr = raw
		length = 4
	}

	nextPC := pc + length

	if trap := c.execute(e, instr, pc, &nextPC); trap != nil {
		return trap
	}

	c.pc = nextPC
	return nil
}

// toFault maps a raw error from an Environment memory method to an
// isa.Fault: an isa.MemoryAccessFailure is classified by access kind; any
// other error is treated as an opaque access fault at tval 0 (an
// environment that wants a specific tval should return a
// MemoryAccessFailure or an *isa.Fault directly).
func toFault(err error, kind isa.AccessKind) *isa.Fault {
	if f, ok := err.(*isa.Fault); ok {
		return f
	}
	if maf, ok := err.(isa.MemoryAccessFailure); ok {
		return isa.NewFault(maf.Cause(kind), 0)
	}
	return isa.NewFault(isa.MemoryAccessFailure(isa.AccessFault).Cause(kind), 0)
}

// floatEnabled reports whether the given float width is both compiled in
// and, for F and D, enabled at runtime. Double always implies single is at
// least compiled in; the runtime EnableF/EnableD flags are orthogonal.
func floatEnabled(c *CPU, e env.Environment, width isa.FloatWidth) bool {
	switch width {
	case isa.Float32:
		return c.floatWidth.HasF() && e.EnableF()
	case isa.Float64:
		return c.floatWidth.HasD() && e.EnableD()
	default:
		return false
	}
}

// execute dispatches a canonical 32-bit instruction. pc is the address it
// was fetched from (for AUIPC/JAL/branch target math and tval); *nextPC is
// the tentative next PC (already advanced past this instruction's length)
// that a taken jump/branch overwrites.
func (c *CPU) execute(e env.Environment, instr, pc uint32, nextPC *uint32) *Trap {
	opcode := isa.Opcode(instr)
	switch opcode {
	case isa.OpLoad:
		return c.execLoad(e, instr)
	case isa.OpStore:
		return c.execStore(e, instr)
	case isa.OpOPImm:
		return c.execOPImm(e, instr)
	case isa.OpOP:
		return c.execOP(e, instr)
	case isa.OpLUI:
		e.AccountALUOp()
		c.SetRegister(isa.Rd(instr), isa.ImmU(instr))
		return nil
	case isa.OpAUIPC:
		e.AccountALUOp()
		c.SetRegister(isa.Rd(instr), pc+isa.ImmU(instr))
		return nil
	case isa.OpJAL:
		e.AccountJumpOp()
		target := pc + isa.ImmJ(instr)
		if jumpTargetMisaligned(e, target) {
			return raise(isa.MisalignedPC, target)
		}
		c.SetRegister(isa.Rd(instr), *nextPC)
		*nextPC = target
		return nil
	case isa.OpJALR:
		e.AccountJumpOp()
		target := (c.Register(isa.Rs1(instr)) + isa.ImmI(instr)) &^ 1
		if jumpTargetMisaligned(e, target) {
			return raise(isa.MisalignedPC, target)
		}
		link := *nextPC
		c.SetRegister(isa.Rd(instr), link)
		*nextPC = target
		return nil
	case isa.OpBranch:
		return c.execBranch(e, instr, pc, nextPC)
	case isa.OpMiscMem:
		return c.execMiscMem(e, instr)
	case isa.OpSystem:
		return c.execSystem(e, instr)
	case isa.OpAMO:
		return c.execAMO(e, instr)
	case isa.OpLoadFP, isa.OpStoreFP, isa.OpOPFP, isa.OpMADD, isa.OpMSUB, isa.OpNMSUB, isa.OpNMADD:
		return c.execFloat(e, instr, opcode)
	default:
		return raise(isa.IllegalInstruction, instr)
	}
}

func (c *CPU) execLoad(e env.Environment, instr uint32) *Trap {
	funct3 := isa.Funct3(instr)
	address := c.Register(isa.Rs1(instr)) + isa.ImmI(instr)
	rd := isa.Rd(instr)

	switch funct3 {
	case 0b000: // LB
		v, err := e.ReadByte(address)
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessLoad))
		}
		e.AccountMemoryLoad(address)
		c.SetRegister(rd, uint32(int32(int8(v))))
	case 0b001: // LH
		v, err := e.ReadHalf(address)
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessLoad))
		}
		e.AccountMemoryLoad(address)
		c.SetRegister(rd, uint32(int32(int16(v))))
	case 0b010: // LW
		v, err := e.ReadWord(address&^3, isa.ByteLaneMask(address, 4))
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessLoad))
		}
		if address&3 != 0 {
			return raise(isa.MisalignedLoad, address)
		}
		e.AccountMemoryLoad(address)
		c.SetRegister(rd, v)
	case 0b100: // LBU
		v, err := e.ReadByte(address)
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessLoad))
		}
		e.AccountMemoryLoad(address)
		c.SetRegister(rd, uint32(v))
	case 0b101: // LHU
		v, err := e.ReadHalf(address)
		if err != nil {
			return trapFromFault(toFault(err, isa.AccessLoad))
		}
		e.AccountMemoryLoad(address)
		c.SetRegister(rd, uint32(v))
	default:
		return raise(isa.IllegalInstruction, instr)
	}
	return nil
}

func (c *CPU) execStore(e env.Environment, instr uint32) *Trap {
	funct3 := isa.Funct3(instr)
	address := c.Register(isa.Rs1(instr)) + isa.ImmS(instr)
	value := c.Register(isa.Rs2(instr))

	switch funct3 {
	case 0b000: // SB
		if err := e.WriteByte(address, uint8(value)); err != nil {
			return trapFromFault(toFault(err, isa.AccessStore))
		}
		e.AccountMemoryStore(address)
	case 0b001: // SH
		if err := e.WriteHalf(address, uint16(value)); err != nil {
			return trapFromFault(toFault(err, isa.AccessStore))
		}
		e.AccountMemoryStore(address)
	case 0b010: // SW
		if address&3 != 0 {
			return raise(isa.MisalignedStore, address)
		}
		if err := e.WriteWord(address, value, 0xFFFFFFFF); err != nil {
			return trapFromFault(toFault(err, isa.AccessStore))
		}
		e.AccountMemoryStore(address)
	default:
		return raise(isa.IllegalInstruction, instr)
	}
	return nil
}

func (c *CPU) execOPImm(e env.Environment, instr uint32) *Trap {
	funct3 := isa.Funct3(instr)
	rs1 := c.Register(isa.Rs1(instr))
	imm := isa.ImmI(instr)
	rd := isa.Rd(instr)
	e.AccountALUOp()

	switch funct3 {
	case 0b000: // ADDI
		c.SetRegister(rd, rs1+imm)
	case 0b010: // SLTI
		c.SetRegister(rd, boolToWord(int32(rs1) < int32(imm)))
	case 0b011: // SLTIU
		c.SetRegister(rd, boolToWord(rs1 < imm))
	case 0b100: // XORI
		c.SetRegister(rd, rs1^imm)
	case 0b110: // ORI
		c.SetRegister(rd, rs1|imm)
	case 0b111: // ANDI
		c.SetRegister(rd, rs1&imm)
	case 0b001: // SLLI
		if isa.Funct7(instr) != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		shamt := imm & 0x1F
		c.SetRegister(rd, rs1<<shamt)
	case 0b101: // SRLI / SRAI
		shamt := imm & 0x1F
		switch isa.Funct7(instr) {
		case 0b0000000:
			c.SetRegister(rd, rs1>>shamt)
		case 0b0100000:
			c.SetRegister(rd, uint32(int32(rs1)>>shamt))
		default:
			return raise(isa.IllegalInstruction, instr)
		}
	default:
		return raise(isa.IllegalInstruction, instr)
	}
	return nil
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *CPU) execOP(e env.Environment, instr uint32) *Trap {
	funct3 := isa.Funct3(instr)
	funct7 := isa.Funct7(instr)
	rs1 := c.Register(isa.Rs1(instr))
	rs2 := c.Register(isa.Rs2(instr))
	rd := isa.Rd(instr)

	if funct7 == 0b0000001 { // M extension
		if !e.SupportsM() || !e.EnableM() {
			return raise(isa.IllegalInstruction, instr)
		}
		return c.execMulDiv(e, instr, funct3, rs1, rs2, rd)
	}

	e.AccountALUOp()
	switch funct3 {
	case 0b000:
		switch funct7 {
		case 0b0000000: // ADD
			c.SetRegister(rd, rs1+rs2)
		case 0b0100000: // SUB
			c.SetRegister(rd, rs1-rs2)
		default:
			return raise(isa.IllegalInstruction, instr)
		}
	case 0b001: // SLL
		if funct7 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		c.SetRegister(rd, rs1<<(rs2&0x1F))
	case 0b010: // SLT
		if funct7 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		c.SetRegister(rd, boolToWord(int32(rs1) < int32(rs2)))
	case 0b011: // SLTU
		if funct7 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		c.SetRegister(rd, boolToWord(rs1 < rs2))
	case 0b100: // XOR
		if funct7 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		c.SetRegister(rd, rs1^rs2)
	case 0b101:
		switch funct7 {
		case 0b0000000: // SRL
			c.SetRegister(rd, rs1>>(rs2&0x1F))
		case 0b0100000: // SRA
			c.SetRegister(rd, uint32(int32(rs1)>>(rs2&0x1F)))
		default:
			return raise(isa.IllegalInstruction, instr)
		}
	case 0b110: // OR
		if funct7 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		c.SetRegister(rd, rs1|rs2)
	case 0b111: // AND
		if funct7 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		c.SetRegister(rd, rs1&rs2)
	default:
		return raise(isa.IllegalInstruction, instr)
	}
	return nil
}

// execMulDiv implements the M extension's division-by-zero and
// signed-overflow conventions (no trap, defined results matching the
// RISC-V ISA manual rather than the host CPU's DIV instruction behavior).
func (c *CPU) execMulDiv(e env.Environment, instr uint32, funct3 uint32, rs1, rs2, rd uint32) *Trap {
	switch funct3 {
	case 0b000: // MUL
		e.AccountMulOp()
		c.SetRegister(rd, rs1*rs2)
	case 0b001: // MULH
		e.AccountMulOp()
		full := int64(int32(rs1)) * int64(int32(rs2))
		c.SetRegister(rd, uint32(uint64(full)>>32))
	case 0b010: // MULHSU
		e.AccountMulOp()
		full := int64(int32(rs1)) * int64(uint64(rs2))
		c.SetRegister(rd, uint32(uint64(full)>>32))
	case 0b011: // MULHU
		e.AccountMulOp()
		full := uint64(rs1) * uint64(rs2)
		c.SetRegister(rd, uint32(full>>32))
	case 0b100: // DIV
		e.AccountDivOp()
		if rs2 == 0 {
			c.SetRegister(rd, 0xFFFFFFFF)
		} else if int32(rs1) == -0x80000000 && int32(rs2) == -1 {
			c.SetRegister(rd, rs1)
		} else {
			c.SetRegister(rd, uint32(int32(rs1)/int32(rs2)))
		}
	case 0b101: // DIVU
		e.AccountDivOp()
		if rs2 == 0 {
			c.SetRegister(rd, 0xFFFFFFFF)
		} else {
			c.SetRegister(rd, rs1/rs2)
		}
	case 0b110: // REM
		e.AccountDivOp()
		if rs2 == 0 {
			c.SetRegister(rd, rs1)
		} else if int32(rs1) == -0x80000000 && int32(rs2) == -1 {
			c.SetRegister(rd, 0)
		} else {
			c.SetRegister(rd, uint32(int32(rs1)%int32(rs2)))
		}
	case 0b111: // REMU
		e.AccountDivOp()
		if rs2 == 0 {
			c.SetRegister(rd, rs1)
		} else {
			c.SetRegister(rd, rs1%rs2)
		}
	default:
		return raise(isa.IllegalInstruction, instr)
	}
	return nil
}

func (c *CPU) execBranch(e env.Environment, instr, pc uint32, nextPC *uint32) *Trap {
	funct3 := isa.Funct3(instr)
	rs1 := c.Register(isa.Rs1(instr))
	rs2 := c.Register(isa.Rs2(instr))

	var taken bool
	switch funct3 {
	case 0b000: // BEQ
		taken = rs1 == rs2
	case 0b001: // BNE
		taken = rs1 != rs2
	case 0b100: // BLT
		taken = int32(rs1) < int32(rs2)
	case 0b101: // BGE
		taken = int32(rs1) >= int32(rs2)
	case 0b110: // BLTU
		taken = rs1 < rs2
	case 0b111: // BGEU
		taken = rs1 >= rs2
	default:
		return raise(isa.IllegalInstruction, instr)
	}

	offset := isa.ImmB(instr)
	e.AccountBranchOp(taken, int32(offset) >= 0)
	if !taken {
		return nil
	}
	target := pc + offset
	if jumpTargetMisaligned(e, target) {
		return raise(isa.MisalignedPC, target)
	}
	*nextPC = target
	return nil
}

// jumpTargetMisaligned reports whether target violates the instruction
// alignment a jump/branch target must satisfy: 2-byte when the C
// extension is enabled, 4-byte otherwise.
func jumpTargetMisaligned(e env.Environment, target uint32) bool {
	if e.SupportsC() && e.EnableC() {
		return target&1 != 0
	}
	return target&3 != 0
}

func (c *CPU) execMiscMem(e env.Environment, instr uint32) *Trap {
	funct3 := isa.Funct3(instr)
	switch funct3 {
	case 0b000: // FENCE
		e.AccountGenericOp()
		return nil
	case 0b001: // FENCE.I
		if !e.EnableZifence() {
			return raise(isa.IllegalInstruction, instr)
		}
		e.AccountGenericOp()
		return nil
	default:
		return raise(isa.IllegalInstruction, instr)
	}
}
