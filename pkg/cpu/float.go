package cpu

import (
	"math/big"

	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/isa"
	"github.com/bassosimone/rv32core/pkg/softfloat"
)

// OP-FP funct5 values (top 5 bits of funct7).
const (
	fpAdd     uint32 = 0b00000
	fpSub     uint32 = 0b00001
	fpMul     uint32 = 0b00010
	fpDiv     uint32 = 0b00011
	fpSqrt    uint32 = 0b01011
	fpSgnj    uint32 = 0b00100
	fpMinMax  uint32 = 0b00101
	fpCvtXfmt uint32 = 0b01000 // cross-width FCVT.fmt.srcfmt
	fpCmp     uint32 = 0b10100
	fpCvtToI  uint32 = 0b11000 // FCVT.W(U).fmt
	fpCvtFromI uint32 = 0b11010 // FCVT.fmt.W(U)
	fpMvToX   uint32 = 0b11100 // FMV.X.fmt / FCLASS.fmt
	fpMvFromX uint32 = 0b11110 // FMV.fmt.X
)

// fmtWidth maps the 2-bit fmt field (isa.Funct2) to a float width.
func fmtWidth(fmt uint32) (isa.FloatWidth, bool) {
	switch fmt {
	case 0b00:
		return isa.Float32, true
	case 0b01:
		return isa.Float64, true
	case 0b11:
		return isa.Float128, true
	default:
		return isa.FloatNone, false
	}
}

// widthAvailable reports whether width is both compiled in and, for F/D/Q,
// runtime-enabled.
func widthAvailable(c *CPU, e env.Environment, width isa.FloatWidth) bool {
	switch width {
	case isa.Float32:
		return c.floatWidth.HasF() && e.EnableF()
	case isa.Float64:
		return c.floatWidth.HasD() && e.EnableD()
	case isa.Float128:
		return c.floatWidth.HasQ() && e.EnableQ()
	default:
		return false
	}
}

// resolveRM resolves an instruction's rm field, substituting frm for the
// dynamic-rounding-mode encoding 0b111, and raising IllegalInstruction for
// an out-of-range static mode or an invalid frm.
func (c *CPU) resolveRM(instr uint32) (softfloat.RoundingMode, *Trap) {
	rm := softfloat.RoundingMode(isa.RM(instr))
	if rm == softfloat.RDyn {
		rm = softfloat.RoundingMode(c.Frm())
	}
	if !rm.Valid() {
		return 0, raise(isa.IllegalInstruction, instr)
	}
	return rm, nil
}

// floatRegisterAt reads float register index's bit pattern at width,
// unboxing from the CPU's configured (wider) width if necessary.
func (c *CPU) floatRegisterAt(index uint32, width isa.FloatWidth) *big.Int {
	raw := c.floatRegisterRaw(index)
	if width == c.floatWidth {
		return raw
	}
	return softfloat.NaNUnbox(width, c.floatWidth, raw)
}

// setFloatRegisterAt writes raw (a width-wide bit pattern) into float
// register index, NaN-boxing up to the CPU's configured width if narrower.
func (c *CPU) setFloatRegisterAt(e env.Environment, index uint32, width isa.FloatWidth, raw *big.Int) {
	if width != c.floatWidth {
		raw = softfloat.NaNBox(width, c.floatWidth, raw)
	}
	c.setFloatRegisterRaw(index, raw)
	c.markFloatDirty(e)
}

func (c *CPU) loadFloatFromMemory(e env.Environment, address uint32, width isa.FloatWidth) (*big.Int, *Trap) {
	if address&(uint32(width)-1) != 0 {
		return nil, raise(isa.MisalignedLoad, address)
	}
	raw := new(big.Int)
	numWords := uint32(width) / 4
	for i := uint32(0); i < numWords; i++ {
		word, err := e.ReadWord(address+i*4, 0xFFFFFFFF)
		if err != nil {
			return nil, trapFromFault(toFault(err, isa.AccessLoad))
		}
		chunk := new(big.Int).Lsh(new(big.Int).SetUint64(uint64(word)), uint(i)*32)
		raw.Or(raw, chunk)
	}
	switch width {
	case isa.Float64:
		e.AccountMemoryDoubleLoad(address)
	case isa.Float128:
		e.AccountMemoryQuadLoad(address)
	default:
		e.AccountMemoryLoad(address)
	}
	return raw, nil
}

func (c *CPU) storeFloatToMemory(e env.Environment, address uint32, width isa.FloatWidth, raw *big.Int) *Trap {
	if address&(uint32(width)-1) != 0 {
		return raise(isa.MisalignedStore, address)
	}
	mask := new(big.Int).SetUint64(0xFFFFFFFF)
	numWords := uint32(width) / 4
	for i := uint32(0); i < numWords; i++ {
		word := new(big.Int).Rsh(raw, uint(i)*32)
		word.And(word, mask)
		if err := e.WriteWord(address+i*4, uint32(word.Uint64()), 0xFFFFFFFF); err != nil {
			return trapFromFault(toFault(err, isa.AccessStore))
		}
	}
	switch width {
	case isa.Float64:
		e.AccountMemoryDoubleStore(address)
	case isa.Float128:
		e.AccountMemoryQuadStore(address)
	default:
		e.AccountMemoryStore(address)
	}
	return nil
}

// wordsFor reports the accounting word count for a float op at width (1
// for single, 2 for double, 4 for quad).
func wordsFor(width isa.FloatWidth) uint32 { return uint32(width) / 4 }

func (c *CPU) setFflagsFromFlags(e env.Environment, flags softfloat.Flags) {
	if flags == 0 {
		return
	}
	c.SetFflags(uint8(flags))
	c.markFloatDirty(e)
}

// execFloat dispatches LOAD-FP, STORE-FP, OP-FP, and the fused
// multiply-add opcodes; arithmetic itself is delegated to pkg/softfloat.
func (c *CPU) execFloat(e env.Environment, instr, opcode uint32) *Trap {
	switch opcode {
	case isa.OpLoadFP:
		return c.execLoadFP(e, instr)
	case isa.OpStoreFP:
		return c.execStoreFP(e, instr)
	case isa.OpMADD, isa.OpMSUB, isa.OpNMSUB, isa.OpNMADD:
		return c.execFMA(e, instr, opcode)
	default:
		return c.execOPFP(e, instr)
	}
}

func (c *CPU) execLoadFP(e env.Environment, instr uint32) *Trap {
	width, ok := loadStoreWidth(isa.Funct3(instr))
	if !ok || !widthAvailable(c, e, width) {
		return raise(isa.IllegalInstruction, instr)
	}
	address := c.Register(isa.Rs1(instr)) + isa.ImmI(instr)
	raw, trap := c.loadFloatFromMemory(e, address, width)
	if trap != nil {
		return trap
	}
	c.setFloatRegisterAt(e, isa.Rd(instr), width, raw)
	return nil
}

func (c *CPU) execStoreFP(e env.Environment, instr uint32) *Trap {
	width, ok := loadStoreWidth(isa.Funct3(instr))
	if !ok || !widthAvailable(c, e, width) {
		return raise(isa.IllegalInstruction, instr)
	}
	address := c.Register(isa.Rs1(instr)) + isa.ImmS(instr)
	raw := c.floatRegisterAt(isa.Rs2(instr), width)
	return c.storeFloatToMemory(e, address, width, raw)
}

func loadStoreWidth(funct3 uint32) (isa.FloatWidth, bool) {
	switch funct3 {
	case 0b010:
		return isa.Float32, true
	case 0b011:
		return isa.Float64, true
	case 0b100:
		return isa.Float128, true
	default:
		return isa.FloatNone, false
	}
}

func (c *CPU) execFMA(e env.Environment, instr, opcode uint32) *Trap {
	width, ok := fmtWidth(isa.Funct2(instr))
	if !ok || !widthAvailable(c, e, width) {
		return raise(isa.IllegalInstruction, instr)
	}
	rm, trap := c.resolveRM(instr)
	if trap != nil {
		return trap
	}
	a := c.floatRegisterAt(isa.Rs1(instr), width)
	b := c.floatRegisterAt(isa.Rs2(instr), width)
	cc := c.floatRegisterAt(isa.Rs3(instr), width)

	var negateProduct, negateAddend bool
	switch opcode {
	case isa.OpMSUB:
		negateAddend = true
	case isa.OpNMSUB:
		negateProduct = true
	case isa.OpNMADD:
		negateProduct = true
		negateAddend = true
	}

	raw, flags := softfloat.Fma(width, a, b, cc, rm, negateProduct, negateAddend)
	e.AccountFloatTernOp(wordsFor(width))
	c.setFflagsFromFlags(e, flags)
	c.setFloatRegisterAt(e, isa.Rd(instr), width, raw)
	return nil
}

func (c *CPU) execOPFP(e env.Environment, instr uint32) *Trap {
	funct5 := isa.Funct5(instr)
	funct3 := isa.Funct3(instr)
	fmtField := isa.Funct2(instr)
	rd := isa.Rd(instr)
	rs2 := isa.Rs2(instr)

	switch funct5 {
	case fpAdd, fpSub, fpMul, fpDiv:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) {
			return raise(isa.IllegalInstruction, instr)
		}
		rm, trap := c.resolveRM(instr)
		if trap != nil {
			return trap
		}
		a := c.floatRegisterAt(isa.Rs1(instr), width)
		b := c.floatRegisterAt(rs2, width)
		var raw *big.Int
		var flags softfloat.Flags
		switch funct5 {
		case fpAdd:
			raw, flags = softfloat.Add(width, a, b, rm)
			e.AccountFloatOp(wordsFor(width))
		case fpSub:
			raw, flags = softfloat.Sub(width, a, b, rm)
			e.AccountFloatOp(wordsFor(width))
		case fpMul:
			raw, flags = softfloat.Mul(width, a, b, rm)
			e.AccountFloatOp(wordsFor(width))
		default: // fpDiv
			raw, flags = softfloat.Div(width, a, b, rm)
			e.AccountFloatDivide(wordsFor(width))
		}
		c.setFflagsFromFlags(e, flags)
		c.setFloatRegisterAt(e, rd, width, raw)
		return nil

	case fpSqrt:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) || rs2 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		rm, trap := c.resolveRM(instr)
		if trap != nil {
			return trap
		}
		accurate := sqrtIsAccurate(e, width)
		a := c.floatRegisterAt(isa.Rs1(instr), width)
		raw, flags, err := softfloat.Sqrt(width, a, rm, accurate)
		if err != nil {
			return raise(isa.IllegalInstruction, instr)
		}
		e.AccountSqrt(wordsFor(width), uint32(layoutIterations(width)))
		c.setFflagsFromFlags(e, flags)
		c.setFloatRegisterAt(e, rd, width, raw)
		return nil

	case fpSgnj:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) {
			return raise(isa.IllegalInstruction, instr)
		}
		var mode softfloat.SignInjectMode
		switch funct3 {
		case 0b000:
			mode = softfloat.SignInjectCopy
		case 0b001:
			mode = softfloat.SignInjectNegate
		case 0b010:
			mode = softfloat.SignInjectXor
		default:
			return raise(isa.IllegalInstruction, instr)
		}
		a := c.floatRegisterAt(isa.Rs1(instr), width)
		b := c.floatRegisterAt(rs2, width)
		raw := softfloat.SignInject(width, a, b, mode)
		e.AccountFloatOp(wordsFor(width))
		c.setFloatRegisterAt(e, rd, width, raw)
		return nil

	case fpMinMax:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) {
			return raise(isa.IllegalInstruction, instr)
		}
		a := c.floatRegisterAt(isa.Rs1(instr), width)
		b := c.floatRegisterAt(rs2, width)
		var raw *big.Int
		var flags softfloat.Flags
		if funct3 == 0 {
			raw, flags = softfloat.Min(width, a, b)
		} else if funct3 == 1 {
			raw, flags = softfloat.Max(width, a, b)
		} else {
			return raise(isa.IllegalInstruction, instr)
		}
		e.AccountFloatOp(wordsFor(width))
		c.setFflagsFromFlags(e, flags)
		c.setFloatRegisterAt(e, rd, width, raw)
		return nil

	case fpCmp:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) {
			return raise(isa.IllegalInstruction, instr)
		}
		a := c.floatRegisterAt(isa.Rs1(instr), width)
		b := c.floatRegisterAt(rs2, width)
		var result bool
		var flags softfloat.Flags
		switch funct3 {
		case 0b010: // FEQ
			result, flags = softfloat.Eq(width, a, b)
		case 0b001: // FLT
			result, flags = softfloat.Lt(width, a, b)
		case 0b000: // FLE
			result, flags = softfloat.Le(width, a, b)
		default:
			return raise(isa.IllegalInstruction, instr)
		}
		e.AccountFloatOp(wordsFor(width))
		c.setFflagsFromFlags(e, flags)
		c.SetRegister(rd, boolToWord(result))
		return nil

	case fpCvtToI:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) {
			return raise(isa.IllegalInstruction, instr)
		}
		var unsigned bool
		switch rs2 {
		case 0b00000:
			unsigned = false
		case 0b00001:
			unsigned = true
		default:
			return raise(isa.IllegalInstruction, instr)
		}
		rm, trap := c.resolveRM(instr)
		if trap != nil {
			return trap
		}
		a := c.floatRegisterAt(isa.Rs1(instr), width)
		value, flags := softfloat.FCvtFloatToInt(width, a, rm, unsigned)
		e.AccountFcvtToInt(wordsFor(width))
		c.setFflagsFromFlags(e, flags)
		c.SetRegister(rd, value)
		return nil

	case fpCvtFromI:
		width, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, width) {
			return raise(isa.IllegalInstruction, instr)
		}
		var unsigned bool
		switch rs2 {
		case 0b00000:
			unsigned = false
		case 0b00001:
			unsigned = true
		default:
			return raise(isa.IllegalInstruction, instr)
		}
		rm, trap := c.resolveRM(instr)
		if trap != nil {
			return trap
		}
		bits := c.Register(isa.Rs1(instr))
		raw, flags := softfloat.FCvtIntToFloat(width, bits, rm, unsigned)
		e.AccountFcvtFromInt(wordsFor(width))
		c.setFflagsFromFlags(e, flags)
		c.setFloatRegisterAt(e, rd, width, raw)
		return nil

	case fpCvtXfmt:
		dstWidth, ok := fmtWidth(fmtField)
		if !ok || !widthAvailable(c, e, dstWidth) {
			return raise(isa.IllegalInstruction, instr)
		}
		srcWidth, ok := fmtWidth(rs2)
		if !ok || !widthAvailable(c, e, srcWidth) {
			return raise(isa.IllegalInstruction, instr)
		}
		rm, trap := c.resolveRM(instr)
		if trap != nil {
			return trap
		}
		a := c.floatRegisterAt(isa.Rs1(instr), srcWidth)
		raw, flags := softfloat.FCvtFloatToFloat(srcWidth, dstWidth, a, rm)
		e.AccountFloatOp(wordsFor(dstWidth))
		c.setFflagsFromFlags(e, flags)
		c.setFloatRegisterAt(e, rd, dstWidth, raw)
		return nil

	case fpMvToX:
		if rs2 != 0 {
			return raise(isa.IllegalInstruction, instr)
		}
		switch funct3 {
		case 0b000: // FMV.X.W — RV32 only ever moves a single-precision bit pattern
			if fmtField != 0b00 || !widthAvailable(c, e, isa.Float32) {
				return raise(isa.IllegalInstruction, instr)
			}
			a := c.floatRegisterAt(isa.Rs1(instr), isa.Float32)
			e.AccountGenericOp()
			c.SetRegister(rd, uint32(a.Uint64()))
		case 0b001: // FCLASS.fmt — defined for every supported width
			width, ok := fmtWidth(fmtField)
			if !ok || !widthAvailable(c, e, width) {
				return raise(isa.IllegalInstruction, instr)
			}
			a := c.floatRegisterAt(isa.Rs1(instr), width)
			e.AccountGenericOp()
			c.SetRegister(rd, softfloat.Classify(width, a))
		default:
			return raise(isa.IllegalInstruction, instr)
		}
		return nil

	case fpMvFromX:
		if fmtField != 0b00 || rs2 != 0 || funct3 != 0 || !widthAvailable(c, e, isa.Float32) {
			return raise(isa.IllegalInstruction, instr)
		}
		bits := c.Register(isa.Rs1(instr))
		raw := new(big.Int).SetUint64(uint64(bits))
		e.AccountGenericOp()
		c.setFloatRegisterAt(e, rd, isa.Float32, raw)
		return nil

	default:
		return raise(isa.IllegalInstruction, instr)
	}
}

func sqrtIsAccurate(e env.Environment, width isa.FloatWidth) bool {
	switch width {
	case isa.Float32:
		return e.UseAccurateSingleSqrt()
	case isa.Float64:
		return e.UseAccurateDoubleSqrt()
	default:
		return e.UseAccurateQuadSqrt()
	}
}

// layoutIterations is the iteration count AccountSqrt is given for every
// FSQRT, fast or accurate, growing with a width's mantissa size, without
// depending on pkg/softfloat's internal layout type.
func layoutIterations(width isa.FloatWidth) int {
	switch width {
	case isa.Float32:
		return 3
	case isa.Float64:
		return 4
	default:
		return 5
	}
}
