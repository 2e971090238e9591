package cpu

import "github.com/bassosimone/rv32core/pkg/isa"

// signExtend sign-extends the low `bits` bits of value.
func signExtend(value uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(value<<shift) >> shift)
}

// expandCompressed expands a 16-bit instruction word into its canonical
// 32-bit equivalent, per RISC-V Volume I §16 (the "C" extension). Reserved
// and hint-zero encodings that must trap raise IllegalInstruction;
// encodings requiring F or D that the configuration or runtime flags do
// not support also raise IllegalInstruction.
func expandCompressed(word uint16, floatWidth isa.FloatWidth, enableF, enableD bool) (uint32, *Trap) {
	w := uint32(word)
	quadrant := w & 0x3
	funct3 := (w >> 13) & 0x7

	illegal := func() (uint32, *Trap) {
		return 0, raise(isa.IllegalInstruction, w)
	}

	regPrime := func(field uint32) uint32 { return 8 + (field & 0x7) }

	switch quadrant {
	case 0b00:
		rdPrime := regPrime(w >> 2)
		rs1Prime := regPrime(w >> 7)
		rs2Prime := regPrime(w >> 2)
		switch funct3 {
		case 0b000: // C.ADDI4SPN
			imm5_4 := (w >> 11) & 0x3
			imm9_6 := (w >> 7) & 0xF
			imm2 := (w >> 6) & 0x1
			imm3 := (w >> 5) & 0x1
			nzuimm := (imm9_6 << 6) | (imm5_4 << 4) | (imm3 << 3) | (imm2 << 2)
			if nzuimm == 0 {
				return illegal()
			}
			return isa.EncodeI(isa.OpOPImm, rdPrime, 0, 2, nzuimm), nil
		case 0b001: // C.FLD
			if !enableD {
				return illegal()
			}
			uimm := clOffsetD(w)
			return isa.EncodeI(isa.OpLoadFP, rdPrime, 0b011, rs1Prime, uimm), nil
		case 0b010: // C.LW
			uimm := clOffsetW(w)
			return isa.EncodeI(isa.OpLoad, rdPrime, 0b010, rs1Prime, uimm), nil
		case 0b011: // C.FLW
			if !enableF {
				return illegal()
			}
			uimm := clOffsetW(w)
			return isa.EncodeI(isa.OpLoadFP, rdPrime, 0b010, rs1Prime, uimm), nil
		case 0b101: // C.FSD
			if !enableD {
				return illegal()
			}
			uimm := clOffsetD(w)
			return isa.EncodeS(isa.OpStoreFP, 0b011, rs1Prime, rs2Prime, uimm), nil
		case 0b110: // C.SW
			uimm := clOffsetW(w)
			return isa.EncodeS(isa.OpStore, 0b010, rs1Prime, rs2Prime, uimm), nil
		case 0b111: // C.FSW
			if !enableF {
				return illegal()
			}
			uimm := clOffsetW(w)
			return isa.EncodeS(isa.OpStoreFP, 0b010, rs1Prime, rs2Prime, uimm), nil
		default:
			return illegal()
		}

	case 0b01:
		rd := (w >> 7) & 0x1F
		switch funct3 {
		case 0b000: // C.ADDI / C.NOP
			imm := signExtend(((w>>12)&1)<<5|((w>>2)&0x1F), 6)
			return isa.EncodeI(isa.OpOPImm, rd, 0, rd, imm), nil
		case 0b001: // C.JAL (RV32-only form)
			imm := cjOffset(w)
			return isa.EncodeJ(isa.OpJAL, 1, imm), nil
		case 0b010: // C.LI
			imm := signExtend(((w>>12)&1)<<5|((w>>2)&0x1F), 6)
			return isa.EncodeI(isa.OpOPImm, rd, 0, 0, imm), nil
		case 0b011:
			if rd == 2 { // C.ADDI16SP
				off9 := (w >> 12) & 1
				off4 := (w >> 6) & 1
				off6 := (w >> 5) & 1
				off8_7 := (w >> 3) & 0x3
				off5 := (w >> 2) & 1
				raw := (off9 << 9) | (off8_7 << 7) | (off6 << 6) | (off5 << 5) | (off4 << 4)
				imm := signExtend(raw, 10)
				if imm == 0 {
					return illegal()
				}
				return isa.EncodeI(isa.OpOPImm, 2, 0, 2, imm), nil
			}
			// C.LUI
			if rd == 0 {
				return illegal()
			}
			off17 := (w >> 12) & 1
			off16_12 := (w >> 2) & 0x1F
			nz := (off17 << 5) | off16_12
			if nz == 0 {
				return illegal()
			}
			simm := signExtend(nz, 6)
			value := simm << 12
			return isa.EncodeU(isa.OpLUI, rd, value), nil
		case 0b100:
			rdPrime := regPrime(w >> 7)
			funct2 := (w >> 10) & 0x3
			switch funct2 {
			case 0b00: // C.SRLI
				shamt := ((w >> 12) & 1 << 5) | ((w >> 2) & 0x1F)
				if (w>>12)&1 != 0 {
					return illegal()
				}
				return isa.EncodeI(isa.OpOPImm, rdPrime, 0b101, rdPrime, shamt), nil
			case 0b01: // C.SRAI
				if (w>>12)&1 != 0 {
					return illegal()
				}
				shamt := (w >> 2) & 0x1F
				return isa.EncodeI(isa.OpOPImm, rdPrime, 0b101, rdPrime, shamt|(0b0100000<<5)), nil
			case 0b10: // C.ANDI
				imm := signExtend(((w>>12)&1)<<5|((w>>2)&0x1F), 6)
				return isa.EncodeI(isa.OpOPImm, rdPrime, 0b111, rdPrime, imm), nil
			default: // funct2 == 0b11, register-register group
				if (w>>12)&1 != 0 {
					return illegal()
				}
				rs2Prime := regPrime(w >> 2)
				switch (w >> 5) & 0x3 {
				case 0b00: // C.SUB
					return isa.EncodeR(isa.OpOP, rdPrime, 0, rdPrime, rs2Prime, 0b0100000), nil
				case 0b01: // C.XOR
					return isa.EncodeR(isa.OpOP, rdPrime, 0b100, rdPrime, rs2Prime, 0), nil
				case 0b10: // C.OR
					return isa.EncodeR(isa.OpOP, rdPrime, 0b110, rdPrime, rs2Prime, 0), nil
				default: // C.AND
					return isa.EncodeR(isa.OpOP, rdPrime, 0b111, rdPrime, rs2Prime, 0), nil
				}
			}
		case 0b101: // C.J
			imm := cjOffset(w)
			return isa.EncodeJ(isa.OpJAL, 0, imm), nil
		case 0b110: // C.BEQZ
			rs1Prime := regPrime(w >> 7)
			imm := cbOffset(w)
			return isa.EncodeB(isa.OpBranch, 0b000, rs1Prime, 0, imm), nil
		default: // 0b111: C.BNEZ
			rs1Prime := regPrime(w >> 7)
			imm := cbOffset(w)
			return isa.EncodeB(isa.OpBranch, 0b001, rs1Prime, 0, imm), nil
		}

	default: // 0b10
		rd := (w >> 7) & 0x1F
		switch funct3 {
		case 0b000: // C.SLLI
			if (w>>12)&1 != 0 {
				return illegal()
			}
			shamt := (w >> 2) & 0x1F
			return isa.EncodeI(isa.OpOPImm, rd, 0b001, rd, shamt), nil
		case 0b001: // C.FLDSP
			if !enableD || rd == 0 {
				return illegal()
			}
			uimm := cssOffsetD(w) // reuse same bit layout as CI-form FLDSP
			return isa.EncodeI(isa.OpLoadFP, rd, 0b011, 2, uimm), nil
		case 0b010: // C.LWSP
			if rd == 0 {
				return illegal()
			}
			off5 := (w >> 12) & 1
			off4_2 := (w >> 4) & 0x7
			off7_6 := (w >> 2) & 0x3
			uimm := (off7_6 << 6) | (off5 << 5) | (off4_2 << 2)
			return isa.EncodeI(isa.OpLoad, rd, 0b010, 2, uimm), nil
		case 0b011: // C.FLWSP
			if !enableF || rd == 0 {
				return illegal()
			}
			off5 := (w >> 12) & 1
			off4_2 := (w >> 4) & 0x7
			off7_6 := (w >> 2) & 0x3
			uimm := (off7_6 << 6) | (off5 << 5) | (off4_2 << 2)
			return isa.EncodeI(isa.OpLoadFP, rd, 0b010, 2, uimm), nil
		case 0b100:
			rs2 := (w >> 2) & 0x1F
			if (w>>12)&1 == 0 {
				if rs2 == 0 { // C.JR
					if rd == 0 {
						return illegal()
					}
					return isa.EncodeI(isa.OpJALR, 0, 0, rd, 0), nil
				}
				// C.MV
				return isa.EncodeR(isa.OpOP, rd, 0, 0, rs2, 0), nil
			}
			if rd == 0 && rs2 == 0 { // C.EBREAK
				return isa.EncodeI(isa.OpSystem, 0, 0, 0, 1), nil
			}
			if rs2 == 0 { // C.JALR
				if rd == 0 {
					return illegal()
				}
				return isa.EncodeI(isa.OpJALR, 1, 0, rd, 0), nil
			}
			// C.ADD
			return isa.EncodeR(isa.OpOP, rd, 0, rd, rs2, 0), nil
		case 0b101: // C.FSDSP
			if !enableD {
				return illegal()
			}
			rs2 := (w >> 2) & 0x1F
			off5_3 := (w >> 10) & 0x7
			off8_6 := (w >> 7) & 0x7
			uimm := (off8_6 << 6) | (off5_3 << 3)
			return isa.EncodeS(isa.OpStoreFP, 0b011, 2, rs2, uimm), nil
		case 0b110: // C.SWSP
			rs2 := (w >> 2) & 0x1F
			off5_2 := (w >> 9) & 0xF
			off7_6 := (w >> 7) & 0x3
			uimm := (off7_6 << 6) | (off5_2 << 2)
			return isa.EncodeS(isa.OpStore, 0b010, 2, rs2, uimm), nil
		default: // C.FSWSP
			if !enableF {
				return illegal()
			}
			rs2 := (w >> 2) & 0x1F
			off5_2 := (w >> 9) & 0xF
			off7_6 := (w >> 7) & 0x3
			uimm := (off7_6 << 6) | (off5_2 << 2)
			return isa.EncodeS(isa.OpStoreFP, 0b010, 2, rs2, uimm), nil
		}
	}
}

// clOffsetW computes the CL-format word offset shared by C.LW/C.SW/C.FLW/C.FSW.
func clOffsetW(w uint32) uint32 {
	off5_3 := (w >> 10) & 0x7
	off2 := (w >> 6) & 0x1
	off6 := (w >> 5) & 0x1
	return (off6 << 6) | (off5_3 << 3) | (off2 << 2)
}

// clOffsetD computes the CL-format doubleword offset shared by
// C.FLD/C.FSD.
func clOffsetD(w uint32) uint32 {
	off5_3 := (w >> 10) & 0x7
	off7_6 := (w >> 5) & 0x3
	return (off7_6 << 6) | (off5_3 << 3)
}

// cssOffsetD computes the CI-format doubleword stack offset of C.FLDSP.
// C.FSDSP uses the CSS layout, which differs, and is decoded inline.
func cssOffsetD(w uint32) uint32 {
	off5 := (w >> 12) & 1
	off4_3 := (w >> 5) & 0x3
	off8_6 := (w >> 2) & 0x7
	return (off8_6 << 6) | (off5 << 5) | (off4_3 << 3)
}

// cjOffset computes the CJ-format jump offset shared by C.J/C.JAL.
func cjOffset(w uint32) uint32 {
	off11 := (w >> 12) & 1
	off4 := (w >> 11) & 1
	off9_8 := (w >> 9) & 0x3
	off10 := (w >> 8) & 1
	off6 := (w >> 7) & 1
	off7 := (w >> 6) & 1
	off3_1 := (w >> 3) & 0x7
	off5 := (w >> 2) & 1
	raw := (off11 << 11) | (off10 << 10) | (off9_8 << 8) | (off7 << 7) | (off6 << 6) | (off5 << 5) | (off4 << 4) | (off3_1 << 1)
	return signExtend(raw, 12)
}

// cbOffset computes the CB-format branch offset shared by C.BEQZ/C.BNEZ.
func cbOffset(w uint32) uint32 {
	off8 := (w >> 12) & 1
	off4_3 := (w >> 10) & 0x3
	off7_6 := (w >> 5) & 0x3
	off2_1 := (w >> 3) & 0x3
	off5 := (w >> 2) & 1
	raw := (off8 << 8) | (off7_6 << 6) | (off5 << 5) | (off4_3 << 3) | (off2_1 << 1)
	return signExtend(raw, 9)
}
