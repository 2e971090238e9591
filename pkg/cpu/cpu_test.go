package cpu

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/flatenv"
	"github.com/bassosimone/rv32core/pkg/isa"
)

// countingEnv wraps a flatenv.Memory with its own Accounting chain (Self
// set to itself, not to the embedded Memory) so tests can observe exactly
// which accounting hook fired without flatenv knowing anything about it.
type countingEnv struct {
	*flatenv.Memory
	env.AccountingDefaults

	ifetch, alu, mul, div, amo, jump, floatOp int
	branch                                    []bool
}

func newCountingEnv() *countingEnv {
	e := &countingEnv{Memory: flatenv.New(strings.NewReader(""), &bytes.Buffer{}, nil)}
	e.AccountingDefaults.Self = e
	return e
}

func (e *countingEnv) AccountIfetch(uint32)         { e.ifetch++ }
func (e *countingEnv) AccountALUOp()                { e.alu++ }
func (e *countingEnv) AccountMulOp()                { e.mul++ }
func (e *countingEnv) AccountDivOp()                { e.div++ }
func (e *countingEnv) AccountAMOOp()                { e.amo++ }
func (e *countingEnv) AccountJumpOp()                { e.jump++ }
func (e *countingEnv) AccountBranchOp(taken, _ bool) { e.branch = append(e.branch, taken) }
func (e *countingEnv) AccountFloatOp(uint32)         { e.floatOp++ }

func writeWord(t *testing.T, e *countingEnv, address, word uint32) {
	t.Helper()
	if err := e.WriteWord(address, word, 0xFFFFFFFF); err != nil {
		t.Fatalf("WriteWord(0x%x): %v", address, err)
	}
}

// ADDI x1, x0, 42. Exercised at address 0x1000 rather than 0x80000000,
// since flatenv's 16 MiB RAM does not cover the latter; the architectural
// effect under test is identical either way.
func TestADDIImmediate(t *testing.T) {
	e := newCountingEnv()
	pc := uint32(0x1000)
	writeWord(t, e, pc, isa.EncodeI(isa.OpOPImm, 1, 0, 0, 42))

	c := New(isa.FloatNone)
	c.PutPC(pc)
	if err := c.Step(e); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := c.Register(1); got != 42 {
		t.Errorf("x1 = %d, want 42", got)
	}
	if c.PC() != pc+4 {
		t.Errorf("pc = 0x%x, want 0x%x", c.PC(), pc+4)
	}
	if e.ifetch != 1 || e.alu != 1 {
		t.Errorf("accounting = {ifetch:%d alu:%d}, want {1 1}", e.ifetch, e.alu)
	}
}

// Scenario 2: JAL x1, +8 at PC 0x1000.
func TestJAL(t *testing.T) {
	e := newCountingEnv()
	pc := uint32(0x1000)
	writeWord(t, e, pc, isa.EncodeJ(isa.OpJAL, 1, 8))

	c := New(isa.FloatNone)
	c.PutPC(pc)
	if err := c.Step(e); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := c.Register(1); got != pc+4 {
		t.Errorf("x1 = 0x%x, want 0x%x", got, pc+4)
	}
	if c.PC() != pc+8 {
		t.Errorf("pc = 0x%x, want 0x%x", c.PC(), pc+8)
	}
	if e.jump != 1 {
		t.Errorf("jump accounting = %d, want 1", e.jump)
	}
}

// Scenario 3: LUI x5, 0xABCDE; ADDI x5, x5, -1.
func TestLUIThenADDI(t *testing.T) {
	e := newCountingEnv()
	pc := uint32(0)
	writeWord(t, e, 0, isa.EncodeU(isa.OpLUI, 5, 0xABCDE000))
	writeWord(t, e, 4, isa.EncodeI(isa.OpOPImm, 5, 0, 5, 0xFFFFFFFF)) // imm = -1

	c := New(isa.FloatNone)
	c.PutPC(pc)
	if err := c.Step(e); err != nil {
		t.Fatalf("Step 1: %v", err)
	}
	if err := c.Step(e); err != nil {
		t.Fatalf("Step 2: %v", err)
	}
	if got := c.Register(5); got != 0xABCDDFFF {
		t.Errorf("x5 = 0x%08x, want 0xABCDDFFF", got)
	}
}

// Scenario 4: LR.W x2, (x1); SC.W x3, x4, (x1).
func TestLRSC(t *testing.T) {
	e := newCountingEnv()
	x1 := uint32(0x1000)
	lr := isa.EncodeR(isa.OpAMO, 2, 0b010, 1, 0, amoLR<<2)
	sc := isa.EncodeR(isa.OpAMO, 3, 0b010, 1, 4, amoSC<<2)
	writeWord(t, e, 0, lr)
	writeWord(t, e, 4, sc)
	writeWord(t, e, 8, sc) // repeated SC

	c := New(isa.FloatNone)
	c.SetRegister(1, x1)
	c.SetRegister(4, 0x99)

	if err := c.Step(e); err != nil {
		t.Fatalf("LR.W: %v", err)
	}
	if got := c.Register(2); got != 0 {
		t.Errorf("x2 after LR.W = %d, want 0", got)
	}

	if err := c.Step(e); err != nil {
		t.Fatalf("SC.W (first): %v", err)
	}
	if got := c.Register(3); got != 0 {
		t.Errorf("x3 after first SC.W = %d, want 0 (success)", got)
	}
	word, _ := e.ReadWord(x1, 0xFFFFFFFF)
	if word != 0x99 {
		t.Errorf("memory[0x1000] after successful SC.W = 0x%x, want 0x99", word)
	}

	if err := c.Step(e); err != nil {
		t.Fatalf("SC.W (second): %v", err)
	}
	if got := c.Register(3); got != 1 {
		t.Errorf("x3 after repeated SC.W = %d, want 1 (failure)", got)
	}
	word, _ = e.ReadWord(x1, 0xFFFFFFFF)
	if word != 0x99 {
		t.Errorf("memory[0x1000] after failed SC.W = 0x%x, want unchanged 0x99", word)
	}
	if e.amo != 3 {
		t.Errorf("amo accounting = %d, want 3", e.amo)
	}
}

// Scenario 5: DIV x1, x2, x3 with x2=INT_MIN, x3=-1: overflow convention,
// no exception.
func TestDivOverflowConvention(t *testing.T) {
	e := newCountingEnv()
	writeWord(t, e, 0, isa.EncodeR(isa.OpOP, 1, 0b100, 2, 3, 0b0000001))

	c := New(isa.FloatNone)
	c.SetRegister(2, 0x80000000)
	c.SetRegister(3, 0xFFFFFFFF)
	if err := c.Step(e); err != nil {
		t.Fatalf("DIV: %v", err)
	}
	if got := c.Register(1); got != 0x80000000 {
		t.Errorf("x1 = 0x%08x, want 0x80000000", got)
	}
	if e.div != 1 {
		t.Errorf("div accounting = %d, want 1", e.div)
	}
}

// Scenario 6: FADD.S f1, f2, f3 with f2=+1.0, f3=-1.0 NaN-boxed in 64-bit
// registers, rm=RNE.
func TestFAddSingleNaNBoxedInDoubleRegister(t *testing.T) {
	e := newCountingEnv()
	writeWord(t, e, 0, isa.EncodeR(isa.OpOPFP, 1, 0, 2, 3, uint32(fpAdd)<<2))

	c := New(isa.Float64)
	snap := c.Serialize()
	snap.FloatRegisters = make([][]byte, 32)
	for i := range snap.FloatRegisters {
		snap.FloatRegisters[i] = make([]byte, 8)
	}
	copy(snap.FloatRegisters[2], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x3F, 0x80, 0x00, 0x00}) // +1.0f boxed
	copy(snap.FloatRegisters[3], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xBF, 0x80, 0x00, 0x00}) // -1.0f boxed
	if err := c.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if err := c.Step(e); err != nil {
		t.Fatalf("FADD.S: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00} // +0.0f boxed
	got := c.Serialize().FloatRegisters[1]
	if !bytes.Equal(got, want) {
		t.Errorf("f1 raw = % x, want % x", got, want)
	}
	if c.Fflags() != 0 {
		t.Errorf("fflags = 0x%x, want 0 (exact cancellation)", c.Fflags())
	}
	if e.floatOp != 1 {
		t.Errorf("float_op accounting = %d, want 1", e.floatOp)
	}
}

func TestRegisterZeroAlwaysReadsZero(t *testing.T) {
	c := New(isa.FloatNone)
	c.SetRegister(0, 0xDEADBEEF)
	if got := c.Register(0); got != 0 {
		t.Errorf("x0 = 0x%x, want 0", got)
	}
}

func TestPutPCClearsLowBit(t *testing.T) {
	c := New(isa.FloatNone)
	c.PutPC(0x1001)
	if c.PC() != 0x1000 {
		t.Errorf("PC = 0x%x, want 0x1000", c.PC())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New(isa.Float64)
	c.SetRegister(3, 0xCAFEBABE)
	c.PutFcsr(0b01000001) // frm=2, NX set
	c.PutFStatus(isa.Clean)

	snap := c.Serialize()
	wire := EncodeSnapshot(snap)
	decoded, err := DecodeSnapshot(isa.Float64, wire)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	restored := New(isa.Float64)
	if err := restored.Restore(decoded); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Register(3) != 0xCAFEBABE {
		t.Errorf("x3 after round trip = 0x%x, want 0xCAFEBABE", restored.Register(3))
	}
	if restored.Fcsr() != c.Fcsr() {
		t.Errorf("fcsr after round trip = 0x%x, want 0x%x", restored.Fcsr(), c.Fcsr())
	}
	if restored.FStatus() != isa.Clean {
		t.Errorf("fstatus after round trip = %v, want Clean", restored.FStatus())
	}
}

func TestDecodeSnapshotRejectsMismatchedFloatBytes(t *testing.T) {
	c := New(isa.Float32)
	wire := EncodeSnapshot(c.Serialize())
	if _, err := DecodeSnapshot(isa.Float64, wire); err == nil {
		t.Error("DecodeSnapshot must reject a float_bytes mismatch")
	}
}

// Compressed-vs-canonical equivalence: C.ADDI must produce the same final
// state as its 32-bit expansion.
func TestCompressedADDIMatchesCanonical(t *testing.T) {
	// c.addi x5, 3  (quadrant 1, funct3 000, rd=5, imm=3)
	compressed := uint16(0b000_0_00101_00011_01)

	runWith := func(instr32 uint32, useCompressed bool, word uint16) *CPU {
		e := newCountingEnv()
		if useCompressed {
			var buf [2]byte
			buf[0] = byte(word)
			buf[1] = byte(word >> 8)
			if err := e.WriteByte(0, buf[0]); err != nil {
				t.Fatal(err)
			}
			if err := e.WriteByte(1, buf[1]); err != nil {
				t.Fatal(err)
			}
		} else {
			writeWord(t, e, 0, instr32)
		}
		c := New(isa.FloatNone)
		c.SetRegister(5, 10)
		if err := c.Step(e); err != nil {
			t.Fatalf("Step: %v", err)
		}
		return c
	}

	canonical := isa.EncodeI(isa.OpOPImm, 5, 0, 5, 3)
	cCPU := runWith(0, true, compressed)
	iCPU := runWith(canonical, false, 0)

	if cCPU.Register(5) != iCPU.Register(5) {
		t.Errorf("compressed x5=%d, canonical x5=%d, want equal", cCPU.Register(5), iCPU.Register(5))
	}
}
