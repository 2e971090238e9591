package isa

import "testing"

func TestByteLaneMaskByte(t *testing.T) {
	cases := []struct {
		address uint32
		want    uint32
	}{
		{0, 0x000000FF},
		{1, 0x0000FF00},
		{2, 0x00FF0000},
		{3, 0xFF000000},
		{4, 0x000000FF},
	}
	for _, c := range cases {
		if got := ByteLaneMask(c.address, 1); got != c.want {
			t.Errorf("ByteLaneMask(%d, 1) = 0x%08x, want 0x%08x", c.address, got, c.want)
		}
	}
}

func TestByteLaneMaskHalf(t *testing.T) {
	if got := ByteLaneMask(0, 2); got != 0x0000FFFF {
		t.Errorf("ByteLaneMask(0, 2) = 0x%08x, want 0x0000FFFF", got)
	}
	if got := ByteLaneMask(2, 2); got != 0xFFFF0000 {
		t.Errorf("ByteLaneMask(2, 2) = 0x%08x, want 0xFFFF0000", got)
	}
}

func TestImmIRoundTrip(t *testing.T) {
	instr := EncodeI(OpOPImm, 5, 0, 6, 0xFFFFFFF5) // imm = -11
	if got := int32(ImmI(instr)); got != -11 {
		t.Errorf("ImmI round-trip = %d, want -11", got)
	}
	if Rd(instr) != 5 || Rs1(instr) != 6 || Opcode(instr) != OpOPImm {
		t.Errorf("field extraction mismatch on encoded I-type instruction")
	}
}

func TestImmBRoundTrip(t *testing.T) {
	instr := EncodeB(OpBranch, 0b000, 1, 2, 0xFFFFFFF0) // imm = -16
	if got := int32(ImmB(instr)); got != -16 {
		t.Errorf("ImmB round-trip = %d, want -16", got)
	}
}

func TestImmJRoundTrip(t *testing.T) {
	instr := EncodeJ(OpJAL, 1, 8)
	if got := ImmJ(instr); got != 8 {
		t.Errorf("ImmJ round-trip = %d, want 8", got)
	}
	if Rd(instr) != 1 {
		t.Errorf("Rd(jal) = %d, want 1", Rd(instr))
	}
}

func TestImmURoundTrip(t *testing.T) {
	instr := EncodeU(OpLUI, 5, 0xABCDE000)
	if got := ImmU(instr); got != 0xABCDE000 {
		t.Errorf("ImmU round-trip = 0x%08x, want 0xABCDE000", got)
	}
}

func TestMemoryAccessFailureCause(t *testing.T) {
	cases := []struct {
		failure MemoryAccessFailure
		kind    AccessKind
		want    ExceptionCause
	}{
		{Unaligned, AccessInstructionFetch, MisalignedPC},
		{Unaligned, AccessLoad, MisalignedLoad},
		{Unaligned, AccessStore, MisalignedStore},
		{AccessFault, AccessLoad, LoadFault},
		{PageFault, AccessStore, StorePageFault},
	}
	for _, c := range cases {
		if got := c.failure.Cause(c.kind); got != c.want {
			t.Errorf("%v.Cause(%v) = %v, want %v", c.failure, c.kind, got, c.want)
		}
	}
}

func TestFloatWidthHasExtension(t *testing.T) {
	if FloatNone.HasF() || FloatNone.HasD() || FloatNone.HasQ() {
		t.Error("FloatNone must not report any extension present")
	}
	if !Float32.HasF() || Float32.HasD() {
		t.Error("Float32 must have F but not D")
	}
	if !Float64.HasF() || !Float64.HasD() || Float64.HasQ() {
		t.Error("Float64 must have F and D but not Q")
	}
	if !Float128.HasF() || !Float128.HasD() || !Float128.HasQ() {
		t.Error("Float128 must have F, D, and Q")
	}
}
