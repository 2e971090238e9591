package softfloat

import (
	"math"
	"math/big"
	"testing"

	"github.com/bassosimone/rv32core/pkg/isa"
)

func f32bits(f float32) *big.Int {
	return new(big.Int).SetUint64(uint64(math.Float32bits(f)))
}

func bitsToF32(raw *big.Int) float32 {
	return math.Float32frombits(uint32(raw.Uint64()))
}

func TestAddMatchesHardwareFloat32(t *testing.T) {
	a, b := float32(1.5), float32(2.25)
	raw, flags := Add(isa.Float32, f32bits(a), f32bits(b), RNE)
	if got := bitsToF32(raw); got != a+b {
		t.Errorf("Add(1.5, 2.25) = %v, want %v", got, a+b)
	}
	if flags != 0 {
		t.Errorf("Add(1.5, 2.25) flags = %v, want 0", flags)
	}
}

func TestSubCancellationIsExactZero(t *testing.T) {
	raw, _ := Sub(isa.Float32, f32bits(1.0), f32bits(1.0), RNE)
	if bitsToF32(raw) != 0 {
		t.Errorf("1.0 - 1.0 = %v, want +0", bitsToF32(raw))
	}
}

func TestMulOverflowSetsOF(t *testing.T) {
	big32 := f32bits(math.MaxFloat32)
	_, flags := Mul(isa.Float32, big32, f32bits(2.0), RNE)
	if flags&FlagOF == 0 {
		t.Errorf("Mul(MaxFloat32, 2.0) flags = %v, want FlagOF set", flags)
	}
}

func TestDivByZeroSetsDZ(t *testing.T) {
	raw, flags := Div(isa.Float32, f32bits(1.0), f32bits(0.0), RNE)
	if flags&FlagDZ == 0 {
		t.Errorf("Div(1.0, 0.0) flags = %v, want FlagDZ set", flags)
	}
	if !math.IsInf(float64(bitsToF32(raw)), 1) {
		t.Errorf("Div(1.0, 0.0) = %v, want +Inf", bitsToF32(raw))
	}
}

func TestDivZeroByZeroIsInvalid(t *testing.T) {
	raw, flags := Div(isa.Float32, f32bits(0.0), f32bits(0.0), RNE)
	if flags&FlagNV == 0 {
		t.Errorf("Div(0.0, 0.0) flags = %v, want FlagNV set", flags)
	}
	if !IsCanonicalNaN(isa.Float32, raw) {
		t.Errorf("Div(0.0, 0.0) did not produce the canonical NaN")
	}
}

func TestAddSignalingNaNSetsNV(t *testing.T) {
	l := layoutFor(isa.Float32)
	sNaN := expField(l, l.maxExp())
	sNaN.SetBit(sNaN, l.manBits-2, 1) // top mantissa bit clear: signaling
	_, flags := Add(isa.Float32, sNaN, f32bits(1.0), RNE)
	if flags&FlagNV == 0 {
		t.Errorf("Add with a signaling NaN operand must set FlagNV")
	}
}

func TestMinMaxNaNRules(t *testing.T) {
	nan := CanonicalNaN(isa.Float32)
	one := f32bits(1.0)
	if got, _ := Min(isa.Float32, nan, one); got.Cmp(one) != 0 {
		t.Errorf("Min(NaN, 1.0) must return 1.0")
	}
	if got, _ := Max(isa.Float32, one, nan); got.Cmp(one) != 0 {
		t.Errorf("Max(1.0, NaN) must return 1.0")
	}
}

func TestMinMaxOrdering(t *testing.T) {
	a, b := f32bits(3.0), f32bits(-1.0)
	if got, _ := Min(isa.Float32, a, b); bitsToF32(got) != -1.0 {
		t.Errorf("Min(3.0, -1.0) = %v, want -1.0", bitsToF32(got))
	}
	if got, _ := Max(isa.Float32, a, b); bitsToF32(got) != 3.0 {
		t.Errorf("Max(3.0, -1.0) = %v, want 3.0", bitsToF32(got))
	}
}

func TestMinMaxSignedZero(t *testing.T) {
	negZero, posZero := f32bits(float32(math.Copysign(0, -1))), f32bits(0.0)
	if got, _ := Min(isa.Float32, negZero, posZero); got.Cmp(negZero) != 0 {
		t.Errorf("Min(-0.0, +0.0) must return -0.0")
	}
	if got, _ := Max(isa.Float32, negZero, posZero); got.Cmp(posZero) != 0 {
		t.Errorf("Max(-0.0, +0.0) must return +0.0")
	}
	if got, _ := Min(isa.Float32, posZero, negZero); got.Cmp(negZero) != 0 {
		t.Errorf("Min(+0.0, -0.0) must return -0.0")
	}
	if got, _ := Max(isa.Float32, posZero, negZero); got.Cmp(posZero) != 0 {
		t.Errorf("Max(+0.0, -0.0) must return +0.0")
	}
}

func TestSqrtOfFour(t *testing.T) {
	raw, flags, err := Sqrt(isa.Float32, f32bits(4.0), RNE, true)
	if err != nil {
		t.Fatalf("Sqrt(4.0) error: %v", err)
	}
	if bitsToF32(raw) != 2.0 {
		t.Errorf("Sqrt(4.0) = %v, want 2.0", bitsToF32(raw))
	}
	if flags != 0 {
		t.Errorf("Sqrt(4.0) flags = %v, want 0", flags)
	}
}

func TestSqrtOfNegativeIsInvalid(t *testing.T) {
	_, flags, err := Sqrt(isa.Float32, f32bits(-4.0), RNE, true)
	if err != nil {
		t.Fatalf("Sqrt(-4.0) error: %v", err)
	}
	if flags&FlagNV == 0 {
		t.Errorf("Sqrt(-4.0) flags = %v, want FlagNV set", flags)
	}
}

func TestAccurateQuadSqrtUnimplemented(t *testing.T) {
	_, _, err := Sqrt(isa.Float128, RawFromBytes(make([]byte, 16)), RNE, true)
	if err == nil {
		t.Error("Sqrt(Float128, accurate=true) must report an error")
	}
}

func TestClassifyZeroAndInfinity(t *testing.T) {
	if got := Classify(isa.Float32, f32bits(0.0)); got != 1<<4 {
		t.Errorf("Classify(+0.0) = %b, want bit 4", got)
	}
	if got := Classify(isa.Float32, f32bits(float32(math.Inf(1)))); got != 1<<7 {
		t.Errorf("Classify(+Inf) = %b, want bit 7", got)
	}
	if got := Classify(isa.Float32, f32bits(float32(math.Inf(-1)))); got != 1<<0 {
		t.Errorf("Classify(-Inf) = %b, want bit 0", got)
	}
}

func TestNaNBoxRoundTrip(t *testing.T) {
	single := f32bits(1.5)
	boxed := NaNBox(isa.Float32, isa.Float64, single)
	unboxed := NaNUnbox(isa.Float32, isa.Float64, boxed)
	if unboxed.Cmp(single) != 0 {
		t.Errorf("NaN-box round trip changed the value: got 0x%x, want 0x%x", unboxed, single)
	}
}

func TestNaNUnboxOfImproperlyBoxedValueIsCanonicalNaN(t *testing.T) {
	notBoxed := new(big.Int).SetUint64(0x3F800000) // 1.0f in the low 32 bits, zero above
	got := NaNUnbox(isa.Float32, isa.Float64, notBoxed)
	if !IsCanonicalNaN(isa.Float32, got) {
		t.Errorf("reading an improperly NaN-boxed register must yield the canonical NaN")
	}
}

func TestFCvtFloatToIntSaturatesOnOverflow(t *testing.T) {
	huge := f32bits(1e30)
	v, flags := FCvtFloatToInt(isa.Float32, huge, RTZ, false)
	if v != 0x7FFFFFFF {
		t.Errorf("FCvtFloatToInt(1e30) = 0x%x, want 0x7FFFFFFF", v)
	}
	if flags&FlagNV == 0 {
		t.Errorf("FCvtFloatToInt(1e30) flags = %v, want FlagNV set", flags)
	}
}

func TestFCvtIntToFloatRoundTrip(t *testing.T) {
	raw, _ := FCvtIntToFloat(isa.Float32, 0xFFFFFFD6, RNE, false) // -42
	if bitsToF32(raw) != -42.0 {
		t.Errorf("FCvtIntToFloat(-42) = %v, want -42.0", bitsToF32(raw))
	}
}

func TestRoundMagnitudeToIntTiesToEven(t *testing.T) {
	half := new(big.Float).SetPrec(64).SetFloat64(2.5)
	result, inexact := roundMagnitudeToInt(half, RNE, false)
	if result.Int64() != 2 {
		t.Errorf("round-to-nearest-even(2.5) = %v, want 2", result)
	}
	if !inexact {
		t.Error("rounding 2.5 to an integer must report inexact")
	}
}
