package softfloat

import (
	"errors"
	"math/big"

	"github.com/bassosimone/rv32core/pkg/isa"
)

// nanResult is the shared "at least one operand is NaN" handling every
// binary/ternary op needs: propagate to the canonical quiet NaN, and set
// NV if any operand was a signaling NaN (RISC-V never propagates the
// payload of an input NaN — unlike IEEE-754's recommended behavior — it
// always produces the canonical NaN).
func nanResult(width isa.FloatWidth, flags Flags, operands ...Value) (*big.Int, Flags, bool) {
	any := false
	for _, v := range operands {
		if v.IsNaN() {
			any = true
			if v.Class == ClassSignalingNaN {
				flags |= FlagNV
			}
		}
	}
	if !any {
		return nil, flags, false
	}
	return CanonicalNaN(width), flags, true
}

func decodeAll(width isa.FloatWidth, raws ...*big.Int) []Value {
	out := make([]Value, len(raws))
	for i, r := range raws {
		out[i] = Decode(width, r)
	}
	return out
}

// Add computes a+b.
func Add(width isa.FloatWidth, araw, braw *big.Int, rm RoundingMode) (*big.Int, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	if raw, flags, ok := nanResult(width, 0, a, b); ok {
		return raw, flags
	}
	if a.Class == ClassInfinity && b.Class == ClassInfinity {
		if a.Sign != b.Sign {
			return CanonicalNaN(width), FlagNV
		}
		return Encode(width, Value{Width: width, Sign: a.Sign, Class: ClassInfinity}, rm)
	}
	if a.Class == ClassInfinity {
		return Encode(width, a, rm)
	}
	if b.Class == ClassInfinity {
		return Encode(width, b, rm)
	}
	sum := sumValues(width, a, b, rm)
	raw, flags := Encode(width, sum.result, rm)
	return raw, flags | sum.flags
}

// Sub computes a-b, by flipping b's sign bit (an exact, non-rounding
// operation) and delegating to Add.
func Sub(width isa.FloatWidth, araw, braw *big.Int, rm RoundingMode) (*big.Int, Flags) {
	l := layoutFor(width)
	signMask := new(big.Int).Lsh(big.NewInt(1), uint(l.totalBits-1))
	negRaw := new(big.Int).Xor(braw, signMask)
	return Add(width, araw, negRaw, rm)
}

type signedSum struct {
	result Value
	flags  Flags
}

// sumValues handles finite+finite addition, including exact cancellation
// (a+(-a) == +0, except when rounding towards -inf, per IEEE-754).
func sumValues(width isa.FloatWidth, a, b Value, rm RoundingMode) signedSum {
	az := a.Class == ClassZero
	bz := b.Class == ClassZero
	if az && bz {
		sign := a.Sign && b.Sign
		if a.Sign != b.Sign {
			sign = rm == RDN
		}
		return signedSum{result: Value{Width: width, Sign: sign, Class: ClassZero}}
	}
	if az {
		return signedSum{result: b}
	}
	if bz {
		return signedSum{result: a}
	}

	prec := layoutFor(width).precision() + 64
	am := new(big.Float).SetPrec(prec).Copy(a.Mag)
	bm := new(big.Float).SetPrec(prec).Copy(b.Mag)
	if a.Sign {
		am.Neg(am)
	}
	if b.Sign {
		bm.Neg(bm)
	}
	sum := new(big.Float).SetPrec(prec).Add(am, bm)
	if sum.Sign() == 0 {
		sign := rm == RDN
		return signedSum{result: Value{Width: width, Sign: sign, Class: ClassZero}}
	}
	sign := sum.Sign() < 0
	mag := new(big.Float).SetPrec(prec).Abs(sum)
	return signedSum{result: Value{Width: width, Sign: sign, Class: ClassNormal, Mag: mag}}
}

// Mul computes a*b.
func Mul(width isa.FloatWidth, araw, braw *big.Int, rm RoundingMode) (*big.Int, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	if raw, flags, ok := nanResult(width, 0, a, b); ok {
		return raw, flags
	}
	sign := a.Sign != b.Sign
	if (a.Class == ClassInfinity && b.Class == ClassZero) || (a.Class == ClassZero && b.Class == ClassInfinity) {
		return CanonicalNaN(width), FlagNV
	}
	if a.Class == ClassInfinity || b.Class == ClassInfinity {
		return Encode(width, Value{Width: width, Sign: sign, Class: ClassInfinity}, rm)
	}
	if a.Class == ClassZero || b.Class == ClassZero {
		return Encode(width, Value{Width: width, Sign: sign, Class: ClassZero}, rm)
	}
	prec := layoutFor(width).precision() + 64
	mag := new(big.Float).SetPrec(prec).Mul(a.Mag, b.Mag)
	return Encode(width, Value{Width: width, Sign: sign, Class: ClassNormal, Mag: mag}, rm)
}

// Div computes a/b.
func Div(width isa.FloatWidth, araw, braw *big.Int, rm RoundingMode) (*big.Int, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	if raw, flags, ok := nanResult(width, 0, a, b); ok {
		return raw, flags
	}
	sign := a.Sign != b.Sign
	if a.Class == ClassInfinity && b.Class == ClassInfinity {
		return CanonicalNaN(width), FlagNV
	}
	if a.Class == ClassZero && b.Class == ClassZero {
		return CanonicalNaN(width), FlagNV
	}
	if b.Class == ClassZero {
		if a.Class == ClassZero {
			return CanonicalNaN(width), FlagNV
		}
		raw, flags := Encode(width, Value{Width: width, Sign: sign, Class: ClassInfinity}, rm)
		return raw, flags | FlagDZ
	}
	if a.Class == ClassZero {
		return Encode(width, Value{Width: width, Sign: sign, Class: ClassZero}, rm)
	}
	if a.Class == ClassInfinity {
		return Encode(width, Value{Width: width, Sign: sign, Class: ClassInfinity}, rm)
	}
	if b.Class == ClassInfinity {
		return Encode(width, Value{Width: width, Sign: sign, Class: ClassZero}, rm)
	}
	prec := layoutFor(width).precision() + 64
	mag := new(big.Float).SetPrec(prec).Quo(a.Mag, b.Mag)
	return Encode(width, Value{Width: width, Sign: sign, Class: ClassNormal, Mag: mag}, rm)
}

// Fma computes (a*b)+c with a single rounding, optionally negating the
// product and/or the addend first — the one primitive FMADD/FMSUB/FNMSUB/
// FNMADD all reduce to.
func Fma(width isa.FloatWidth, araw, braw, craw *big.Int, rm RoundingMode, negateProduct, negateAddend bool) (*big.Int, Flags) {
	vs := decodeAll(width, araw, braw, craw)
	a, b, c := vs[0], vs[1], vs[2]
	if raw, flags, ok := nanResult(width, 0, a, b, c); ok {
		return raw, flags
	}
	if (a.Class == ClassInfinity && b.Class == ClassZero) || (a.Class == ClassZero && b.Class == ClassInfinity) {
		return CanonicalNaN(width), FlagNV
	}

	prodSign := a.Sign != b.Sign
	if negateProduct {
		prodSign = !prodSign
	}
	addSign := c.Sign
	if negateAddend {
		addSign = !addSign
	}

	prodIsInf := a.Class == ClassInfinity || b.Class == ClassInfinity
	prodIsZero := a.Class == ClassZero || b.Class == ClassZero

	if prodIsInf && c.Class == ClassInfinity && prodSign != addSign {
		return CanonicalNaN(width), FlagNV
	}
	if prodIsInf {
		return Encode(width, Value{Width: width, Sign: prodSign, Class: ClassInfinity}, rm)
	}
	if c.Class == ClassInfinity {
		return Encode(width, Value{Width: width, Sign: addSign, Class: ClassInfinity}, rm)
	}

	prec := layoutFor(width).precision() + 64
	var prod Value
	if prodIsZero {
		prod = Value{Width: width, Sign: prodSign, Class: ClassZero}
	} else {
		mag := new(big.Float).SetPrec(prec).Mul(a.Mag, b.Mag)
		prod = Value{Width: width, Sign: prodSign, Class: ClassNormal, Mag: mag}
	}
	cSigned := c
	cSigned.Sign = addSign
	sum := sumValues(width, prod, cSigned, rm)
	raw, flags := Encode(width, sum.result, rm)
	return raw, flags | sum.flags
}

var errQuadAccurateSqrtUnimplemented = errors.New("softfloat: accurate quad-precision sqrt is not implemented")

// Sqrt computes the square root of a with big.Float Sqrt at a working
// precision 64 bits above the width's layout precision. When accurate is
// false, that root is first rounded to the layout precision and then
// rounded again to the width, so the result can differ from the correctly
// rounded one; no Newton-Raphson iteration is performed on either path.
// Accurate quad-precision sqrt returns errQuadAccurateSqrtUnimplemented.
func Sqrt(width isa.FloatWidth, araw *big.Int, rm RoundingMode, accurate bool) (*big.Int, Flags, error) {
	if accurate && width == isa.Float128 {
		return nil, 0, errQuadAccurateSqrtUnimplemented
	}
	a := Decode(width, araw)
	if raw, flags, ok := nanResult(width, 0, a); ok {
		return raw, flags, nil
	}
	if a.Class == ClassZero {
		raw, _ := Encode(width, a, rm)
		return raw, 0, nil
	}
	if a.Sign {
		return CanonicalNaN(width), FlagNV, nil
	}
	if a.Class == ClassInfinity {
		raw, flags := Encode(width, a, rm)
		return raw, flags, nil
	}
	prec := layoutFor(width).precision() + 64
	mag := new(big.Float).SetPrec(prec).Sqrt(a.Mag)
	if !accurate {
		// Round to the reduced layout precision before the final Encode
		// rounding, trading a little accuracy for the fast mode.
		reduced := new(big.Float).SetPrec(layoutFor(width).precision()).Copy(mag)
		mag = reduced
	}
	raw, flags := Encode(width, Value{Width: width, Sign: false, Class: ClassNormal, Mag: mag}, rm)
	return raw, flags, nil
}

// Min returns the smaller of a and b per RISC-V's fmin/fmax NaN rules:
// if exactly one operand is NaN, return the other; if both are NaN,
// return the canonical NaN; -0.0 < +0.0.
func Min(width isa.FloatWidth, araw, braw *big.Int) (*big.Int, Flags) {
	return minMax(width, araw, braw, true)
}

// Max returns the larger of a and b, same NaN handling as Min.
func Max(width isa.FloatWidth, araw, braw *big.Int) (*big.Int, Flags) {
	return minMax(width, araw, braw, false)
}

func minMax(width isa.FloatWidth, araw, braw *big.Int, wantMin bool) (*big.Int, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	var flags Flags
	if a.Class == ClassSignalingNaN || b.Class == ClassSignalingNaN {
		flags |= FlagNV
	}
	if a.IsNaN() && b.IsNaN() {
		return CanonicalNaN(width), flags
	}
	if a.IsNaN() {
		return braw, flags
	}
	if b.IsNaN() {
		return araw, flags
	}
	aLess := minMaxLess(a, b)
	if aLess == wantMin {
		return araw, flags
	}
	return braw, flags
}

// minMaxLess orders a<b for FMIN/FMAX, where -0.0 sorts below +0.0 — unlike
// every other float comparison (FEQ/FLT/FLE treat -0.0 and +0.0 as equal).
func minMaxLess(a, b Value) bool {
	if a.Class == ClassZero && b.Class == ClassZero {
		return a.Sign && !b.Sign
	}
	return compareLess(a, b)
}

// compareLess implements a<b on finite/zero/infinity Values with -0==+0
// for ordering purposes (but see Eq/Lt for the IEEE comparison semantics).
func compareLess(a, b Value) bool {
	av := signedOrderingValue(a)
	bv := signedOrderingValue(b)
	return av.Cmp(bv) < 0
}

func signedOrderingValue(v Value) *big.Float {
	switch v.Class {
	case ClassZero:
		return big.NewFloat(0)
	case ClassInfinity:
		inf := new(big.Float).SetInf(v.Sign)
		return inf
	default:
		m := new(big.Float).Copy(v.Mag)
		if v.Sign {
			m.Neg(m)
		}
		return m
	}
}

// Eq, Lt, Le implement FEQ/FLT/FLE: quiet comparisons for Eq (only
// signaling NaNs raise NV), signaling comparisons for Lt/Le (any NaN
// raises NV). All three return false whenever a NaN is involved.
func Eq(width isa.FloatWidth, araw, braw *big.Int) (bool, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	var flags Flags
	if a.Class == ClassSignalingNaN || b.Class == ClassSignalingNaN {
		flags |= FlagNV
	}
	if a.IsNaN() || b.IsNaN() {
		return false, flags
	}
	if a.Class == ClassZero && b.Class == ClassZero {
		return true, flags
	}
	return signedOrderingValue(a).Cmp(signedOrderingValue(b)) == 0, flags
}

func Lt(width isa.FloatWidth, araw, braw *big.Int) (bool, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	if a.IsNaN() || b.IsNaN() {
		return false, FlagNV
	}
	return compareLess(a, b), 0
}

func Le(width isa.FloatWidth, araw, braw *big.Int) (bool, Flags) {
	vs := decodeAll(width, araw, braw)
	a, b := vs[0], vs[1]
	if a.IsNaN() || b.IsNaN() {
		return false, FlagNV
	}
	if a.Class == ClassZero && b.Class == ClassZero {
		return true, 0
	}
	return signedOrderingValue(a).Cmp(signedOrderingValue(b)) <= 0, 0
}

// Classify returns the 10-bit fclass.* mask for raw at the given width.
func Classify(width isa.FloatWidth, araw *big.Int) uint32 {
	v := Decode(width, araw)
	switch v.Class {
	case ClassSignalingNaN:
		return 1 << 8
	case ClassQuietNaN:
		return 1 << 9
	case ClassInfinity:
		if v.Sign {
			return 1 << 0
		}
		return 1 << 7
	case ClassZero:
		if v.Sign {
			return 1 << 3
		}
		return 1 << 4
	default:
		isSubnormal := isSubnormalMagnitude(width, v)
		switch {
		case v.Sign && isSubnormal:
			return 1 << 2
		case v.Sign:
			return 1 << 1
		case isSubnormal:
			return 1 << 5
		default:
			return 1 << 6
		}
	}
}

func isSubnormalMagnitude(width isa.FloatWidth, v Value) bool {
	if v.Mag == nil {
		return false
	}
	l := layoutFor(width)
	unbiasedExp := int64(v.Mag.MantExp(nil)) - 1
	return unbiasedExp+l.bias <= 0
}

// SignInjectMode selects which of FSGNJ/FSGNJN/FSGNJX an injection call
// performs.
type SignInjectMode int

const (
	SignInjectCopy SignInjectMode = iota
	SignInjectNegate
	SignInjectXor
)

// SignInject implements FSGNJ/FSGNJN/FSGNJX: take a's magnitude bits,
// replace the sign bit per mode and b's sign. This never traps and never
// examines a's class (it works identically on NaNs).
func SignInject(width isa.FloatWidth, araw, braw *big.Int, mode SignInjectMode) *big.Int {
	l := layoutFor(width)
	signMask := new(big.Int).Lsh(big.NewInt(1), uint(l.totalBits-1))
	magnitude := new(big.Int).AndNot(araw, signMask)
	aSign := araw.Bit(l.totalBits-1) != 0
	bSign := braw.Bit(l.totalBits-1) != 0
	var outSign bool
	switch mode {
	case SignInjectNegate:
		outSign = !bSign
	case SignInjectXor:
		outSign = aSign != bSign
	default:
		outSign = bSign
	}
	if outSign {
		magnitude.Or(magnitude, signMask)
	}
	return magnitude
}
