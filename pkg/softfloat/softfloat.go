// Package softfloat is the IEEE-754 arithmetic backend for the F/D/Q
// extensions: a single generic, arbitrary-precision engine parameterized by
// width (4, 8, or 16 bytes), built on math/big.Float. See DESIGN.md for why
// this is the one part of the repo built on the standard library instead
// of a third-party dependency.
package softfloat

import (
	"math/big"

	"github.com/bassosimone/rv32core/pkg/isa"
)

// Flags are the five IEEE-754 / RISC-V fflags accumulator bits.
type Flags uint8

const (
	FlagNX Flags = 1 << 0 // inexact
	FlagUF Flags = 1 << 1 // underflow
	FlagOF Flags = 1 << 2 // overflow
	FlagDZ Flags = 1 << 3 // divide by zero
	FlagNV Flags = 1 << 4 // invalid operation
)

// RoundingMode is the 3-bit RISC-V rounding mode field (frm, or an
// instruction's own rm field).
type RoundingMode uint8

const (
	RNE  RoundingMode = 0 // round to nearest, ties to even
	RTZ  RoundingMode = 1 // round towards zero
	RDN  RoundingMode = 2 // round down (towards -inf)
	RUP  RoundingMode = 3 // round up (towards +inf)
	RMM  RoundingMode = 4 // round to nearest, ties to max magnitude
	RDyn RoundingMode = 7 // "use frm" — only legal as an instruction's own rm field
)

// Valid reports whether r names a rounding mode the core may use directly
// (RDyn must be resolved against frm first; 5 and 6 are always illegal).
func (r RoundingMode) Valid() bool {
	switch r {
	case RNE, RTZ, RDN, RUP, RMM:
		return true
	default:
		return false
	}
}

// layout describes the IEEE-754 bit layout for a given width in bytes.
type layout struct {
	totalBits int
	expBits   int
	manBits   int
	bias      int64
}

func layoutFor(width isa.FloatWidth) layout {
	switch width {
	case isa.Float32:
		return layout{totalBits: 32, expBits: 8, manBits: 23, bias: 127}
	case isa.Float64:
		return layout{totalBits: 64, expBits: 11, manBits: 52, bias: 1023}
	case isa.Float128:
		return layout{totalBits: 128, expBits: 15, manBits: 112, bias: 16383}
	default:
		panic("softfloat: unsupported float width")
	}
}

func (l layout) maxExp() int64 { return (int64(1) << uint(l.expBits)) - 1 }

func (l layout) precision() uint { return uint(l.manBits) + 16 }

// Class identifies the IEEE-754 special-value category of a Value.
type Class int

const (
	ClassNormal Class = iota
	ClassZero
	ClassInfinity
	ClassQuietNaN
	ClassSignalingNaN
)

// Value is a decoded floating point number: a big.Float magnitude plus the
// classification a big.Float alone can't carry (signaling-ness, the
// explicit sign of a zero or infinity).
type Value struct {
	Width isa.FloatWidth
	Sign  bool // true = negative
	Class Class
	Mag   *big.Float // magnitude (>= 0); meaningful only for ClassNormal
}

// IsNaN reports whether v is either kind of NaN.
func (v Value) IsNaN() bool { return v.Class == ClassQuietNaN || v.Class == ClassSignalingNaN }

// Decode unpacks raw (the register's raw bit pattern, right-justified in a
// big.Int) into a Value at the given width.
func Decode(width isa.FloatWidth, raw *big.Int) Value {
	l := layoutFor(width)
	sign := raw.Bit(l.totalBits-1) != 0
	exp := extractBits(raw, l.manBits, l.expBits).Int64()
	man := extractBits(raw, 0, l.manBits)

	switch {
	case exp == l.maxExp() && man.Sign() == 0:
		return Value{Width: width, Sign: sign, Class: ClassInfinity}
	case exp == l.maxExp():
		top := new(big.Int).Rsh(man, uint(l.manBits-1))
		class := ClassSignalingNaN
		if top.Bit(0) != 0 {
			class = ClassQuietNaN
		}
		return Value{Width: width, Sign: sign, Class: class}
	case exp == 0 && man.Sign() == 0:
		return Value{Width: width, Sign: sign, Class: ClassZero}
	case exp == 0:
		// Subnormal: value = man * 2^(1-bias-manBits), no implicit leading bit.
		mag := new(big.Float).SetPrec(l.precision()).SetInt(man)
		mag.SetMantExp(mag, int(1-l.bias-int64(l.manBits)))
		return Value{Width: width, Sign: sign, Class: ClassNormal, Mag: mag}
	default:
		// Normal: value = (1<<manBits | man) * 2^(exp-bias-manBits).
		full := new(big.Int).Lsh(big.NewInt(1), uint(l.manBits))
		full.Or(full, man)
		mag := new(big.Float).SetPrec(l.precision()).SetInt(full)
		mag.SetMantExp(mag, int(exp-l.bias-int64(l.manBits)))
		return Value{Width: width, Sign: sign, Class: ClassNormal, Mag: mag}
	}
}

func extractBits(raw *big.Int, shift, count int) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(count))
	mask.Sub(mask, big.NewInt(1))
	out := new(big.Int).Rsh(raw, uint(shift))
	out.And(out, mask)
	return out
}

func expField(l layout, biasedExp int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(biasedExp), uint(l.manBits))
}

func manOnes(l layout) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(l.manBits))
	return m.Sub(m, big.NewInt(1))
}

func roundsToInfinity(rm RoundingMode, negative bool) bool {
	switch rm {
	case RTZ:
		return false
	case RUP:
		return !negative
	case RDN:
		return negative
	default: // RNE, RMM
		return true
	}
}

// Encode rounds v to the given width and rounding mode, returning the raw
// bit pattern and any fflags this rounding raised (NX/OF/UF). NV/DZ are the
// arithmetic operations' responsibility, not Encode's.
func Encode(width isa.FloatWidth, v Value, rm RoundingMode) (*big.Int, Flags) {
	l := layoutFor(width)
	raw := new(big.Int)
	setSign := func() {
		if v.Sign {
			raw.SetBit(raw, l.totalBits-1, 1)
		}
	}

	switch v.Class {
	case ClassZero:
		setSign()
		return raw, 0
	case ClassInfinity:
		setSign()
		raw.Or(raw, expField(l, l.maxExp()))
		return raw, 0
	case ClassQuietNaN, ClassSignalingNaN:
		return CanonicalNaN(width), 0
	}

	if v.Mag == nil || v.Mag.Sign() == 0 {
		setSign()
		return raw, 0
	}

	mant := new(big.Float).SetPrec(v.Mag.Prec())
	exp := v.Mag.MantExp(mant) // mant in [0.5,1), v.Mag = mant * 2^exp
	unbiasedExp := int64(exp) - 1
	biasedExp := unbiasedExp + l.bias

	var flags Flags
	if biasedExp >= l.maxExp() {
		flags |= FlagOF | FlagNX
		setSign()
		if roundsToInfinity(rm, v.Sign) {
			raw.Or(raw, expField(l, l.maxExp()))
		} else {
			raw.Or(raw, expField(l, l.maxExp()-1))
			raw.Or(raw, manOnes(l))
		}
		return raw, flags
	}

	var targetExp int64
	if biasedExp <= 0 {
		targetExp = 1 - l.bias - int64(l.manBits)
	} else {
		targetExp = biasedExp - l.bias - int64(l.manBits)
	}

	pow := new(big.Float).SetPrec(l.precision() + 64).SetMantExp(big.NewFloat(1), int(-targetExp))
	scaled := new(big.Float).SetPrec(l.precision() + 64).Mul(v.Mag, pow)

	manInt, inexact := roundMagnitudeToInt(scaled, rm, v.Sign)
	if inexact {
		flags |= FlagNX
	}

	if biasedExp > 0 {
		overflowThreshold := new(big.Int).Lsh(big.NewInt(1), uint(l.manBits+1))
		if manInt.Cmp(overflowThreshold) >= 0 {
			manInt.Rsh(manInt, 1)
			biasedExp++
		}
	} else {
		normalThreshold := new(big.Int).Lsh(big.NewInt(1), uint(l.manBits))
		if manInt.Cmp(normalThreshold) >= 0 {
			biasedExp = 1
		} else {
			biasedExp = 0
			if manInt.Sign() != 0 {
				flags |= FlagUF
			}
		}
	}

	if biasedExp >= l.maxExp() {
		flags |= FlagOF
		setSign()
		raw.Or(raw, expField(l, l.maxExp()))
		return raw, flags
	}

	mantField := new(big.Int).Set(manInt)
	if biasedExp > 0 {
		mantField.Sub(mantField, new(big.Int).Lsh(big.NewInt(1), uint(l.manBits)))
	}
	setSign()
	raw.Or(raw, expField(l, biasedExp))
	raw.Or(raw, mantField)
	return raw, flags
}

// roundMagnitudeToInt rounds a non-negative scaled value to the nearest
// integer per rm, with negative indicating the sign of the value scaled
// represents the magnitude of (RDN/RUP are directional on the true sign,
// not the magnitude). Returns whether rounding changed the value.
func roundMagnitudeToInt(scaled *big.Float, rm RoundingMode, negative bool) (*big.Int, bool) {
	floor, _ := scaled.Int(nil) // scaled >= 0, so truncating towards zero is floor
	if floor == nil {
		floor = big.NewInt(0)
	}
	remainder := new(big.Float).SetPrec(scaled.Prec()).SetInt(floor)
	remainder.Sub(scaled, remainder)
	exact := remainder.Sign() == 0
	half := new(big.Float).SetPrec(scaled.Prec()).SetFloat64(0.5)
	cmp := remainder.Cmp(half)

	roundUp := false
	switch rm {
	case RTZ:
		roundUp = false
	case RDN:
		roundUp = negative && !exact
	case RUP:
		roundUp = !negative && !exact
	case RMM:
		roundUp = cmp >= 0
	default: // RNE
		if cmp > 0 {
			roundUp = true
		} else if cmp == 0 {
			roundUp = floor.Bit(0) != 0
		}
	}
	result := new(big.Int).Set(floor)
	if roundUp {
		result.Add(result, big.NewInt(1))
	}
	return result, !exact
}

// CanonicalNaN returns the canonical quiet NaN bit pattern for width: sign
// 0, all exponent bits set, top mantissa bit set, rest zero.
func CanonicalNaN(width isa.FloatWidth) *big.Int {
	l := layoutFor(width)
	raw := expField(l, l.maxExp())
	raw.SetBit(raw, l.manBits-1, 1)
	return raw
}

// IsCanonicalNaN reports whether raw, read at width, is exactly the
// canonical quiet NaN bit pattern — used to validate NaN-boxing.
func IsCanonicalNaN(width isa.FloatWidth, raw *big.Int) bool {
	return raw.Cmp(CanonicalNaN(width)) == 0
}
