package softfloat

import (
	"math/big"

	"github.com/bassosimone/rv32core/pkg/isa"
)

// RawFromBytes reads a big-endian byte slice (exactly width bytes, as
// pkg/cpu stores float registers) into a right-justified big.Int.
func RawFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// BytesFromRaw writes raw as big-endian bytes into a width-byte buffer.
func BytesFromRaw(width isa.FloatWidth, raw *big.Int) []byte {
	out := make([]byte, width)
	raw.FillBytes(out)
	return out
}

// FCvtFloatToInt converts a float (width, raw) to a signed or unsigned
// 32-bit integer, per RISC-V FCVT.W.* / FCVT.WU.* semantics: out-of-range
// values and NaNs saturate to the boundary value closest to their
// (notional) sign, with NV set; NaN saturates to the maximum value of the
// target type.
func FCvtFloatToInt(width isa.FloatWidth, raw *big.Int, rm RoundingMode, unsigned bool) (uint32, Flags) {
	v := Decode(width, raw)
	if v.IsNaN() {
		if unsigned {
			return 0xFFFFFFFF, FlagNV
		}
		return 0x7FFFFFFF, FlagNV
	}
	if v.Class == ClassZero {
		return 0, 0
	}
	if v.Class == ClassInfinity {
		return saturateInt(unsigned, v.Sign), FlagNV
	}

	prec := v.Mag.Prec()
	scaled := new(big.Float).SetPrec(prec).Copy(v.Mag)
	manInt, inexact := roundMagnitudeToInt(scaled, rm, v.Sign)
	var flags Flags
	if inexact {
		flags |= FlagNX
	}

	var lo, hi *big.Int
	if unsigned {
		lo, hi = big.NewInt(0), new(big.Int).SetUint64(0xFFFFFFFF)
	} else {
		lo, hi = big.NewInt(-0x80000000), big.NewInt(0x7FFFFFFF)
	}
	signedMan := new(big.Int).Set(manInt)
	if v.Sign {
		signedMan.Neg(signedMan)
	}
	if signedMan.Cmp(lo) < 0 || signedMan.Cmp(hi) > 0 {
		return saturateInt(unsigned, v.Sign), FlagNV
	}
	return uint32(signedMan.Int64()), flags
}

func saturateInt(unsigned, negative bool) uint32 {
	if unsigned {
		if negative {
			return 0
		}
		return 0xFFFFFFFF
	}
	if negative {
		return 0x80000000
	}
	return 0x7FFFFFFF
}

// FCvtIntToFloat converts a 32-bit integer (signed or unsigned) to a
// float at the given width.
func FCvtIntToFloat(width isa.FloatWidth, bits uint32, rm RoundingMode, unsigned bool) (*big.Int, Flags) {
	if bits == 0 {
		return Encode(width, Value{Width: width, Class: ClassZero}, rm)
	}
	var sign bool
	var mag *big.Int
	if !unsigned && int32(bits) < 0 {
		sign = true
		mag = new(big.Int).SetUint64(uint64(-int64(int32(bits))))
	} else {
		mag = new(big.Int).SetUint64(uint64(bits))
	}
	prec := layoutFor(width).precision() + 32
	f := new(big.Float).SetPrec(prec).SetInt(mag)
	return Encode(width, Value{Width: width, Sign: sign, Class: ClassNormal, Mag: f}, rm)
}

// FCvtFloatToFloat converts a value from srcWidth to dstWidth (FCVT.D.S,
// FCVT.S.D, and their Q counterparts). NaNs become the canonical NaN of
// the destination width (raising NV only for signaling NaN inputs, per
// RISC-V); infinities and zero carry their sign across unchanged.
func FCvtFloatToFloat(srcWidth, dstWidth isa.FloatWidth, raw *big.Int, rm RoundingMode) (*big.Int, Flags) {
	v := Decode(srcWidth, raw)
	switch v.Class {
	case ClassSignalingNaN:
		return CanonicalNaN(dstWidth), FlagNV
	case ClassQuietNaN:
		return CanonicalNaN(dstWidth), 0
	case ClassInfinity, ClassZero:
		return Encode(dstWidth, Value{Width: dstWidth, Sign: v.Sign, Class: v.Class}, rm)
	default:
		mag := new(big.Float).SetPrec(layoutFor(dstWidth).precision() + 64).Copy(v.Mag)
		return Encode(dstWidth, Value{Width: dstWidth, Sign: v.Sign, Class: ClassNormal, Mag: mag}, rm)
	}
}

// NaNBox widens a narrower raw value to a wider register width by setting
// all of the upper bits to 1, per the RISC-V NaN-boxing convention for
// holding a narrower float in a wider register file.
func NaNBox(narrowWidth, wideWidth isa.FloatWidth, raw *big.Int) *big.Int {
	boxed := new(big.Int).Lsh(big.NewInt(1), uint(wideWidth)*8)
	boxed.Sub(boxed, big.NewInt(1))
	narrowMask := new(big.Int).Lsh(big.NewInt(1), uint(narrowWidth)*8)
	narrowMask.Sub(narrowMask, big.NewInt(1))
	boxed.Xor(boxed, narrowMask)
	boxed.Or(boxed, new(big.Int).And(raw, narrowMask))
	return boxed
}

// NaNUnbox reads a narrowWidth value out of a wideWidth register, per the
// RISC-V rule that a value not properly boxed (not all-ones in the upper
// bits) reads back as the canonical quiet NaN of the narrow width.
func NaNUnbox(narrowWidth, wideWidth isa.FloatWidth, raw *big.Int) *big.Int {
	expected := NaNBox(narrowWidth, wideWidth, raw)
	// expected has the correct lower bits (raw's) and all-ones upper bits;
	// raw is properly boxed iff its upper bits already match those ones.
	upperOfRaw := new(big.Int).Rsh(raw, uint(narrowWidth)*8)
	upperOnes := new(big.Int).Rsh(expected, uint(narrowWidth)*8)
	if upperOfRaw.Cmp(upperOnes) != 0 {
		return CanonicalNaN(narrowWidth)
	}
	narrowMask := new(big.Int).Lsh(big.NewInt(1), uint(narrowWidth)*8)
	narrowMask.Sub(narrowMask, big.NewInt(1))
	return new(big.Int).And(raw, narrowMask)
}
