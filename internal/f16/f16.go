// Package f16 implements IEEE-754 binary16 (half precision) conversion.
//
// Half precision is a storage format only; all scoring runs in float32.
package f16

import (
	"encoding/binary"
	"math"
)

// Bits is the raw binary16 bit-pattern.
//
// Layout:
//
//	sign: 1 bit
//	exp:  5 bits (bias 15)
//	frac: 10 bits
type Bits uint16

const (
	signMask Bits = 0x8000
	expMask  Bits = 0x7C00
	fracMask Bits = 0x03FF
	quietBit Bits = 0x0200

	f32Inf  uint32 = 0x7F800000
	f32QNaN uint32 = 0x7FC00000
)

// ToFloat32 decodes a binary16 value. Signed zeros, subnormals and infinities
// are exact; every NaN decodes to a quiet float32 NaN with the same sign.
func ToFloat32(h Bits) float32 {
	sign := uint32(h&signMask) << 16
	exp := uint32(h&expMask) >> 10
	frac := uint32(h & fracMask)

	switch exp {
	case 0:
		// Zero or subnormal: frac * 2^-24 is exact in float32.
		mag := float32(frac) * 0x1p-24
		return math.Float32frombits(sign | math.Float32bits(mag))
	case 0x1F:
		if frac == 0 {
			return math.Float32frombits(sign | f32Inf)
		}
		return math.Float32frombits(sign | f32QNaN)
	default:
		// Re-bias 15 -> 127.
		return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
	}
}

// FromFloat32 encodes a float32 as binary16, rounding to nearest, ties to even.
// Values beyond the half range become infinities, values below it signed zeros.
func FromFloat32(f float32) Bits {
	b := math.Float32bits(f)
	sign := Bits(b>>16) & signMask
	exp := int32(b>>23) & 0xFF
	mant := b & 0x007FFFFF

	switch exp {
	case 0xFF:
		if mant == 0 {
			return sign | expMask
		}
		return sign | expMask | quietBit
	case 0:
		// float32 subnormals are far below the smallest half subnormal.
		return sign
	}

	e := exp - 127 + 15
	if e >= 0x1F {
		return sign | expMask
	}

	if e <= 0 {
		if e < -10 {
			return sign
		}
		// Subnormal result; make the implicit bit explicit. A carry out of the
		// fraction lands on the smallest normal, which is the correct encoding.
		return sign | Bits(roundShift(mant|1<<23, uint32(14-e)))
	}

	// A carry out of the fraction increments the exponent, up to infinity.
	return sign | Bits(uint32(e)<<10+roundShift(mant, 13))
}

// roundShift returns v >> shift rounded to nearest, ties to even.
func roundShift(v, shift uint32) uint32 {
	q := v >> shift
	rem := v & (1<<shift - 1)
	half := uint32(1) << (shift - 1)
	if rem > half || (rem == half && q&1 == 1) {
		q++
	}
	return q
}

// Encode converts float32 values to binary16.
// dst must have length >= len(src).
func Encode(dst []Bits, src []float32) {
	for i, v := range src {
		dst[i] = FromFloat32(v)
	}
}

// DecodeLE decodes len(dst) little-endian binary16 values from src.
// src must hold at least 2*len(dst) bytes.
func DecodeLE(dst []float32, src []byte) {
	if len(dst) == 0 {
		return
	}
	_ = src[2*len(dst)-1]
	for i := range dst {
		dst[i] = ToFloat32(Bits(binary.LittleEndian.Uint16(src[2*i:])))
	}
}

// AppendLE appends the little-endian encoding of src to dst.
func AppendLE(dst []byte, src []Bits) []byte {
	for _, h := range src {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(h))
	}
	return dst
}
