package pricemath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrDivideByZero is returned by MulDiv when the denominator is zero.
	ErrDivideByZero = errors.New("pricemath: division by zero")

	// ErrMulDivOverflow is returned by MulDiv when the true result does not
	// fit in 256 bits.
	ErrMulDivOverflow = errors.New("pricemath: muldiv result overflows 256 bits")
)

var maxUint256 = new(uint256.Int).SetAllOne()

// MulDiv computes floor(a * b / denominator) with full 512-bit intermediate
// precision. It is a port of Uniswap V3's FullMath.mulDiv and preserves its
// exact semantics, including the single floor division: callers comparing
// prices across implementations depend on bit-identical results.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivideByZero
	}

	// 512-bit multiply: [prod1 prod0] = a * b.
	var prod0, prod1, mm uint256.Int
	mm.MulMod(a, b, maxUint256)
	prod0.Mul(a, b)
	if mm.Lt(&prod0) {
		prod1.Sub(&mm, &prod0)
		prod1.SubUint64(&prod1, 1)
	} else {
		prod1.Sub(&mm, &prod0)
	}

	// Short circuit when the product fits in 256 bits.
	if prod1.IsZero() {
		return new(uint256.Int).Div(&prod0, denominator), nil
	}

	if !denominator.Gt(&prod1) {
		return nil, ErrMulDivOverflow
	}

	// Subtract the remainder from [prod1 prod0] so the division is exact.
	var remainder uint256.Int
	remainder.MulMod(a, b, denominator)
	if remainder.Gt(&prod0) {
		prod1.SubUint64(&prod1, 1)
	}
	prod0.Sub(&prod0, &remainder)

	// Factor powers of two out of the denominator.
	var den, twos uint256.Int
	den.Set(denominator)
	twos.Neg(&den)
	twos.And(&twos, &den)
	den.Div(&den, &twos)
	prod0.Div(&prod0, &twos)

	// Shift the high bits into prod0: flipped = 2^256 / twos.
	var flipped uint256.Int
	flipped.Neg(&twos)
	flipped.Div(&flipped, &twos)
	flipped.AddUint64(&flipped, 1)
	var hi uint256.Int
	hi.Mul(&prod1, &flipped)
	prod0.Or(&prod0, &hi)

	// Invert the (now odd) denominator mod 2^256 by Newton-Raphson. The
	// seed is correct to four bits; each step doubles the precision.
	two := uint256.NewInt(2)
	var inv, t uint256.Int
	inv.Mul(&den, uint256.NewInt(3))
	inv.Xor(&inv, two)
	for i := 0; i < 6; i++ {
		t.Mul(&den, &inv)
		t.Sub(two, &t)
		inv.Mul(&inv, &t)
	}

	return new(uint256.Int).Mul(&prod0, &inv), nil
}
