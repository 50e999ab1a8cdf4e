// Package pricemath converts Uniswap V3 style square-root pool prices into
// integer prices at a fixed output precision, using only integer arithmetic.
// The results feed the relay engine's deviation checks, so every operation is
// deterministic and floor-rounded.
package pricemath

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// OutputDecimals is the fixed decimal precision of converted prices.
	OutputDecimals = 6

	// BpsDenominator is the basis-point scale used by DeviationBps.
	BpsDenominator = 10_000
)

var (
	// ErrSqrtPriceRange is returned when a square-root price exceeds the
	// 160-bit range used by the pool contracts.
	ErrSqrtPriceRange = errors.New("pricemath: sqrt price exceeds uint160")

	// ErrPriceOverflow is returned when the decimal rescale cannot be staged
	// inside 256-bit arithmetic without a second floor division.
	ErrPriceOverflow = errors.New("pricemath: price does not fit staged arithmetic")
)

// q192 is 2^192, the square of the X96 fixed-point base.
var q192 = new(uint256.Int).Lsh(uint256.NewInt(1), 192)

// Price converts a pool's square-root price to an integer price scaled to
// OutputDecimals. The raw pool price is (sqrtPriceX96^2 / 2^192), quoted as
// token1 per token0 in raw on-chain units; the token decimal difference
// rescales it to human units. invert returns the reciprocal price, still at
// OutputDecimals.
//
// A zero sqrtPriceX96 returns zero. Inverting a price that floors to zero
// also returns zero rather than dividing by it.
//
// The whole conversion performs exactly one floor division (inside MulDiv),
// so results are bit-identical to the reference contract arithmetic.
func Price(sqrtPriceX96 *uint256.Int, token0Decimals, token1Decimals uint8, invert bool) (*uint256.Int, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
		return new(uint256.Int), nil
	}
	if sqrtPriceX96.BitLen() > 160 {
		return nil, ErrSqrtPriceRange
	}

	var (
		p   *uint256.Int
		err error
	)
	if token0Decimals >= token1Decimals {
		// price = sqrt^2 * 10^(d0-d1+6) / 2^192, staged as
		// (sqrt * scale) * sqrt / 2^192 so only MulDiv divides.
		exp := uint(token0Decimals-token1Decimals) + OutputDecimals
		if exp > 77 {
			return nil, ErrPriceOverflow
		}
		num := new(uint256.Int)
		if _, overflow := num.MulOverflow(sqrtPriceX96, pow10(exp)); overflow {
			return nil, ErrPriceOverflow
		}
		p, err = MulDiv(num, sqrtPriceX96, q192)
	} else {
		// price = sqrt^2 * 10^6 / (2^192 * 10^(d1-d0)). The combined
		// denominator must fit 256 bits, which holds up to 19 decimals
		// of difference.
		diff := uint(token1Decimals - token0Decimals)
		if diff > 19 {
			return nil, ErrPriceOverflow
		}
		num := new(uint256.Int).Mul(sqrtPriceX96, pow10(OutputDecimals))
		den := new(uint256.Int).Lsh(pow10(diff), 192)
		p, err = MulDiv(num, sqrtPriceX96, den)
	}
	if err != nil {
		return nil, err
	}

	if invert {
		if p.IsZero() {
			return new(uint256.Int), nil
		}
		return new(uint256.Int).Div(pow10(2*OutputDecimals), p), nil
	}
	return p, nil
}

// DeviationBps returns |new - old| * 10000 / old where both square-root
// prices are first converted to integer prices. Squaring before comparing
// keeps the metric linear in the actual price rather than quadratic in the
// square root. The token decimal rescale cancels out of the ratio, so the
// conversion runs with equal decimals on both sides.
//
// A zero old price returns zero deviation: the first observation for a pool
// has nothing to deviate from.
func DeviationBps(oldSqrtPrice, newSqrtPrice *uint256.Int) (*uint256.Int, error) {
	oldP, err := Price(oldSqrtPrice, 0, 0, false)
	if err != nil {
		return nil, err
	}
	if oldP.IsZero() {
		return new(uint256.Int), nil
	}
	newP, err := Price(newSqrtPrice, 0, 0, false)
	if err != nil {
		return nil, err
	}

	var diff uint256.Int
	if newP.Lt(oldP) {
		diff.Sub(oldP, newP)
	} else {
		diff.Sub(newP, oldP)
	}
	return MulDiv(&diff, uint256.NewInt(BpsDenominator), oldP)
}

// Format renders a price at OutputDecimals as a decimal string for display,
// e.g. 1234567 -> "1.234567".
func Format(price *uint256.Int) string {
	if price == nil {
		return "0.000000"
	}
	s := price.Dec()
	if len(s) <= OutputDecimals {
		return "0." + strings.Repeat("0", OutputDecimals-len(s)) + s
	}
	cut := len(s) - OutputDecimals
	return s[:cut] + "." + s[cut:]
}

func pow10(n uint) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
