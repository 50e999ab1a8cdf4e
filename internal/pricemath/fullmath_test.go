package pricemath

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// refMulDiv computes floor(a*b/d) with arbitrary precision.
func refMulDiv(a, b, d *uint256.Int) *uint256.Int {
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	prod.Div(prod, d.ToBig())
	out, overflow := uint256.FromBig(prod)
	if overflow {
		panic("reference result overflows 256 bits")
	}
	return out
}

func u(dec string) *uint256.Int {
	z, err := uint256.FromDecimal(dec)
	if err != nil {
		panic(err)
	}
	return z
}

func TestMulDivMatchesReference(t *testing.T) {
	tests := []struct {
		name string
		a, b *uint256.Int
		d    *uint256.Int
	}{
		{"small", uint256.NewInt(6), uint256.NewInt(7), uint256.NewInt(4)},
		{"exact division", uint256.NewInt(1 << 20), uint256.NewInt(1 << 20), uint256.NewInt(1 << 10)},
		{"denominator one", u("340282366920938463463374607431768211455"), u("340282366920938463463374607431768211455"), uint256.NewInt(1)},
		{
			"wide product",
			u("79228162514264337593543950336000000"),
			u("79228162514264337593543950336000000"),
			new(uint256.Int).Lsh(uint256.NewInt(1), 192),
		},
		{
			"power of two denominator",
			u("97034285709124592626698884147"),
			u("97034285709124592626698884147"),
			new(uint256.Int).Lsh(uint256.NewInt(1), 100),
		},
		{
			"odd denominator wide product",
			u("115792089237316195423570985008687907853269984665640564039457584007913129639935"),
			uint256.NewInt(12345),
			u("99999999999999999999999999999"),
		},
		{
			"remainder discarded",
			uint256.NewInt(10),
			uint256.NewInt(10),
			uint256.NewInt(3),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.d)
			require.NoError(t, err)
			require.Equal(t, refMulDiv(tt.a, tt.b, tt.d).Dec(), got.Dec())
		})
	}
}

func TestMulDivFloors(t *testing.T) {
	// 10*10/3 = 33.33 -> 33, never rounded up.
	got, err := MulDiv(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint64(33), got.Uint64())
}

func TestMulDivDivideByZero(t *testing.T) {
	_, err := MulDiv(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestMulDivOverflow(t *testing.T) {
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	_, err := MulDiv(huge, huge, uint256.NewInt(2))
	require.ErrorIs(t, err, ErrMulDivOverflow)

	// Exactly at the edge: a*b = 2^256, denominator 2^0+... must overflow
	// when denominator <= prod1.
	half := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	_, err = MulDiv(half, half, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrMulDivOverflow)

	// Same product with a large enough denominator succeeds.
	got, err := MulDiv(half, half, new(uint256.Int).Lsh(uint256.NewInt(1), 130))
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(1), 126).Dec(), got.Dec())
}

func BenchmarkMulDiv(b *testing.B) {
	x := u("97034285709124592626698884147000000")
	y := u("97034285709124592626698884147")
	d := new(uint256.Int).Lsh(uint256.NewInt(1), 192)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := MulDiv(x, y, d); err != nil {
			b.Fatal(err)
		}
	}
}
