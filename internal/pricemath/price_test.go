package pricemath

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// refPrice is the arbitrary-precision reference: floor arithmetic throughout,
// one division for the conversion and one more for the optional inversion.
func refPrice(sqrt *uint256.Int, d0, d1 uint8, invert bool) *uint256.Int {
	if sqrt.IsZero() {
		return new(uint256.Int)
	}
	q192 := new(big.Int).Lsh(big.NewInt(1), 192)
	num := new(big.Int).Mul(sqrt.ToBig(), sqrt.ToBig())
	num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(OutputDecimals), nil))
	den := new(big.Int).Set(q192)
	if d0 >= d1 {
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d0-d1)), nil))
	} else {
		den.Mul(den, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d1-d0)), nil))
	}
	p := new(big.Int).Div(num, den)
	if invert {
		if p.Sign() == 0 {
			return new(uint256.Int)
		}
		p = new(big.Int).Div(new(big.Int).Exp(big.NewInt(10), big.NewInt(2*OutputDecimals), nil), p)
	}
	out, _ := uint256.FromBig(p)
	return out
}

func TestPriceKnownValues(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	// sqrtPriceX96 for a 2500 USDC/WETH pool with USDC as token0:
	// raw price 4e8, sqrt 2e4 * 2^96.
	usdcWeth := new(uint256.Int).Mul(uint256.NewInt(20000), q96)

	tests := []struct {
		name   string
		sqrt   *uint256.Int
		d0, d1 uint8
		invert bool
		want   string
	}{
		{"zero sqrt", new(uint256.Int), 18, 18, false, "0"},
		{"unit price equal decimals", q96, 18, 18, false, "1000000"},
		{"unit price inverted", q96, 18, 18, true, "1000000"},
		{"doubled sqrt quadruples price", new(uint256.Int).Mul(q96, uint256.NewInt(2)), 18, 18, false, "4000000"},
		{"doubled sqrt inverted", new(uint256.Int).Mul(q96, uint256.NewInt(2)), 18, 18, true, "250000"},
		{"token0 more decimals", q96, 18, 6, false, "1000000000000000000"},
		{"token1 more decimals", new(uint256.Int).Mul(uint256.NewInt(1_000_000), q96), 6, 18, false, "1000000"},
		{"usdc weth pool", usdcWeth, 6, 18, false, "400"},
		{"usdc weth pool inverted", usdcWeth, 6, 18, true, "2500000000"},
		{"inverting zero price yields zero", uint256.NewInt(1), 6, 18, true, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Price(tt.sqrt, tt.d0, tt.d1, tt.invert)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestPriceMatchesReference(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	sqrts := []*uint256.Int{
		uint256.NewInt(1),
		uint256.NewInt(4295128739), // min usable Uniswap sqrt
		u("3961408125713216879677197"),
		u("56022770974786139918731938228"),
		q96,
		u("97034285709124592626698884147"),
		new(uint256.Int).Mul(uint256.NewInt(20000), q96),
		u("1461446703485210103287273052203988822378723970341"), // close to max uint160
	}
	decimals := []struct{ d0, d1 uint8 }{
		{18, 18}, {6, 18}, {18, 6}, {8, 8}, {0, 19}, {24, 6},
	}
	for _, s := range sqrts {
		for _, d := range decimals {
			for _, invert := range []bool{false, true} {
				got, err := Price(s, d.d0, d.d1, invert)
				require.NoError(t, err)
				want := refPrice(s, d.d0, d.d1, invert)
				require.Equal(t, want.Dec(), got.Dec(),
					"sqrt=%s d0=%d d1=%d invert=%v", s.Dec(), d.d0, d.d1, invert)
			}
		}
	}
}

func TestPriceSqrtRange(t *testing.T) {
	over := new(uint256.Int).Lsh(uint256.NewInt(1), 160)
	_, err := Price(over, 18, 18, false)
	require.ErrorIs(t, err, ErrSqrtPriceRange)

	// One below the limit is fine.
	over.SubUint64(over, 1)
	_, err = Price(over, 18, 18, false)
	require.NoError(t, err)
}

func TestPriceDecimalsOutOfRange(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	_, err := Price(q96, 0, 20, false)
	require.ErrorIs(t, err, ErrPriceOverflow)
}

func TestDeviationBps(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	tests := []struct {
		name     string
		oldSqrt  *uint256.Int
		newSqrt  *uint256.Int
		want     uint64
	}{
		{"no prior price", new(uint256.Int), q96, 0},
		{"unchanged", q96, q96, 0},
		{"doubled sqrt is 300 percent", q96, new(uint256.Int).Mul(q96, uint256.NewInt(2)), 30000},
		{"halved price is 75 percent down", new(uint256.Int).Mul(q96, uint256.NewInt(2)), q96, 7500},
		// Constructed so the converted prices are exactly 1.0 and 1.5.
		{"exactly at 50 percent up", q96, u("97034285709124592626698884147"), 5000},
		{"just above 50 percent", q96, u("97037520131408757131065418114"), 5001},
		// Converted prices exactly 1.0 and 0.5.
		{"exactly at 50 percent down", q96, u("56022770974786139918731938228"), 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeviationBps(tt.oldSqrt, tt.newSqrt)
			require.NoError(t, err)
			require.True(t, got.IsUint64())
			require.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		price *uint256.Int
		want  string
	}{
		{"nil", nil, "0.000000"},
		{"zero", new(uint256.Int), "0.000000"},
		{"one unit", uint256.NewInt(1), "0.000001"},
		{"exactly one", uint256.NewInt(1_000_000), "1.000000"},
		{"mixed", uint256.NewInt(1_234_567), "1.234567"},
		{"large", uint256.NewInt(2_500_000_000), "2500.000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Format(tt.price))
		})
	}
}

func BenchmarkPrice(b *testing.B) {
	sqrt := u("97034285709124592626698884147")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Price(sqrt, 6, 18, true); err != nil {
			b.Fatal(err)
		}
	}
}
