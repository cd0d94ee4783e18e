package tickmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create a big.Int from a string for tests.
func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

// encodePriceSqrt is a Go equivalent of the ethers.js helper for testing.
func encodePriceSqrt(reserve1, reserve0 *big.Int) *big.Int {
	num := new(big.Int).Mul(reserve1, new(big.Int).Lsh(big.NewInt(1), 192))
	ratio := new(big.Int).Div(num, reserve0)
	return new(big.Int).Sqrt(ratio)
}

func TestGetSqrtRatioAtTick(t *testing.T) {

	t.Run("throws for too low", func(t *testing.T) {
		temp := new(big.Int)
		err := GetSqrtRatioAtTick(temp, MinTick-1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("throws for too high", func(t *testing.T) {
		temp := new(big.Int)
		err := GetSqrtRatioAtTick(temp, MaxTick+1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("min tick", func(t *testing.T) {
		sqrtP := new(big.Int)
		err := GetSqrtRatioAtTick(sqrtP, MinTick)
		require.NoError(t, err)
		assert.Zero(t, fromString("4295128739").Cmp(sqrtP))
	})

	t.Run("max tick", func(t *testing.T) {
		sqrtP := new(big.Int)
		err := GetSqrtRatioAtTick(sqrtP, MaxTick)
		require.NoError(t, err)
		assert.Zero(t, fromString("1461446703485210103287273052203988822378723970342").Cmp(sqrtP))
	})
}

func TestGetTickAtSqrtRatio(t *testing.T) {
	t.Run("throws for too low", func(t *testing.T) {
		_, err := GetTickAtSqrtRatio(new(big.Int).Sub(MinSqrtRatio, big.NewInt(1)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("throws for too high", func(t *testing.T) {
		_, err := GetTickAtSqrtRatio(MaxSqrtRatio)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("ratio of min tick", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(MinSqrtRatio)
		require.NoError(t, err)
		assert.Equal(t, MinTick, tick)
	})

	t.Run("ratio closest to max tick", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, MaxTick-1, tick)
	})

	// Table-driven test for various ratios
	ratios := []struct {
		name  string
		ratio *big.Int
	}{
		{"MinSqrtRatio", MinSqrtRatio},
		{"1e12:1", encodePriceSqrt(new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil), big.NewInt(1))},
		{"1e6:1", encodePriceSqrt(new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil), big.NewInt(1))},
		{"1:64", encodePriceSqrt(big.NewInt(1), big.NewInt(64))},
		{"1:8", encodePriceSqrt(big.NewInt(1), big.NewInt(8))},
		{"1:2", encodePriceSqrt(big.NewInt(1), big.NewInt(2))},
		{"1:1", encodePriceSqrt(big.NewInt(1), big.NewInt(1))},
		{"2:1", encodePriceSqrt(big.NewInt(2), big.NewInt(1))},
		{"8:1", encodePriceSqrt(big.NewInt(8), big.NewInt(1))},
		{"64:1", encodePriceSqrt(big.NewInt(64), big.NewInt(1))},
		{"1:1e6", encodePriceSqrt(big.NewInt(1), new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil))},
		{"1:1e12", encodePriceSqrt(big.NewInt(1), new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil))},
		{"MaxSqrtRatio-1", new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))},
	}

	for _, tc := range ratios {
		t.Run(tc.name, func(t *testing.T) {
			tick, err := GetTickAtSqrtRatio(tc.ratio)
			require.NoError(t, err)
			ratioOfTick := new(big.Int)
			err = GetSqrtRatioAtTick(ratioOfTick, tick)
			require.NoError(t, err)
			ratioOfTickPlusOne := new(big.Int)
			err = GetSqrtRatioAtTick(ratioOfTickPlusOne, tick+1)
			require.NoError(t, err)

			// Invariant: ratioOfTick <= ratio < ratioOfTickPlusOne
			assert.True(t, tc.ratio.Cmp(ratioOfTick) >= 0)
			assert.True(t, tc.ratio.Cmp(ratioOfTickPlusOne) < 0)
		})
	}
}

// GetTickAtSqrtRatio must invert GetSqrtRatioAtTick for every tick.
func TestInvariants_InverseFunctions(t *testing.T) {
	for i := 0; i < 1000; i++ {
		// Generate a random tick within the valid range.
		tickRange := big.NewInt(int64(MaxTick - MinTick))
		randomOffset, _ := rand.Int(rand.Reader, tickRange)
		tick := MinTick + randomOffset.Int64()
		sqrtP := new(big.Int)
		err := GetSqrtRatioAtTick(sqrtP, tick)
		require.NoError(t, err)

		tickCalculated, err := GetTickAtSqrtRatio(sqrtP)
		require.NoError(t, err)

		// The calculated tick should be equal to the original tick.
		assert.Equal(t, tick, tickCalculated, "tick %d -> sqrtP %s -> tick %d", tick, sqrtP.String(), tickCalculated)
	}
}

func TestGetTickAtSqrtRatio_WindowEdges(t *testing.T) {
	// prices just below and at every power of two exercise the msb-derived search window
	for bit := 33; bit < 160; bit++ {
		p := new(big.Int).Lsh(big.NewInt(1), uint(bit))
		for _, ratio := range []*big.Int{p, new(big.Int).Sub(p, big.NewInt(1))} {
			if ratio.Cmp(MinSqrtRatio) < 0 || ratio.Cmp(MaxSqrtRatio) >= 0 {
				continue
			}
			tick, err := GetTickAtSqrtRatio(ratio)
			require.NoError(t, err)

			lower, upper := new(big.Int), new(big.Int)
			require.NoError(t, GetSqrtRatioAtTick(lower, tick))
			require.NoError(t, GetSqrtRatioAtTick(upper, tick+1))
			assert.True(t, lower.Cmp(ratio) <= 0, "bit %d", bit)
			assert.True(t, upper.Cmp(ratio) > 0, "bit %d", bit)
		}
	}
}

func TestUsableTicks(t *testing.T) {
	testCases := []struct {
		spacing  int64
		min, max int64
	}{
		{1, -887272, 887272},
		{10, -887270, 887270},
		{60, -887220, 887220},
		{200, -887200, 887200},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.min, MinUsableTick(tc.spacing))
		assert.Equal(t, tc.max, MaxUsableTick(tc.spacing))
	}
}

func TestTickSpacingToMaxLiquidityPerTick(t *testing.T) {
	testCases := []struct {
		name     string
		spacing  int64
		expected string
	}{
		{"low fee", 10, "1917569901783203986719870431555990"},
		{"medium fee", 60, "11505743598341114571880798222544994"},
		{"high fee", 200, "38350317471085141830651933667504588"},
		{"entire range", 887272, "113427455640312821154458202477256070485"},
		{"spacing 1", 1, "191757530477355301479181766273477"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TickSpacingToMaxLiquidityPerTick(tc.spacing)
			require.NoError(t, err)
			assert.Zero(t, fromString(tc.expected).Cmp(got), "got %s", got)
		})
	}

	_, err := TickSpacingToMaxLiquidityPerTick(0)
	assert.ErrorIs(t, err, ErrInvalidTickSpacing)
}
