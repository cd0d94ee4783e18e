package calculator

import (
	"math/big"
	"reflect"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
)

// =================================================================
// Test Helpers
// =================================================================

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

// fromString is a helper to create a big.Int from a string for tests.
func fromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("failed to set string for big.Int")
	}
	return n
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fromString("1000000000000000000"))
}

type rangeLiquidity struct {
	lower, upper int64
	liquidity    *big.Int
}

// buildPool lays the given ranges out as initialized ticks around the current tick.
func buildPool(fee uint32, spacing, tick int64, ranges ...rangeLiquidity) uniswapv3.Pool {
	sqrtP := new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtP, tick); err != nil {
		panic(err)
	}
	nets := map[int64]*big.Int{}
	active := new(big.Int)
	for _, r := range ranges {
		for _, edge := range []struct {
			idx  int64
			sign int
		}{{r.lower, 1}, {r.upper, -1}} {
			if nets[edge.idx] == nil {
				nets[edge.idx] = new(big.Int)
			}
			if edge.sign > 0 {
				nets[edge.idx].Add(nets[edge.idx], r.liquidity)
			} else {
				nets[edge.idx].Sub(nets[edge.idx], r.liquidity)
			}
		}
		if r.lower <= tick && tick < r.upper {
			active.Add(active, r.liquidity)
		}
	}

	pool := uniswapv3.Pool{
		PoolView: uniswapv3.PoolView{
			Address:      common.HexToAddress("0x00000000000000000000000000000000000000ff"),
			Token0:       tokenA,
			Token1:       tokenB,
			Fee:          fee,
			TickSpacing:  spacing,
			Tick:         tick,
			Liquidity:    active,
			SqrtPriceX96: sqrtP,
		},
	}
	indices := make([]int64, 0, len(nets))
	for idx := range nets {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		net := nets[idx]
		pool.Ticks = append(pool.Ticks, uniswapv3.TickInfo{
			Index:          idx,
			LiquidityGross: new(big.Int).Abs(net),
			LiquidityNet:   net,
		})
	}
	return pool
}

// recordingTicks wraps a view source and records crossed ticks.
type recordingTicks struct {
	*viewTicks
	crossed []int64
}

func (r *recordingTicks) Cross(tick int64) (*big.Int, error) {
	r.crossed = append(r.crossed, tick)
	return r.viewTicks.Cross(tick)
}

func paramsFor(pool uniswapv3.Pool, zeroForOne bool, amount *big.Int) SwapParams {
	return SwapParams{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   amount,
		SqrtPriceLimitX96: DefaultPriceLimit(zeroForOne),
		SqrtPriceX96:      pool.SqrtPriceX96,
		Tick:              pool.Tick,
		Liquidity:         pool.Liquidity,
		Fee:               pool.Fee,
	}
}

// =================================================================
// Swap loop
// =================================================================

func TestSwap_ExactInputWithinOneRange(t *testing.T) {
	L := e18(1000)
	pool := buildPool(3000, 60, 0, rangeLiquidity{-887220, 887220, L})
	amountIn := e18(1)

	// closed form for a single step: token1 in, price rises
	lessFee := new(big.Int).Mul(amountIn, big.NewInt(997_000))
	lessFee.Div(lessFee, big.NewInt(1_000_000))
	sqrtP := pool.SqrtPriceX96
	sqrtNext := new(big.Int).Lsh(lessFee, 96)
	sqrtNext.Div(sqrtNext, L).Add(sqrtNext, sqrtP)

	diff := new(big.Int).Sub(sqrtNext, sqrtP)
	expectedOut := new(big.Int).Lsh(L, 96)
	expectedOut.Mul(expectedOut, diff).Div(expectedOut, sqrtNext).Div(expectedOut, sqrtP)

	var steps int
	feeTotal := new(big.Int)
	res, err := Swap(paramsFor(pool, false, amountIn), newViewTicks(pool), func(step *Step) error {
		steps++
		feeTotal.Add(feeTotal, step.FeeAmount)
		assert.Zero(t, L.Cmp(step.Liquidity))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 1, steps)
	assert.Zero(t, sqrtNext.Cmp(res.SqrtPriceX96))
	assert.Equal(t, amountIn.String(), res.Amount1.String())
	assert.Equal(t, new(big.Int).Neg(expectedOut).String(), res.Amount0.String())
	assert.Zero(t, L.Cmp(res.Liquidity))

	// fee is whatever the step did not convert; it is at least the nominal 0.3%
	nominal := new(big.Int).Sub(amountIn, lessFee)
	assert.True(t, feeTotal.Cmp(nominal) >= 0)
	assert.True(t, feeTotal.Cmp(new(big.Int).Add(nominal, big.NewInt(1))) <= 0)

	tick, err := tickmath.GetTickAtSqrtRatio(res.SqrtPriceX96)
	require.NoError(t, err)
	assert.Equal(t, tick, res.Tick)
}

func TestSwap_CrossesInitializedTicks(t *testing.T) {
	L := e18(1000)
	pool := buildPool(3000, 60, 0,
		rangeLiquidity{-887220, 887220, L},
		rangeLiquidity{-60, 60, L},
	)
	require.Zero(t, new(big.Int).Mul(L, big.NewInt(2)).Cmp(pool.Liquidity))

	t.Run("oneForZero crosses the upper edge", func(t *testing.T) {
		src := &recordingTicks{viewTicks: newViewTicks(pool)}
		res, err := Swap(paramsFor(pool, false, e18(100)), src, nil)
		require.NoError(t, err)

		assert.Equal(t, []int64{60}, src.crossed)
		assert.Zero(t, L.Cmp(res.Liquidity), "only the full range position stays active")
		assert.Greater(t, res.Tick, int64(60))
		assert.GreaterOrEqual(t, res.Steps, 2)
	})

	t.Run("zeroForOne crosses the lower edge", func(t *testing.T) {
		src := &recordingTicks{viewTicks: newViewTicks(pool)}
		res, err := Swap(paramsFor(pool, true, e18(100)), src, nil)
		require.NoError(t, err)

		assert.Equal(t, []int64{-60}, src.crossed)
		assert.Zero(t, L.Cmp(res.Liquidity))
		assert.Less(t, res.Tick, int64(-60))
		assert.Equal(t, e18(100).String(), res.Amount0.String())
		assert.Negative(t, res.Amount1.Sign())
	})
}

func TestSwap_StepsAcrossEmptyWords(t *testing.T) {
	pool := buildPool(500, 1, 0, rangeLiquidity{-887272, 887272, e18(1)})

	uninitialized := 0
	res, err := Swap(paramsFor(pool, false, fromString("100000000000000000")), newViewTicks(pool), func(step *Step) error {
		if !step.Initialized {
			uninitialized++
		}
		return nil
	})
	require.NoError(t, err)

	// roughly 1900 ticks of movement at 256 ticks per word
	assert.GreaterOrEqual(t, res.Steps, 7)
	assert.Equal(t, res.Steps, uninitialized)
	assert.Zero(t, e18(1).Cmp(res.Liquidity))
}

func TestSwap_PriceLimit(t *testing.T) {
	pool := buildPool(3000, 60, 0, rangeLiquidity{-887220, 887220, e18(10)})

	t.Run("stops at the limit", func(t *testing.T) {
		limit := new(big.Int)
		require.NoError(t, tickmath.GetSqrtRatioAtTick(limit, -30))

		p := paramsFor(pool, true, e18(1000))
		p.SqrtPriceLimitX96 = limit
		res, err := Swap(p, newViewTicks(pool), nil)
		require.NoError(t, err)

		assert.Zero(t, limit.Cmp(res.SqrtPriceX96))
		assert.Equal(t, int64(-30), res.Tick)
		assert.True(t, res.Amount0.Cmp(e18(1000)) < 0, "input is only partially used")
		assert.Positive(t, res.Amount0.Sign())
	})

	invalid := []struct {
		name       string
		zeroForOne bool
		limit      *big.Int
	}{
		{"equal to current", true, pool.SqrtPriceX96},
		{"above current for zeroForOne", true, new(big.Int).Add(pool.SqrtPriceX96, big.NewInt(1))},
		{"below current for oneForZero", false, new(big.Int).Sub(pool.SqrtPriceX96, big.NewInt(1))},
		{"min ratio", true, tickmath.MinSqrtRatio},
		{"max ratio", false, tickmath.MaxSqrtRatio},
		{"nil", true, nil},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			p := paramsFor(pool, tc.zeroForOne, e18(1))
			p.SqrtPriceLimitX96 = tc.limit
			_, err := Swap(p, newViewTicks(pool), nil)
			assert.ErrorIs(t, err, ErrInvalidPriceLimit)
		})
	}

	_, err := Swap(paramsFor(pool, true, big.NewInt(0)), newViewTicks(pool), nil)
	assert.ErrorIs(t, err, ErrAmountSpecifiedZero)
}

func TestSwap_StepErrorAborts(t *testing.T) {
	pool := buildPool(3000, 60, 0, rangeLiquidity{-887220, 887220, e18(10)})
	sentinel := assert.AnError
	_, err := Swap(paramsFor(pool, true, e18(1)), newViewTicks(pool), func(*Step) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestSwap_ZeroLiquidityMovesToLimit(t *testing.T) {
	pool := buildPool(3000, 60, 0, rangeLiquidity{600, 1200, e18(10)})
	require.Zero(t, pool.Liquidity.Sign())

	limit := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(limit, 300))
	p := paramsFor(pool, false, e18(1))
	p.SqrtPriceLimitX96 = limit

	res, err := Swap(p, newViewTicks(pool), nil)
	require.NoError(t, err)
	assert.Zero(t, limit.Cmp(res.SqrtPriceX96))
	assert.Zero(t, res.Amount0.Sign())
	assert.Zero(t, res.Amount1.Sign())
}

// =================================================================
// View quoting
// =================================================================

func TestGetAmountOutAndIn(t *testing.T) {
	pool := buildPool(3000, 60, 0,
		rangeLiquidity{-887220, 887220, e18(1000)},
		rangeLiquidity{-600, 600, e18(5000)},
	)

	testCases := []struct {
		description string
		tokenIn     common.Address
		amountIn    *big.Int
	}{
		{"small token0 in", tokenA, fromString("1000000")},
		{"medium token0 in", tokenA, e18(10)},
		{"large token0 in crossing", tokenA, e18(500)},
		{"small token1 in", tokenB, fromString("1000000")},
		{"large token1 in crossing", tokenB, e18(500)},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			amountOut, err := GetAmountOut(tc.amountIn, nil, tc.tokenIn, pool)
			require.NoError(t, err)
			require.Positive(t, amountOut.Sign())

			simulated, newState, err := SimulateExactInSwap(tc.amountIn, nil, tc.tokenIn, pool)
			require.NoError(t, err)
			assert.Equal(t, amountOut.String(), simulated.String())
			assert.NotEqual(t, pool.SqrtPriceX96.String(), newState.SqrtPriceX96.String())

			amountIn, err := GetAmountIn(new(big.Int).Neg(amountOut), nil, tc.tokenIn, pool)
			require.NoError(t, err)
			slack := new(big.Int).Sub(tc.amountIn, amountIn)
			assert.True(t, slack.CmpAbs(big.NewInt(1000)) <= 0, "in %s vs %s", amountIn, tc.amountIn)
		})
	}
}

func TestQuoteInputValidation(t *testing.T) {
	pool := buildPool(3000, 60, 0, rangeLiquidity{-887220, 887220, e18(10)})

	_, err := GetAmountOut(big.NewInt(0), nil, tokenA, pool)
	assert.ErrorIs(t, err, ErrInvalidAmountIn)
	_, err = GetAmountIn(big.NewInt(1), nil, tokenA, pool)
	assert.ErrorIs(t, err, ErrInvalidAmountOut)
	_, err = GetAmountOut(big.NewInt(1), nil, common.HexToAddress("0x01"), pool)
	assert.ErrorIs(t, err, ErrTokenMismatch)
	_, _, err = SimulateExactInSwap(nil, nil, tokenA, pool)
	assert.ErrorIs(t, err, ErrInvalidAmountIn)
}

// TestSimulateSwap_IdempotencyAndStateIsolation verifies that the simulation
// function does not mutate its inputs and that returned states are independent.
func TestSimulateSwap_IdempotencyAndStateIsolation(t *testing.T) {
	originalPool := buildPool(3000, 60, 0,
		rangeLiquidity{-887220, 887220, e18(1000)},
		rangeLiquidity{-600, 600, e18(5000)},
	)
	amountIn := e18(300)

	amountOut1, newPoolState1, err1 := SimulateExactInSwap(amountIn, nil, tokenA, originalPool)
	require.NoError(t, err1)
	amountOut2, newPoolState2, err2 := SimulateExactInSwap(amountIn, nil, tokenA, originalPool)
	require.NoError(t, err2)

	t.Run("Idempotency Check", func(t *testing.T) {
		assert.Equal(t, amountOut1.String(), amountOut2.String())
		assert.True(t, reflect.DeepEqual(newPoolState1, newPoolState2))
	})

	t.Run("Deep Copy Check (Mutable Fields)", func(t *testing.T) {
		assert.NotSame(t, originalPool.Liquidity, newPoolState1.Liquidity)
		assert.NotSame(t, originalPool.SqrtPriceX96, newPoolState1.SqrtPriceX96)
	})

	t.Run("Shallow Copy Check (Immutable Fields)", func(t *testing.T) {
		require.NotEmpty(t, originalPool.Ticks)
		assert.Same(t, &originalPool.Ticks[0], &newPoolState1.Ticks[0])
	})

	t.Run("Result Isolation Check", func(t *testing.T) {
		originalLiquidity2 := new(big.Int).Set(newPoolState2.Liquidity)
		newPoolState1.Liquidity.Add(newPoolState1.Liquidity, big.NewInt(12345))
		assert.Equal(t, originalLiquidity2.String(), newPoolState2.Liquidity.String())
	})
}

func TestGetSpotPrice(t *testing.T) {
	// ~3045 USDT per WETH
	sqrtPriceX96 := fromString("4602761997227095498465462")

	// token0 is WETH (18 decimals), token1 is USDT (6 decimals)
	pool := uniswapv3.Pool{
		PoolView: uniswapv3.PoolView{
			Token0:       tokenA,
			Token1:       tokenB,
			SqrtPriceX96: sqrtPriceX96,
		},
	}

	testCases := []struct {
		name          string
		tokenIn       common.Address
		decimalsIn    uint8
		decimalsOut   uint8
		expectedPrice string
	}{
		{"Native Direction: WETH (18) -> USDT (6)", tokenA, 18, 6, "3375031805"},
		{"Inverse Direction: USDT (6) -> WETH (18)", tokenB, 6, 18, "296293504072605"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			spotPrice, err := GetSpotPrice(tc.tokenIn, tc.decimalsIn, tc.decimalsOut, pool)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedPrice, spotPrice.String())
		})
	}

	_, err := GetSpotPrice(common.HexToAddress("0x01"), 18, 18, pool)
	assert.ErrorIs(t, err, ErrTokenMismatch)
}
