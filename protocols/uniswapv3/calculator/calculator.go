package calculator

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/swapmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickbitmap"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
)

var (
	ErrInvalidAmountIn     = errors.New("amountIn must be greater than zero")
	ErrInvalidAmountOut    = errors.New("amountOut must be negative for an exact-output swap")
	ErrAmountSpecifiedZero = errors.New("amount specified must be non-zero")
	ErrInvalidPriceLimit   = errors.New("sqrt price limit is on the wrong side of the current price or out of bounds")
	ErrTokenMismatch       = errors.New("token mismatch")

	Q96, _ = new(big.Int).SetString("79228162514264337593543950336", 10)
	Q64F   = new(big.Float).SetInt(Q96)
)

// TickSource supplies initialized ticks to the swap loop.
type TickSource interface {
	// NextInitializedTickWithinOneWord has the semantics of tickbitmap.NextInitializedTickWithinOneWord.
	NextInitializedTickWithinOneWord(tick int64, lte bool) (next int64, initialized bool)
	// Cross is called when the price reaches an initialized tick and returns the tick's
	// liquidityNet. Implementations that own state flip the tick's fee growth outside here.
	Cross(tick int64) (liquidityNet *big.Int, err error)
}

// SwapParams is the pool state a swap starts from plus the swap request.
// AmountSpecified is positive for exact input and negative for exact output.
type SwapParams struct {
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *big.Int
	SqrtPriceX96      *big.Int
	Tick              int64
	Liquidity         *big.Int
	Fee               uint32
}

// Step describes one computed swap step. The values are scratch storage owned by the
// loop and must not be retained after the step callback returns.
type Step struct {
	SqrtPriceStartX96 *big.Int
	SqrtPriceX96      *big.Int
	TickNext          int64
	Initialized       bool
	AmountIn          *big.Int
	AmountOut         *big.Int
	FeeAmount         *big.Int
	// Liquidity is the active liquidity the step traded against.
	Liquidity *big.Int
}

// StepFunc observes each step after amounts are computed and before any tick is crossed.
type StepFunc func(step *Step) error

// Result is the outcome of a swap. Amounts are signed from the pool's side:
// positive values are owed to the pool, negative values are paid out.
type Result struct {
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Tick         int64
	Liquidity    *big.Int
	Steps        int
}

// swapState holds the scratch values of a running swap so the loop does not allocate.
type swapState struct {
	amountSpecifiedRemaining *big.Int
	amountCalculated         *big.Int
	sqrtPriceX96             *big.Int
	tick                     int64
	liquidity                *big.Int

	sqrtPriceNextX96 *big.Int
	targetPrice      *big.Int
	tempAmount       *big.Int
	feePips          *big.Int
	liquidityNet     *big.Int
	step             Step
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			amountSpecifiedRemaining: new(big.Int),
			amountCalculated:         new(big.Int),
			sqrtPriceX96:             new(big.Int),
			liquidity:                new(big.Int),
			sqrtPriceNextX96:         new(big.Int),
			targetPrice:              new(big.Int),
			tempAmount:               new(big.Int),
			feePips:                  new(big.Int),
			liquidityNet:             new(big.Int),
			step: Step{
				SqrtPriceStartX96: new(big.Int),
				SqrtPriceX96:      new(big.Int),
				AmountIn:          new(big.Int),
				AmountOut:         new(big.Int),
				FeeAmount:         new(big.Int),
				Liquidity:         new(big.Int),
			},
		}
	},
}

// ValidatePriceLimit checks that limit lies strictly between the current price and the
// extreme price in the swap direction.
func ValidatePriceLimit(zeroForOne bool, sqrtPriceX96, limit *big.Int) error {
	if limit == nil {
		return ErrInvalidPriceLimit
	}
	if zeroForOne {
		if limit.Cmp(sqrtPriceX96) >= 0 || limit.Cmp(tickmath.MinSqrtRatio) <= 0 {
			return ErrInvalidPriceLimit
		}
		return nil
	}
	if limit.Cmp(sqrtPriceX96) <= 0 || limit.Cmp(tickmath.MaxSqrtRatio) >= 0 {
		return ErrInvalidPriceLimit
	}
	return nil
}

// DefaultPriceLimit returns the most permissive valid limit for a direction.
func DefaultPriceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(tickmath.MinSqrtRatio, big.NewInt(1))
	}
	return new(big.Int).Sub(tickmath.MaxSqrtRatio, big.NewInt(1))
}

// Swap walks the price from p.SqrtPriceX96 toward p.SqrtPriceLimitX96 one initialized
// tick at a time until the specified amount is used up or the limit is reached.
// onStep may be nil.
func Swap(p SwapParams, ticks TickSource, onStep StepFunc) (Result, error) {
	if p.AmountSpecified == nil || p.AmountSpecified.Sign() == 0 {
		return Result{}, ErrAmountSpecifiedZero
	}
	if err := ValidatePriceLimit(p.ZeroForOne, p.SqrtPriceX96, p.SqrtPriceLimitX96); err != nil {
		return Result{}, err
	}

	state := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(state)

	state.amountSpecifiedRemaining.Set(p.AmountSpecified)
	state.amountCalculated.SetInt64(0)
	state.sqrtPriceX96.Set(p.SqrtPriceX96)
	state.tick = p.Tick
	state.liquidity.Set(p.Liquidity)
	state.feePips.SetUint64(uint64(p.Fee))

	steps, err := state.run(p.ZeroForOne, p.SqrtPriceLimitX96, ticks, onStep)
	if err != nil {
		return Result{}, err
	}

	exactInput := p.AmountSpecified.Sign() > 0
	specifiedUsed := new(big.Int).Sub(p.AmountSpecified, state.amountSpecifiedRemaining)
	calculated := new(big.Int).Set(state.amountCalculated)

	res := Result{
		SqrtPriceX96: new(big.Int).Set(state.sqrtPriceX96),
		Tick:         state.tick,
		Liquidity:    new(big.Int).Set(state.liquidity),
		Steps:        steps,
	}
	if p.ZeroForOne == exactInput {
		res.Amount0, res.Amount1 = specifiedUsed, calculated
	} else {
		res.Amount0, res.Amount1 = calculated, specifiedUsed
	}
	return res, nil
}

func (state *swapState) run(zeroForOne bool, sqrtPriceLimitX96 *big.Int, ticks TickSource, onStep StepFunc) (int, error) {
	exactInput := state.amountSpecifiedRemaining.Sign() > 0
	step := &state.step
	steps := 0

	for state.amountSpecifiedRemaining.Sign() != 0 && state.sqrtPriceX96.Cmp(sqrtPriceLimitX96) != 0 {
		step.SqrtPriceStartX96.Set(state.sqrtPriceX96)
		step.Liquidity.Set(state.liquidity)

		tickNext, initialized := ticks.NextInitializedTickWithinOneWord(state.tick, zeroForOne)
		if tickNext < tickmath.MinTick {
			tickNext = tickmath.MinTick
		} else if tickNext > tickmath.MaxTick {
			tickNext = tickmath.MaxTick
		}
		step.TickNext, step.Initialized = tickNext, initialized

		if err := tickmath.GetSqrtRatioAtTick(state.sqrtPriceNextX96, tickNext); err != nil {
			return steps, err
		}

		if (zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) < 0) ||
			(!zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) > 0) {
			state.targetPrice.Set(sqrtPriceLimitX96)
		} else {
			state.targetPrice.Set(state.sqrtPriceNextX96)
		}

		err := swapmath.ComputeSwapStep(
			state.sqrtPriceX96, step.AmountIn, step.AmountOut, step.FeeAmount,
			step.SqrtPriceStartX96,
			state.targetPrice,
			state.liquidity,
			state.amountSpecifiedRemaining,
			state.feePips,
		)
		if err != nil {
			return steps, fmt.Errorf("swap step at tick %d: %w", state.tick, err)
		}
		step.SqrtPriceX96.Set(state.sqrtPriceX96)
		steps++

		if exactInput {
			state.amountSpecifiedRemaining.Sub(state.amountSpecifiedRemaining, state.tempAmount.Add(step.AmountIn, step.FeeAmount))
			state.amountCalculated.Sub(state.amountCalculated, step.AmountOut)
		} else {
			state.amountSpecifiedRemaining.Add(state.amountSpecifiedRemaining, step.AmountOut)
			state.amountCalculated.Add(state.amountCalculated, state.tempAmount.Add(step.AmountIn, step.FeeAmount))
		}

		if onStep != nil {
			if err := onStep(step); err != nil {
				return steps, err
			}
		}

		if state.sqrtPriceX96.Cmp(state.sqrtPriceNextX96) == 0 {
			if initialized {
				net, err := ticks.Cross(tickNext)
				if err != nil {
					return steps, err
				}
				state.liquidityNet.Set(net)
				if zeroForOne {
					state.liquidityNet.Neg(state.liquidityNet)
				}
				if err := liquiditymath.AddDelta(state.liquidity, state.liquidity, state.liquidityNet); err != nil {
					return steps, fmt.Errorf("crossing tick %d: %w", tickNext, err)
				}
			}
			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPriceX96.Cmp(step.SqrtPriceStartX96) != 0 {
			tick, err := tickmath.GetTickAtSqrtRatio(state.sqrtPriceX96)
			if err != nil {
				return steps, err
			}
			state.tick = tick
		}
	}
	return steps, nil
}

// viewTicks serves a read-only pool snapshot to the swap loop.
type viewTicks struct {
	pool    uniswapv3.Pool
	indices []int64
}

func newViewTicks(pool uniswapv3.Pool) *viewTicks {
	return &viewTicks{pool: pool, indices: pool.TickIndices()}
}

func (v *viewTicks) NextInitializedTickWithinOneWord(tick int64, lte bool) (int64, bool) {
	return tickbitmap.NextInitializedTickWithinOneWord(v.indices, tick, v.pool.TickSpacing, lte)
}

func (v *viewTicks) Cross(tick int64) (*big.Int, error) {
	i := sort.Search(len(v.indices), func(i int) bool { return v.indices[i] >= tick })
	if i == len(v.indices) || v.indices[i] != tick {
		return nil, fmt.Errorf("tick %d is not initialized in pool %s", tick, v.pool.Address)
	}
	return v.pool.Ticks[i].LiquidityNet, nil
}

func direction(tokenIn common.Address, pool uniswapv3.Pool) (zeroForOne bool, err error) {
	switch tokenIn {
	case pool.Token0:
		return true, nil
	case pool.Token1:
		return false, nil
	default:
		return false, fmt.Errorf("%w: token %s is not in pool %s", ErrTokenMismatch, tokenIn, pool.Address)
	}
}

func simulate(amountSpecified, sqrtPriceLimitX96 *big.Int, tokenIn common.Address, pool uniswapv3.Pool) (Result, error) {
	zeroForOne, err := direction(tokenIn, pool)
	if err != nil {
		return Result{}, err
	}
	if sqrtPriceLimitX96 == nil {
		sqrtPriceLimitX96 = DefaultPriceLimit(zeroForOne)
	}
	return Swap(SwapParams{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   amountSpecified,
		SqrtPriceLimitX96: sqrtPriceLimitX96,
		SqrtPriceX96:      pool.SqrtPriceX96,
		Tick:              pool.Tick,
		Liquidity:         pool.Liquidity,
		Fee:               pool.Fee,
	}, newViewTicks(pool), nil)
}

// outputOf returns the amount paid out by the pool as a positive number.
func outputOf(res Result, zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Neg(res.Amount1)
	}
	return new(big.Int).Neg(res.Amount0)
}

// SimulateExactInSwap calculates the amount out and the resulting pool state for an exact amount in.
// A nil sqrtPriceLimitX96 means no limit. Tick fee growth is not advanced in the returned state.
func SimulateExactInSwap(
	amountIn *big.Int,
	sqrtPriceLimitX96 *big.Int,
	tokenIn common.Address,
	pool uniswapv3.Pool,
) (amountOut *big.Int, newPoolState uniswapv3.Pool, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, uniswapv3.Pool{}, ErrInvalidAmountIn
	}
	res, err := simulate(amountIn, sqrtPriceLimitX96, tokenIn, pool)
	if err != nil {
		return nil, uniswapv3.Pool{}, err
	}

	newPoolState = pool
	newPoolState.SqrtPriceX96 = res.SqrtPriceX96
	newPoolState.Tick = res.Tick
	newPoolState.Liquidity = res.Liquidity
	return outputOf(res, tokenIn == pool.Token0), newPoolState, nil
}

// GetAmountOut calculates the amount out for a given exact amount in.
func GetAmountOut(
	amountIn *big.Int,
	sqrtPriceLimitX96 *big.Int,
	tokenIn common.Address,
	pool uniswapv3.Pool,
) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmountIn
	}
	res, err := simulate(amountIn, sqrtPriceLimitX96, tokenIn, pool)
	if err != nil {
		return nil, err
	}
	return outputOf(res, tokenIn == pool.Token0), nil
}

// GetAmountIn calculates the required amount in for a given exact amount out.
// NOTE: It expects a negative amountOut to signal the exact-output swap type.
func GetAmountIn(
	amountOut *big.Int,
	sqrtPriceLimitX96 *big.Int,
	tokenIn common.Address,
	pool uniswapv3.Pool,
) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() >= 0 {
		return nil, ErrInvalidAmountOut
	}
	res, err := simulate(amountOut, sqrtPriceLimitX96, tokenIn, pool)
	if err != nil {
		return nil, err
	}
	if tokenIn == pool.Token0 {
		return res.Amount0, nil
	}
	return res.Amount1, nil
}

// GetSpotPrice calculates the spot price of tokenIn in terms of tokenOut,
// adjusted for token decimals. The returned big.Int represents the price
// with precision matching the decimals of tokenOut.
// For example, if tokenOut is USDT (6 decimals), a return value of 3045123456
// represents a price of 3045.123456.
func GetSpotPrice(
	tokenIn common.Address,
	decimalsIn, decimalsOut uint8,
	pool uniswapv3.Pool,
) (*big.Int, error) {
	zeroForOne, err := direction(tokenIn, pool)
	if err != nil {
		return nil, err
	}
	if pool.SqrtPriceX96 == nil || pool.SqrtPriceX96.Sign() == 0 {
		return nil, fmt.Errorf("pool %s is not initialized", pool.Address)
	}

	decimalsInF := big.NewFloat(math.Pow(10, float64(decimalsIn)))
	decimalsOutF := big.NewFloat(math.Pow(10, float64(decimalsOut)))

	sqrtPriceX96F := new(big.Float).SetInt(pool.SqrtPriceX96)
	intermediate := sqrtPriceX96F.Quo(sqrtPriceX96F, Q64F)
	price := new(big.Float).Mul(intermediate, intermediate)
	if !zeroForOne {
		price.Quo(big.NewFloat(1), price)
	}
	spotPrice := price.Quo(price, new(big.Float).Quo(decimalsOutF, decimalsInF))
	spotPrice.Mul(spotPrice, decimalsOutF)
	sp, _ := spotPrice.Int(nil)
	return sp, nil
}
