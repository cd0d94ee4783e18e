package pool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/fullmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/tick"
)

// SwapParams describes a swap. AmountSpecified is positive for exact input and
// negative for exact output.
type SwapParams struct {
	Sender            common.Address
	Recipient         common.Address
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *big.Int
	Callback          SwapCallback
	Data              []byte
}

// Swap trades against the pool. The output is paid to Recipient before the callback,
// which must then deliver the input. Returned amounts are signed from the pool's side.
func (p *Pool) Swap(ctx context.Context, params SwapParams) (amount0, amount1 *big.Int, err error) {
	defer p.metrics.timer("swap")()

	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return nil, nil, ErrAmountSpecifiedZero
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock(&err)

	res, err := p.executeSwap(params.ZeroForOne, params.AmountSpecified, params.SqrtPriceLimitX96)
	if err != nil {
		return nil, nil, err
	}

	in, out := 0, 1
	amountIn, amountOut := res.Amount0, res.Amount1
	if !params.ZeroForOne {
		in, out = 1, 0
		amountIn, amountOut = res.Amount1, res.Amount0
	}

	if amountOut.Sign() < 0 {
		if err = p.pay(out, params.Recipient, new(big.Int).Neg(amountOut)); err != nil {
			return nil, nil, err
		}
	}
	before, err := p.balance(in)
	if err != nil {
		return nil, nil, err
	}
	if params.Callback != nil {
		err = p.callback(func() error {
			return params.Callback(ctx, new(big.Int).Set(res.Amount0), new(big.Int).Set(res.Amount1), params.Data)
		})
		if err != nil {
			p.logger.Debug("swap callback failed", "pool", p.address, "error", err)
			return nil, nil, err
		}
	}
	if err = p.checkDelivered(in, before, amountIn); err != nil {
		return nil, nil, err
	}

	p.emit(Swap{
		Sender:       params.Sender,
		Recipient:    params.Recipient,
		Amount0:      new(big.Int).Set(res.Amount0),
		Amount1:      new(big.Int).Set(res.Amount1),
		SqrtPriceX96: new(big.Int).Set(res.SqrtPriceX96),
		Liquidity:    new(big.Int).Set(res.Liquidity),
		Tick:         res.Tick,
	})
	p.metrics.swap(p.address)
	return res.Amount0, res.Amount1, nil
}

// Quote runs the swap loop against the current state without changing it.
func (p *Pool) Quote(zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int) (calculator.Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state.slot0.SqrtPriceX96.Sign() == 0 {
		return calculator.Result{}, ErrNotInitialized
	}
	return calculator.Swap(p.swapParams(zeroForOne, amountSpecified, sqrtPriceLimitX96), readOnlyTicks{p.ticks}, nil)
}

func (p *Pool) swapParams(zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int) calculator.SwapParams {
	s := &p.state
	return calculator.SwapParams{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   amountSpecified,
		SqrtPriceLimitX96: sqrtPriceLimitX96,
		SqrtPriceX96:      s.slot0.SqrtPriceX96,
		Tick:              s.slot0.Tick,
		Liquidity:         s.liquidity,
		Fee:               p.fee,
	}
}

// executeSwap runs the swap loop, crossing ticks and accruing fees, and writes the
// resulting price, liquidity and fee state back to the pool. The caller holds the lock.
func (p *Pool) executeSwap(zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int) (calculator.Result, error) {
	s := &p.state
	in := 1
	feeProtocol := s.slot0.FeeProtocol >> 4
	if zeroForOne {
		in = 0
		feeProtocol = s.slot0.FeeProtocol % 16
	}

	acc := &feeAccrual{
		feeProtocol:         feeProtocol,
		withhold:            p.baseIndex() == in,
		feeGrowthGlobalX128: s.feeGrowthGlobalX128[in].Clone(),
		protocolFee:         new(big.Int),
		withheld:            new(big.Int),
	}
	src := &crossingTicks{
		ticks:      p.ticks,
		zeroForOne: zeroForOne,
		growthIn:   acc.feeGrowthGlobalX128,
		growthOut:  s.feeGrowthGlobalX128[1-in],
	}

	res, err := calculator.Swap(p.swapParams(zeroForOne, amountSpecified, sqrtPriceLimitX96), src, acc.onStep)
	if err != nil {
		return calculator.Result{}, err
	}

	s.slot0.SqrtPriceX96 = new(big.Int).Set(res.SqrtPriceX96)
	s.slot0.Tick = res.Tick
	s.liquidity = new(big.Int).Set(res.Liquidity)
	s.feeGrowthGlobalX128[in] = acc.feeGrowthGlobalX128
	if acc.protocolFee.Sign() > 0 {
		s.protocolFees[in] = new(big.Int).Add(s.protocolFees[in], acc.protocolFee)
	}
	if acc.withheld.Sign() > 0 {
		s.baseTokensAccumulated[in] = new(big.Int).Add(s.baseTokensAccumulated[in], acc.withheld)
	}
	return res, nil
}

// feeAccrual routes each step's fee: the protocol cut first, then either into the
// withheld base token balance or into fee growth for the active liquidity. A non-base
// fee earned while no liquidity is active is not credited to anyone.
type feeAccrual struct {
	feeProtocol         uint8
	withhold            bool
	feeGrowthGlobalX128 *uint256.Int
	protocolFee         *big.Int
	withheld            *big.Int
}

func (a *feeAccrual) onStep(step *calculator.Step) error {
	fee := new(big.Int).Set(step.FeeAmount)
	if a.feeProtocol > 0 {
		delta := new(big.Int).Div(fee, big.NewInt(int64(a.feeProtocol)))
		fee.Sub(fee, delta)
		a.protocolFee.Add(a.protocolFee, delta)
	}
	if a.withhold {
		a.withheld.Add(a.withheld, fee)
		return nil
	}
	if step.Liquidity.Sign() == 0 {
		return nil
	}
	growth, err := feeGrowth(fee, step.Liquidity)
	if err != nil {
		return err
	}
	a.feeGrowthGlobalX128.Add(a.feeGrowthGlobalX128, growth)
	return nil
}

// feeGrowth is amount * 2^128 / liquidity.
func feeGrowth(amount, liquidity *big.Int) (*uint256.Int, error) {
	a, err := fullmath.ToWord(amount)
	if err != nil {
		return nil, err
	}
	l, err := fullmath.ToWord(liquidity)
	if err != nil {
		return nil, err
	}
	return fullmath.MulDiv(a, fullmath.Q128, l)
}

// crossingTicks flips fee growth outside of every tick the swap crosses, using the
// running fee growth of the input token.
type crossingTicks struct {
	ticks      *tick.Registry
	zeroForOne bool
	growthIn   *uint256.Int
	growthOut  *uint256.Int
}

func (c *crossingTicks) NextInitializedTickWithinOneWord(t int64, lte bool) (int64, bool) {
	return c.ticks.NextInitializedTickWithinOneWord(t, lte)
}

func (c *crossingTicks) Cross(t int64) (*big.Int, error) {
	if c.zeroForOne {
		return c.ticks.Cross(t, c.growthIn, c.growthOut)
	}
	return c.ticks.Cross(t, c.growthOut, c.growthIn)
}

// readOnlyTicks serves the tick registry to the swap loop without mutating it.
type readOnlyTicks struct {
	ticks *tick.Registry
}

func (r readOnlyTicks) NextInitializedTickWithinOneWord(t int64, lte bool) (int64, bool) {
	return r.ticks.NextInitializedTickWithinOneWord(t, lte)
}

func (r readOnlyTicks) Cross(t int64) (*big.Int, error) {
	if !r.ticks.IsInitialized(t) {
		return nil, tick.ErrTickNotInitialized
	}
	return r.ticks.Get(t).LiquidityNet, nil
}
