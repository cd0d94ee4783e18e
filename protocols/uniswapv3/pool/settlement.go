package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator"
)

// Settlement is the outcome of converting withheld base token fees.
type Settlement struct {
	// ZeroForOne is true when withheld token0 was sold for token1.
	ZeroForOne bool
	// AmountIn is the withheld amount consumed by the self-swap, fee included.
	AmountIn *big.Int
	// AmountOut is the other token credited to active liquidity.
	AmountOut *big.Int
	// Rewithheld is the self-swap's own fee, withheld again for the next settlement.
	Rewithheld *big.Int
	Steps      int
}

// Settled reports whether a self-swap happened.
func (s Settlement) Settled() bool {
	return s.AmountIn != nil && s.AmountIn.Sign() > 0
}

// CollectBaseToken sells the withheld base token fees to the pool itself and credits
// the proceeds to the liquidity active after the sale. Only the factory's swap fee
// distributor may call it. With nothing withheld it succeeds without a swap.
func (p *Pool) CollectBaseToken(ctx context.Context, caller common.Address) (settlement Settlement, err error) {
	defer p.metrics.timer("collect_base_token")()

	if caller != p.deployer.SwapFeeDistributor() {
		return Settlement{}, ErrUnauthorized
	}
	for i := range 2 {
		if _, err := p.balance(i); err != nil {
			return Settlement{}, fmt.Errorf("%w: %s: %w", ErrInvalidToken, p.tokens[i], err)
		}
	}
	if err := p.lock(); err != nil {
		return Settlement{}, err
	}
	defer p.unlock(&err)

	s := &p.state
	in, withheld := p.withheldLeg()
	zeroForOne := in == 0
	if withheld.Sign() == 0 {
		return Settlement{ZeroForOne: zeroForOne, AmountIn: new(big.Int), AmountOut: new(big.Int), Rewithheld: new(big.Int)}, nil
	}
	if s.liquidity.Sign() == 0 {
		return Settlement{}, ErrNoLiquidity
	}

	s.baseTokensAccumulated[in] = new(big.Int)
	res, err := p.executeSwap(zeroForOne, withheld, calculator.DefaultPriceLimit(zeroForOne))
	if err != nil {
		return Settlement{}, err
	}

	amountIn, amountOut := res.Amount0, new(big.Int).Neg(res.Amount1)
	if !zeroForOne {
		amountIn, amountOut = res.Amount1, new(big.Int).Neg(res.Amount0)
	}
	// executeSwap already re-withheld the self-swap's fee
	rewithheld := new(big.Int).Set(s.baseTokensAccumulated[in])
	if unused := new(big.Int).Sub(withheld, amountIn); unused.Sign() > 0 {
		s.baseTokensAccumulated[in] = new(big.Int).Add(s.baseTokensAccumulated[in], unused)
	}

	if amountOut.Sign() > 0 {
		if s.liquidity.Sign() == 0 {
			return Settlement{}, fmt.Errorf("%w: after settlement swap", ErrNoLiquidity)
		}
		growth, err := feeGrowth(amountOut, s.liquidity)
		if err != nil {
			return Settlement{}, err
		}
		out := 1 - in
		s.feeGrowthGlobalX128[out] = growth.Add(growth, s.feeGrowthGlobalX128[out])
	}

	p.emit(Swap{
		Sender:       caller,
		Recipient:    p.address,
		Amount0:      new(big.Int).Set(res.Amount0),
		Amount1:      new(big.Int).Set(res.Amount1),
		SqrtPriceX96: new(big.Int).Set(res.SqrtPriceX96),
		Liquidity:    new(big.Int).Set(res.Liquidity),
		Tick:         res.Tick,
	})
	p.metrics.settlement(p.address)
	p.logger.Info("base token fees settled",
		"pool", p.address,
		"token", p.tokens[in],
		"amountIn", amountIn,
		"amountOut", amountOut,
		"rewithheld", rewithheld,
	)

	return Settlement{
		ZeroForOne: zeroForOne,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		Rewithheld: rewithheld,
		Steps:      res.Steps,
	}, nil
}

// QuoteBaseToken runs the self-swap CollectBaseToken would perform without changing
// the pool, failing where CollectBaseToken would fail for anyone but an unauthorized
// caller. Rewithheld is left nil.
func (p *Pool) QuoteBaseToken() (Settlement, error) {
	for i := range 2 {
		if _, err := p.balance(i); err != nil {
			return Settlement{}, fmt.Errorf("%w: %s: %w", ErrInvalidToken, p.tokens[i], err)
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state.slot0.SqrtPriceX96.Sign() == 0 {
		return Settlement{}, ErrNotInitialized
	}
	in, withheld := p.withheldLeg()
	zeroForOne := in == 0
	if withheld.Sign() == 0 {
		return Settlement{ZeroForOne: zeroForOne, AmountIn: new(big.Int), AmountOut: new(big.Int)}, nil
	}
	if p.state.liquidity.Sign() == 0 {
		return Settlement{}, ErrNoLiquidity
	}

	limit := calculator.DefaultPriceLimit(zeroForOne)
	res, err := calculator.Swap(p.swapParams(zeroForOne, new(big.Int).Set(withheld), limit), readOnlyTicks{p.ticks}, nil)
	if err != nil {
		return Settlement{}, err
	}
	amountIn, amountOut := res.Amount0, new(big.Int).Neg(res.Amount1)
	if !zeroForOne {
		amountIn, amountOut = res.Amount1, new(big.Int).Neg(res.Amount0)
	}
	return Settlement{ZeroForOne: zeroForOne, AmountIn: amountIn, AmountOut: amountOut, Steps: res.Steps}, nil
}

// withheldLeg returns the larger withheld leg, token0 on a tie.
func (p *Pool) withheldLeg() (int, *big.Int) {
	acc := p.state.baseTokensAccumulated
	if acc[1].Cmp(acc[0]) > 0 {
		return 1, acc[1]
	}
	return 0, acc[0]
}
