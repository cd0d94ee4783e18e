package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/sqrtpricemath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/position"
)

// MintParams describes liquidity added for Recipient in [TickLower, TickUpper).
type MintParams struct {
	Sender    common.Address
	Recipient common.Address
	TickLower int64
	TickUpper int64
	Amount    *big.Int
	Callback  MintCallback
	Data      []byte
}

// Mint adds liquidity and returns the token amounts the callback had to deliver.
func (p *Pool) Mint(ctx context.Context, params MintParams) (amount0, amount1 *big.Int, err error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, nil, ErrZeroLiquidity
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock(&err)

	amount0, amount1, err = p.modifyPosition(params.Recipient, params.TickLower, params.TickUpper, params.Amount)
	if err != nil {
		return nil, nil, err
	}

	var before [2]*big.Int
	for i, owed := range [2]*big.Int{amount0, amount1} {
		if owed.Sign() > 0 {
			if before[i], err = p.balance(i); err != nil {
				return nil, nil, err
			}
		}
	}
	if params.Callback != nil {
		err = p.callback(func() error {
			return params.Callback(ctx, new(big.Int).Set(amount0), new(big.Int).Set(amount1), params.Data)
		})
		if err != nil {
			p.logger.Debug("mint callback failed", "pool", p.address, "error", err)
			return nil, nil, err
		}
	}
	for i, owed := range [2]*big.Int{amount0, amount1} {
		if owed.Sign() > 0 {
			if err = p.checkDelivered(i, before[i], owed); err != nil {
				return nil, nil, err
			}
		}
	}

	p.emit(Mint{
		Sender:    params.Sender,
		Owner:     params.Recipient,
		TickLower: params.TickLower,
		TickUpper: params.TickUpper,
		Amount:    new(big.Int).Set(params.Amount),
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
	})
	return amount0, amount1, nil
}

// Burn removes liquidity from owner's position and credits the released tokens to the
// position's owed balance. A zero amount only updates the fees owed.
func (p *Pool) Burn(ctx context.Context, owner common.Address, tickLower, tickUpper int64, amount *big.Int) (amount0, amount1 *big.Int, err error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: burn amount must not be negative", ErrZeroLiquidity)
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock(&err)

	delta0, delta1, err := p.modifyPosition(owner, tickLower, tickUpper, new(big.Int).Neg(amount))
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1 = delta0.Neg(delta0), delta1.Neg(delta1)

	if err = p.positions.AddOwed(position.Key(owner, tickLower, tickUpper), amount0, amount1); err != nil {
		return nil, nil, err
	}

	p.emit(Burn{
		Owner:     owner,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    new(big.Int).Set(amount),
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
	})
	return amount0, amount1, nil
}

// Collect pays out up to the requested amounts from owner's owed balance.
func (p *Pool) Collect(
	ctx context.Context,
	owner, recipient common.Address,
	tickLower, tickUpper int64,
	amount0Requested, amount1Requested *big.Int,
) (amount0, amount1 *big.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock(&err)

	amount0, amount1 = p.positions.Collect(position.Key(owner, tickLower, tickUpper), amount0Requested, amount1Requested)
	if err = p.pay(0, recipient, amount0); err != nil {
		return nil, nil, err
	}
	if err = p.pay(1, recipient, amount1); err != nil {
		return nil, nil, err
	}

	p.emit(Collect{
		Owner:     owner,
		Recipient: recipient,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount0:   new(big.Int).Set(amount0),
		Amount1:   new(big.Int).Set(amount1),
	})
	return amount0, amount1, nil
}

func (p *Pool) checkTicks(tickLower, tickUpper int64) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: %d >= %d", ErrInvalidTickRange, tickLower, tickUpper)
	}
	if tickLower < tickmath.MinTick {
		return fmt.Errorf("%w: %d", ErrTickLowerOutOfBounds, tickLower)
	}
	if tickUpper > tickmath.MaxTick {
		return fmt.Errorf("%w: %d", ErrTickUpperOutOfBounds, tickUpper)
	}
	if tickLower%p.tickSpacing != 0 || tickUpper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d) with spacing %d", ErrTickMisaligned, tickLower, tickUpper, p.tickSpacing)
	}
	return nil
}

// modifyPosition applies a signed liquidity change and returns the token amounts owed
// to the pool (positive) or released by it (negative).
func (p *Pool) modifyPosition(owner common.Address, tickLower, tickUpper int64, liquidityDelta *big.Int) (amount0, amount1 *big.Int, err error) {
	if err := p.checkTicks(tickLower, tickUpper); err != nil {
		return nil, nil, err
	}
	if err := p.updatePosition(owner, tickLower, tickUpper, liquidityDelta); err != nil {
		return nil, nil, err
	}

	amount0, amount1 = new(big.Int), new(big.Int)
	if liquidityDelta.Sign() == 0 {
		return amount0, amount1, nil
	}

	s := &p.state
	sqrtLower, sqrtUpper := new(big.Int), new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtLower, tickLower); err != nil {
		return nil, nil, err
	}
	if err := tickmath.GetSqrtRatioAtTick(sqrtUpper, tickUpper); err != nil {
		return nil, nil, err
	}

	switch {
	case s.slot0.Tick < tickLower:
		// range is above the price: only token0 is needed
		if err := sqrtpricemath.GetAmount0DeltaSigned(amount0, sqrtLower, sqrtUpper, liquidityDelta); err != nil {
			return nil, nil, err
		}
	case s.slot0.Tick < tickUpper:
		if err := sqrtpricemath.GetAmount0DeltaSigned(amount0, s.slot0.SqrtPriceX96, sqrtUpper, liquidityDelta); err != nil {
			return nil, nil, err
		}
		sqrtpricemath.GetAmount1DeltaSigned(amount1, sqrtLower, s.slot0.SqrtPriceX96, liquidityDelta)
		if err := liquiditymath.AddDelta(s.liquidity, s.liquidity, liquidityDelta); err != nil {
			return nil, nil, err
		}
	default:
		sqrtpricemath.GetAmount1DeltaSigned(amount1, sqrtLower, sqrtUpper, liquidityDelta)
	}
	return amount0, amount1, nil
}

// updatePosition updates the boundary ticks and the position, clearing ticks that no
// position references any more.
func (p *Pool) updatePosition(owner common.Address, tickLower, tickUpper int64, liquidityDelta *big.Int) error {
	s := &p.state
	fg0, fg1 := s.feeGrowthGlobalX128[0], s.feeGrowthGlobalX128[1]

	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		var err error
		if flippedLower, err = p.ticks.Update(tickLower, s.slot0.Tick, liquidityDelta, fg0, fg1, false); err != nil {
			return err
		}
		if flippedUpper, err = p.ticks.Update(tickUpper, s.slot0.Tick, liquidityDelta, fg0, fg1, true); err != nil {
			return err
		}
	}

	inside0, inside1 := p.ticks.FeeGrowthInside(tickLower, tickUpper, s.slot0.Tick, fg0, fg1)
	if err := p.positions.Update(position.Key(owner, tickLower, tickUpper), liquidityDelta, inside0, inside1); err != nil {
		return err
	}

	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			p.ticks.Clear(tickLower)
		}
		if flippedUpper {
			p.ticks.Clear(tickUpper)
		}
	}
	return nil
}
