package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/fullmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/swapmath"
)

// FlashParams describes a flash loan of Amount0 and Amount1 to Recipient.
type FlashParams struct {
	Sender    common.Address
	Recipient common.Address
	Amount0   *big.Int
	Amount1   *big.Int
	Callback  FlashCallback
	Data      []byte
}

var feeDenominator = big.NewInt(swapmath.FeeDenominator)

// Flash lends pool tokens for the duration of the callback, which must return them
// plus the fee. Everything paid beyond the principal is accrued like a swap fee.
func (p *Pool) Flash(ctx context.Context, params FlashParams) (err error) {
	defer p.metrics.timer("flash")()

	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock(&err)

	if p.state.liquidity.Sign() == 0 {
		return ErrNoLiquidity
	}

	amounts := [2]*big.Int{orZero(params.Amount0), orZero(params.Amount1)}
	fee := big.NewInt(int64(p.fee))
	var fees, before [2]*big.Int
	for i := range 2 {
		if amounts[i].Sign() < 0 {
			return fmt.Errorf("flash amount%d must not be negative", i)
		}
		fees[i] = new(big.Int)
		if err = fullmath.MulDivRoundingUpBig(fees[i], amounts[i], fee, feeDenominator); err != nil {
			return err
		}
		if before[i], err = p.balance(i); err != nil {
			return err
		}
	}
	for i := range 2 {
		if err = p.pay(i, params.Recipient, amounts[i]); err != nil {
			return err
		}
	}

	if params.Callback != nil {
		err = p.callback(func() error {
			return params.Callback(ctx, new(big.Int).Set(fees[0]), new(big.Int).Set(fees[1]), params.Data)
		})
		if err != nil {
			p.logger.Debug("flash callback failed", "pool", p.address, "error", err)
			return err
		}
	}

	var paid [2]*big.Int
	for i := range 2 {
		after, err := p.balance(i)
		if err != nil {
			return err
		}
		if new(big.Int).Add(before[i], fees[i]).Cmp(after) > 0 {
			return fmt.Errorf("%w: token%d", ErrFlashInsufficientRepayment, i)
		}
		paid[i] = new(big.Int).Sub(after, before[i])
	}

	fp := [2]uint8{p.state.slot0.FeeProtocol % 16, p.state.slot0.FeeProtocol >> 4}
	for i := range 2 {
		if err = p.accrue(i, paid[i], fp[i]); err != nil {
			return err
		}
	}

	p.emit(Flash{
		Sender:    params.Sender,
		Recipient: params.Recipient,
		Amount0:   new(big.Int).Set(amounts[0]),
		Amount1:   new(big.Int).Set(amounts[1]),
		Paid0:     paid[0],
		Paid1:     paid[1],
	})
	p.metrics.flash(p.address)
	return nil
}

// accrue credits a fee paid in token i outside of the swap loop: the protocol cut,
// then the withheld balance for a base token or fee growth otherwise.
func (p *Pool) accrue(i int, amount *big.Int, feeProtocol uint8) error {
	if amount.Sign() == 0 {
		return nil
	}
	s := &p.state
	rest := new(big.Int).Set(amount)
	if feeProtocol > 0 {
		cut := new(big.Int).Div(amount, big.NewInt(int64(feeProtocol)))
		rest.Sub(rest, cut)
		s.protocolFees[i] = new(big.Int).Add(s.protocolFees[i], cut)
	}
	if p.baseIndex() == i {
		s.baseTokensAccumulated[i] = new(big.Int).Add(s.baseTokensAccumulated[i], rest)
		return nil
	}
	growth, err := feeGrowth(rest, s.liquidity)
	if err != nil {
		return err
	}
	s.feeGrowthGlobalX128[i] = growth.Add(growth, s.feeGrowthGlobalX128[i])
	return nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
