package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func validFeeProtocol(fp uint8) bool {
	return fp == 0 || (fp >= 4 && fp <= 10)
}

// SetFeeProtocol sets the denominators of the protocol's share of swap fees.
// Only the factory owner may call it.
func (p *Pool) SetFeeProtocol(ctx context.Context, caller common.Address, feeProtocol0, feeProtocol1 uint8) (err error) {
	if caller != p.deployer.Owner() {
		return ErrUnauthorized
	}
	if !validFeeProtocol(feeProtocol0) || !validFeeProtocol(feeProtocol1) {
		return fmt.Errorf("%w: %d, %d", ErrInvalidFeeProtocol, feeProtocol0, feeProtocol1)
	}
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock(&err)

	old := p.state.slot0.FeeProtocol
	p.state.slot0.FeeProtocol = feeProtocol0 + feeProtocol1<<4
	p.emit(SetFeeProtocol{
		FeeProtocol0Old: old % 16,
		FeeProtocol1Old: old >> 4,
		FeeProtocol0New: feeProtocol0,
		FeeProtocol1New: feeProtocol1,
	})
	return nil
}

// CollectProtocol pays up to the requested protocol fees to recipient.
// Only the factory owner may call it.
func (p *Pool) CollectProtocol(
	ctx context.Context,
	caller, recipient common.Address,
	amount0Requested, amount1Requested *big.Int,
) (amount0, amount1 *big.Int, err error) {
	if caller != p.deployer.Owner() {
		return nil, nil, ErrUnauthorized
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock(&err)

	s := &p.state
	amounts := [2]*big.Int{}
	for i, req := range [2]*big.Int{amount0Requested, amount1Requested} {
		amounts[i] = new(big.Int).Set(s.protocolFees[i])
		if req != nil && req.Cmp(amounts[i]) < 0 {
			amounts[i].Set(req)
		}
		if amounts[i].Sign() <= 0 {
			amounts[i].SetInt64(0)
			continue
		}
		s.protocolFees[i] = new(big.Int).Sub(s.protocolFees[i], amounts[i])
		if err = p.pay(i, recipient, amounts[i]); err != nil {
			return nil, nil, err
		}
	}

	p.emit(CollectProtocol{
		Sender:    caller,
		Recipient: recipient,
		Amount0:   new(big.Int).Set(amounts[0]),
		Amount1:   new(big.Int).Set(amounts[1]),
	})
	return amounts[0], amounts[1], nil
}
