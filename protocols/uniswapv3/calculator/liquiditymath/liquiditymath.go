package liquiditymath

import (
	"errors"
	"math/big"
)

var (
	// MaxLiquidity is the largest value liquidity may hold (2^128 - 1).
	MaxLiquidity = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta adds a signed liquidity delta to an unsigned liquidity value.
// dest is left untouched on error, so it may alias x.
func AddDelta(dest *big.Int, x *big.Int, y *big.Int) error {
	var sum big.Int
	sum.Add(x, y)

	if sum.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if sum.Cmp(MaxLiquidity) > 0 {
		return ErrLiquidityOverflow
	}

	dest.Set(&sum)
	return nil
}
