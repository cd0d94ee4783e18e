package uniswapv3

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolView is a point-in-time copy of a pool's scalar state.
type PoolView struct {
	Address              common.Address `json:"address"`
	Token0               common.Address `json:"token0"`
	Token1               common.Address `json:"token1"`
	Fee                  uint32         `json:"fee"`
	TickSpacing          int64          `json:"tickSpacing"`
	Tick                 int64          `json:"tick"`
	Liquidity            *big.Int       `json:"liquidity"`
	SqrtPriceX96         *big.Int       `json:"sqrtPriceX96"`
	FeeGrowthGlobal0X128 *uint256.Int   `json:"feeGrowthGlobal0X128"`
	FeeGrowthGlobal1X128 *uint256.Int   `json:"feeGrowthGlobal1X128"`
	// BaseTokensAccumulated0/1 hold fees withheld from swaps and flashes paying in the base token.
	BaseTokensAccumulated0 *big.Int `json:"baseTokensAccumulated0"`
	BaseTokensAccumulated1 *big.Int `json:"baseTokensAccumulated1"`
	PoolTokenSettings      uint8    `json:"poolTokenSettings"`
}

// TickInfo is the state of one initialized tick.
// Presence in Pool.Ticks implies the tick is initialized.
type TickInfo struct {
	Index                 int64        `json:"index"`
	LiquidityGross        *big.Int     `json:"liquidityGross"`
	LiquidityNet          *big.Int     `json:"liquidityNet"`
	FeeGrowthOutside0X128 *uint256.Int `json:"feeGrowthOutside0X128"`
	FeeGrowthOutside1X128 *uint256.Int `json:"feeGrowthOutside1X128"`
}

// Pool combines the scalar view with every initialized tick, sorted by index.
type Pool struct {
	PoolView `json:",inline"`
	Ticks    []TickInfo `json:"ticks"`
}

// TickIndices returns the sorted indices of the pool's initialized ticks.
func (p Pool) TickIndices() []int64 {
	indices := make([]int64, len(p.Ticks))
	for i, t := range p.Ticks {
		indices[i] = t.Index
	}
	return indices
}
