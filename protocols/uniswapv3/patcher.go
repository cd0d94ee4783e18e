package uniswapv3

import (
	"bytes"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func copyU256(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}

func copyTickInfo(t TickInfo) TickInfo {
	return TickInfo{
		Index:                 t.Index,
		LiquidityGross:        copyBig(t.LiquidityGross),
		LiquidityNet:          copyBig(t.LiquidityNet),
		FeeGrowthOutside0X128: copyU256(t.FeeGrowthOutside0X128),
		FeeGrowthOutside1X128: copyU256(t.FeeGrowthOutside1X128),
	}
}

// Clone returns a copy of p sharing no memory with it.
func (p Pool) Clone() Pool {
	c := p
	c.Liquidity = copyBig(p.Liquidity)
	c.SqrtPriceX96 = copyBig(p.SqrtPriceX96)
	c.FeeGrowthGlobal0X128 = copyU256(p.FeeGrowthGlobal0X128)
	c.FeeGrowthGlobal1X128 = copyU256(p.FeeGrowthGlobal1X128)
	c.BaseTokensAccumulated0 = copyBig(p.BaseTokensAccumulated0)
	c.BaseTokensAccumulated1 = copyBig(p.BaseTokensAccumulated1)
	if p.Ticks != nil {
		c.Ticks = make([]TickInfo, len(p.Ticks))
		for i, t := range p.Ticks {
			c.Ticks[i] = copyTickInfo(t)
		}
	}
	return c
}

// Patch applies diff to prev and returns the new state sorted by address.
// prev is not modified. Adding a known pool, or updating or deleting an unknown
// one, means the diff was computed against a different state and fails.
func Patch(prev []Pool, diff SystemDiff) ([]Pool, error) {
	state := make(map[common.Address]Pool, len(prev)+len(diff.Additions))
	for _, p := range prev {
		state[p.Address] = p.Clone()
	}

	for _, address := range diff.Deletions {
		if _, ok := state[address]; !ok {
			return nil, fmt.Errorf("delete unknown pool %s", address)
		}
		delete(state, address)
	}
	for _, p := range diff.Updates {
		if _, ok := state[p.Address]; !ok {
			return nil, fmt.Errorf("update unknown pool %s", p.Address)
		}
		state[p.Address] = p.Clone()
	}
	for _, p := range diff.Additions {
		if _, ok := state[p.Address]; ok {
			return nil, fmt.Errorf("add existing pool %s", p.Address)
		}
		state[p.Address] = p.Clone()
	}

	out := make([]Pool, 0, len(state))
	for _, p := range state {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Pool) int { return bytes.Compare(a.Address[:], b.Address[:]) })
	return out, nil
}
