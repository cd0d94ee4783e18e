package uniswapv3

import (
	"cmp"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SystemDiff is the change between two sets of pool snapshots, keyed by address.
type SystemDiff struct {
	Additions []Pool           `json:"additions,omitempty"`
	Updates   []Pool           `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

func u256Equal(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Eq(b)
}

// Changed reports whether two snapshots of the same pool differ in any mutable field.
// Ticks are compared order-insensitively.
func Changed(old, new Pool) bool {
	// 1. Scalars
	if old.Tick != new.Tick || old.PoolTokenSettings != new.PoolTokenSettings {
		return true
	}
	if !bigEqual(old.SqrtPriceX96, new.SqrtPriceX96) || !bigEqual(old.Liquidity, new.Liquidity) {
		return true
	}
	if !u256Equal(old.FeeGrowthGlobal0X128, new.FeeGrowthGlobal0X128) ||
		!u256Equal(old.FeeGrowthGlobal1X128, new.FeeGrowthGlobal1X128) {
		return true
	}
	if !bigEqual(old.BaseTokensAccumulated0, new.BaseTokensAccumulated0) ||
		!bigEqual(old.BaseTokensAccumulated1, new.BaseTokensAccumulated1) {
		return true
	}

	// 2. Ticks
	if len(old.Ticks) != len(new.Ticks) {
		return true
	}
	byIndex := func(a, b TickInfo) int { return cmp.Compare(a.Index, b.Index) }
	oldTicks := slices.SortedFunc(slices.Values(old.Ticks), byIndex)
	newTicks := slices.SortedFunc(slices.Values(new.Ticks), byIndex)
	for i := range oldTicks {
		o, n := oldTicks[i], newTicks[i]
		if o.Index != n.Index ||
			!bigEqual(o.LiquidityNet, n.LiquidityNet) ||
			!bigEqual(o.LiquidityGross, n.LiquidityGross) ||
			!u256Equal(o.FeeGrowthOutside0X128, n.FeeGrowthOutside0X128) ||
			!u256Equal(o.FeeGrowthOutside1X128, n.FeeGrowthOutside1X128) {
			return true
		}
	}
	return false
}

// Diff computes the pools added, changed and removed between old and new.
func Diff(old, new []Pool) SystemDiff {
	oldByAddress := make(map[common.Address]Pool, len(old))
	for _, p := range old {
		oldByAddress[p.Address] = p
	}
	newAddresses := make(map[common.Address]struct{}, len(new))

	var diff SystemDiff
	for _, p := range new {
		newAddresses[p.Address] = struct{}{}
		prev, exists := oldByAddress[p.Address]
		switch {
		case !exists:
			diff.Additions = append(diff.Additions, p)
		case Changed(prev, p):
			diff.Updates = append(diff.Updates, p)
		}
	}
	for _, p := range old {
		if _, exists := newAddresses[p.Address]; !exists {
			diff.Deletions = append(diff.Deletions, p.Address)
		}
	}
	return diff
}
