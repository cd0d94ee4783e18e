package uniswapv3

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

// newTestPool builds a snapshot with every mutable field populated.
func newTestPool(n int64, liquidity, sqrtPrice, tick int64, ticks []TickInfo) Pool {
	return Pool{
		PoolView: PoolView{
			Address:                addr(n),
			Liquidity:              big.NewInt(liquidity),
			SqrtPriceX96:           big.NewInt(sqrtPrice),
			Tick:                   tick,
			FeeGrowthGlobal0X128:   uint256.NewInt(0),
			FeeGrowthGlobal1X128:   uint256.NewInt(0),
			BaseTokensAccumulated0: big.NewInt(0),
			BaseTokensAccumulated1: big.NewInt(0),
		},
		Ticks: ticks,
	}
}

func TestChanged(t *testing.T) {
	tick1 := TickInfo{Index: 10, LiquidityNet: big.NewInt(100), LiquidityGross: big.NewInt(100)}
	tick2 := TickInfo{Index: 20, LiquidityNet: big.NewInt(-100), LiquidityGross: big.NewInt(100)}
	base := newTestPool(1, 1000, 5000, 100, []TickInfo{tick1, tick2})

	tests := []struct {
		name   string
		modify func(p *Pool)
		want   bool
	}{
		{"identical", func(p *Pool) {}, false},
		{"tick order only", func(p *Pool) { p.Ticks = []TickInfo{tick2, tick1} }, false},
		{"liquidity", func(p *Pool) { p.Liquidity = big.NewInt(1001) }, true},
		{"price", func(p *Pool) { p.SqrtPriceX96 = big.NewInt(5001) }, true},
		{"tick", func(p *Pool) { p.Tick = 101 }, true},
		{"fee growth", func(p *Pool) { p.FeeGrowthGlobal1X128 = uint256.NewInt(7) }, true},
		{"withheld base token", func(p *Pool) { p.BaseTokensAccumulated0 = big.NewInt(3) }, true},
		{"settings", func(p *Pool) { p.PoolTokenSettings = 1 }, true},
		{"tick removed", func(p *Pool) { p.Ticks = []TickInfo{tick1} }, true},
		{"tick liquidity", func(p *Pool) {
			p.Ticks = []TickInfo{tick1, {Index: 20, LiquidityNet: big.NewInt(-101), LiquidityGross: big.NewInt(100)}}
		}, true},
		{"tick fee growth", func(p *Pool) {
			moved := tick2
			moved.FeeGrowthOutside0X128 = uint256.NewInt(9)
			p.Ticks = []TickInfo{tick1, moved}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base.Clone()
			tt.modify(&p)
			assert.Equal(t, tt.want, Changed(base, p))
		})
	}
}

func TestDiff(t *testing.T) {
	tick1 := TickInfo{Index: 10, LiquidityNet: big.NewInt(100)}
	tick2 := TickInfo{Index: 20, LiquidityNet: big.NewInt(200)}

	pool1Old := newTestPool(1, 1000, 5000, 100, []TickInfo{tick1})
	pool2Old := newTestPool(2, 2000, 6000, 200, []TickInfo{tick2})
	pool3Old := newTestPool(3, 3000, 7000, 300, nil)

	t.Run("should identify additions correctly", func(t *testing.T) {
		diff := Diff([]Pool{pool1Old}, []Pool{pool1Old, pool2Old})

		assert.Len(t, diff.Additions, 1, "Should have one addition")
		assert.Equal(t, pool2Old.Address, diff.Additions[0].Address)
		assert.Empty(t, diff.Updates)
		assert.Empty(t, diff.Deletions)
	})

	t.Run("should identify deletions correctly", func(t *testing.T) {
		diff := Diff([]Pool{pool1Old, pool2Old}, []Pool{pool1Old})

		assert.Empty(t, diff.Additions)
		assert.Empty(t, diff.Updates)
		require.Len(t, diff.Deletions, 1)
		assert.Equal(t, pool2Old.Address, diff.Deletions[0])
	})

	t.Run("should identify updates when a nested tick changes", func(t *testing.T) {
		tick1Updated := TickInfo{Index: 10, LiquidityNet: big.NewInt(101)}
		updated := newTestPool(1, 1000, 5000, 100, []TickInfo{tick1Updated})

		diff := Diff([]Pool{pool1Old}, []Pool{updated})

		require.Len(t, diff.Updates, 1, "A change in a nested tick should trigger an update")
		assert.Equal(t, updated.Address, diff.Updates[0].Address)
	})

	t.Run("should handle a mix of additions, updates, and deletions", func(t *testing.T) {
		pool1Updated := newTestPool(1, 1000, 5001, 100, []TickInfo{tick1})
		pool4New := newTestPool(4, 4000, 8000, 400, nil)

		diff := Diff([]Pool{pool1Old, pool2Old, pool3Old}, []Pool{pool1Updated, pool2Old, pool4New})

		require.Len(t, diff.Additions, 1)
		assert.Equal(t, pool4New.Address, diff.Additions[0].Address)
		require.Len(t, diff.Updates, 1)
		assert.Equal(t, pool1Updated.Address, diff.Updates[0].Address)
		require.Len(t, diff.Deletions, 1)
		assert.Equal(t, pool3Old.Address, diff.Deletions[0])
	})

	t.Run("should produce an empty diff when there are no changes", func(t *testing.T) {
		diff := Diff([]Pool{pool1Old, pool2Old}, []Pool{pool2Old, pool1Old})
		assert.True(t, diff.IsEmpty())
	})
}
