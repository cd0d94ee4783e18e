// Package tick keeps per-tick liquidity and fee growth accounting for a pool.
package tick

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sort"

	"github.com/holiman/uint256"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickbitmap"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
)

var (
	ErrLiquidityPerTickExceeded = errors.New("liquidity per tick exceeds maximum")
	ErrLiquidityGross           = errors.New("invalid gross liquidity change")
	ErrTickNotInitialized       = errors.New("tick is not initialized")
	ErrCheckpointActive         = errors.New("checkpoint already active")
	ErrNoCheckpoint             = errors.New("no active checkpoint")
)

// Info is the state stored for a tick.
type Info struct {
	// LiquidityGross is the total position liquidity referencing this tick.
	LiquidityGross *big.Int
	// LiquidityNet is added to active liquidity when the tick is crossed left to right.
	LiquidityNet *big.Int
	// FeeGrowthOutside is the fee growth on the other side of this tick, relative to the current tick.
	FeeGrowthOutside0X128 *uint256.Int
	FeeGrowthOutside1X128 *uint256.Int
	Initialized           bool
}

func newInfo() *Info {
	return &Info{
		LiquidityGross:        new(big.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(uint256.Int),
		FeeGrowthOutside1X128: new(uint256.Int),
	}
}

// Clone returns a deep copy.
func (i *Info) Clone() *Info {
	return &Info{
		LiquidityGross:        new(big.Int).Set(i.LiquidityGross),
		LiquidityNet:          new(big.Int).Set(i.LiquidityNet),
		FeeGrowthOutside0X128: i.FeeGrowthOutside0X128.Clone(),
		FeeGrowthOutside1X128: i.FeeGrowthOutside1X128.Clone(),
		Initialized:           i.Initialized,
	}
}

// Registry maps tick indices to their state and keeps a sorted index of initialized
// ticks that serves as the pool's tick bitmap.
//
// Registry is not safe for concurrent use; the owning pool serializes access.
type Registry struct {
	tickSpacing         int64
	maxLiquidityPerTick *big.Int

	ticks map[int64]*Info
	// initialized is replaced, never mutated in place, so a checkpoint can keep the old slice.
	initialized []int64

	journal *journal
}

type journal struct {
	originals   map[int64]*Info
	initialized []int64
}

// NewRegistry creates an empty registry for the given tick spacing.
func NewRegistry(tickSpacing int64) (*Registry, error) {
	maxLiquidity, err := tickmath.TickSpacingToMaxLiquidityPerTick(tickSpacing)
	if err != nil {
		return nil, err
	}
	return &Registry{
		tickSpacing:         tickSpacing,
		maxLiquidityPerTick: maxLiquidity,
		ticks:               make(map[int64]*Info),
	}, nil
}

// MaxLiquidityPerTick returns the gross liquidity cap for a single tick.
func (r *Registry) MaxLiquidityPerTick() *big.Int {
	return new(big.Int).Set(r.maxLiquidityPerTick)
}

// Get returns a copy of the tick's state; absent ticks read as zero.
func (r *Registry) Get(tick int64) Info {
	info, ok := r.ticks[tick]
	if !ok {
		return *newInfo()
	}
	return *info.Clone()
}

// Update applies a liquidity change to a position boundary and reports whether the tick
// flipped between initialized and uninitialized. Nothing is modified on error.
func (r *Registry) Update(
	tick, tickCurrent int64,
	liquidityDelta *big.Int,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int,
	upper bool,
) (flipped bool, err error) {
	info, exists := r.ticks[tick]
	if !exists {
		info = newInfo()
	}

	grossAfter := new(big.Int)
	if err := liquiditymath.AddDelta(grossAfter, info.LiquidityGross, liquidityDelta); err != nil {
		return false, fmt.Errorf("%w: tick %d: %w", ErrLiquidityGross, tick, err)
	}
	if grossAfter.Cmp(r.maxLiquidityPerTick) > 0 {
		return false, fmt.Errorf("%w: tick %d", ErrLiquidityPerTickExceeded, tick)
	}

	r.record(tick)
	if !exists {
		r.ticks[tick] = info
	}

	grossBefore := info.LiquidityGross
	flipped = (grossAfter.Sign() == 0) != (grossBefore.Sign() == 0)

	if grossBefore.Sign() == 0 {
		// by convention all growth before a tick is initialized happened below it
		if tick <= tickCurrent {
			info.FeeGrowthOutside0X128.Set(feeGrowthGlobal0X128)
			info.FeeGrowthOutside1X128.Set(feeGrowthGlobal1X128)
		}
		info.Initialized = true
	}

	info.LiquidityGross = grossAfter
	if upper {
		info.LiquidityNet = new(big.Int).Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet = new(big.Int).Add(info.LiquidityNet, liquidityDelta)
	}

	if flipped {
		if grossAfter.Sign() == 0 {
			r.removeInitialized(tick)
		} else {
			r.insertInitialized(tick)
		}
	}
	return flipped, nil
}

// Clear deletes a tick's state.
func (r *Registry) Clear(tick int64) {
	if _, ok := r.ticks[tick]; !ok {
		return
	}
	r.record(tick)
	delete(r.ticks, tick)
	r.removeInitialized(tick)
}

// Cross flips the tick's fee growth outside and returns its liquidityNet.
func (r *Registry) Cross(tick int64, feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int) (*big.Int, error) {
	info, ok := r.ticks[tick]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTickNotInitialized, tick)
	}
	r.record(tick)
	info.FeeGrowthOutside0X128 = new(uint256.Int).Sub(feeGrowthGlobal0X128, info.FeeGrowthOutside0X128)
	info.FeeGrowthOutside1X128 = new(uint256.Int).Sub(feeGrowthGlobal1X128, info.FeeGrowthOutside1X128)
	return new(big.Int).Set(info.LiquidityNet), nil
}

// FeeGrowthInside returns the fee growth per unit of liquidity accumulated inside
// [tickLower, tickUpper). Arithmetic wraps modulo 2^256; only differences are meaningful.
func (r *Registry) FeeGrowthInside(
	tickLower, tickUpper, tickCurrent int64,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *uint256.Int,
) (inside0, inside1 *uint256.Int) {
	lower0, lower1 := r.outside(tickLower)
	upper0, upper1 := r.outside(tickUpper)

	below0, below1 := lower0, lower1
	if tickCurrent < tickLower {
		below0 = new(uint256.Int).Sub(feeGrowthGlobal0X128, lower0)
		below1 = new(uint256.Int).Sub(feeGrowthGlobal1X128, lower1)
	}

	above0, above1 := upper0, upper1
	if tickCurrent >= tickUpper {
		above0 = new(uint256.Int).Sub(feeGrowthGlobal0X128, upper0)
		above1 = new(uint256.Int).Sub(feeGrowthGlobal1X128, upper1)
	}

	inside0 = new(uint256.Int).Sub(feeGrowthGlobal0X128, below0)
	inside0.Sub(inside0, above0)
	inside1 = new(uint256.Int).Sub(feeGrowthGlobal1X128, below1)
	inside1.Sub(inside1, above1)
	return inside0, inside1
}

func (r *Registry) outside(tick int64) (*uint256.Int, *uint256.Int) {
	info, ok := r.ticks[tick]
	if !ok {
		return new(uint256.Int), new(uint256.Int)
	}
	return info.FeeGrowthOutside0X128, info.FeeGrowthOutside1X128
}

// NextInitializedTickWithinOneWord searches the initialized ticks the way the on-chain
// bitmap does, one 256-tick word at a time.
func (r *Registry) NextInitializedTickWithinOneWord(tick int64, lte bool) (int64, bool) {
	return tickbitmap.NextInitializedTickWithinOneWord(r.initialized, tick, r.tickSpacing, lte)
}

// IsInitialized reports whether the tick is referenced by any position.
func (r *Registry) IsInitialized(tick int64) bool {
	_, found := slices.BinarySearch(r.initialized, tick)
	return found
}

// Initialized returns the sorted initialized tick indices.
func (r *Registry) Initialized() []int64 {
	return slices.Clone(r.initialized)
}

// Snapshot returns every initialized tick as a view, sorted by index.
func (r *Registry) Snapshot() []uniswapv3.TickInfo {
	out := make([]uniswapv3.TickInfo, 0, len(r.initialized))
	for _, idx := range r.initialized {
		info := r.ticks[idx]
		out = append(out, uniswapv3.TickInfo{
			Index:                 idx,
			LiquidityGross:        new(big.Int).Set(info.LiquidityGross),
			LiquidityNet:          new(big.Int).Set(info.LiquidityNet),
			FeeGrowthOutside0X128: info.FeeGrowthOutside0X128.Clone(),
			FeeGrowthOutside1X128: info.FeeGrowthOutside1X128.Clone(),
		})
	}
	return out
}

func (r *Registry) insertInitialized(tick int64) {
	i := sort.Search(len(r.initialized), func(i int) bool { return r.initialized[i] >= tick })
	if i < len(r.initialized) && r.initialized[i] == tick {
		return
	}
	next := make([]int64, 0, len(r.initialized)+1)
	next = append(next, r.initialized[:i]...)
	next = append(next, tick)
	next = append(next, r.initialized[i:]...)
	r.initialized = next
}

func (r *Registry) removeInitialized(tick int64) {
	i, found := slices.BinarySearch(r.initialized, tick)
	if !found {
		return
	}
	next := make([]int64, 0, len(r.initialized)-1)
	next = append(next, r.initialized[:i]...)
	next = append(next, r.initialized[i+1:]...)
	r.initialized = next
}

// Checkpoint starts recording changes so they can be undone with Revert.
func (r *Registry) Checkpoint() error {
	if r.journal != nil {
		return ErrCheckpointActive
	}
	r.journal = &journal{
		originals:   make(map[int64]*Info),
		initialized: r.initialized,
	}
	return nil
}

// Revert restores the state captured by Checkpoint.
func (r *Registry) Revert() error {
	if r.journal == nil {
		return ErrNoCheckpoint
	}
	r.restore(r.journal)
	r.journal = nil
	return nil
}

// Commit keeps all changes made since Checkpoint. The returned function undoes
// them later; every change made after Commit must have been undone first.
func (r *Registry) Commit() (func(), error) {
	if r.journal == nil {
		return nil, ErrNoCheckpoint
	}
	j := r.journal
	r.journal = nil
	return func() { r.restore(j) }, nil
}

func (r *Registry) restore(j *journal) {
	for tick, original := range j.originals {
		if original == nil {
			delete(r.ticks, tick)
		} else {
			r.ticks[tick] = original
		}
	}
	r.initialized = j.initialized
}

// record saves the tick's state before its first change under a checkpoint.
func (r *Registry) record(tick int64) {
	if r.journal == nil {
		return
	}
	if _, seen := r.journal.originals[tick]; seen {
		return
	}
	if info, ok := r.ticks[tick]; ok {
		r.journal.originals[tick] = info.Clone()
	} else {
		r.journal.originals[tick] = nil
	}
}
