// Package position tracks liquidity owned by an address in a tick range and the fees it has earned.
package position

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/fullmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/liquiditymath"
)

var (
	// ErrNoPosition is returned when poking a position that holds no liquidity.
	ErrNoPosition       = errors.New("position has no liquidity")
	ErrUnknownPosition  = errors.New("unknown position")
	ErrCheckpointActive = errors.New("checkpoint already active")
	ErrNoCheckpoint     = errors.New("no active checkpoint")
)

// Info is the state of one position.
type Info struct {
	Liquidity *big.Int
	// FeeGrowthInside*LastX128 is the fee growth inside the range as of the last update.
	FeeGrowthInside0LastX128 *uint256.Int
	FeeGrowthInside1LastX128 *uint256.Int
	// TokensOwed* are fees and burned principal waiting to be collected.
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
}

func newInfo() *Info {
	return &Info{
		Liquidity:                new(big.Int),
		FeeGrowthInside0LastX128: new(uint256.Int),
		FeeGrowthInside1LastX128: new(uint256.Int),
		TokensOwed0:              new(big.Int),
		TokensOwed1:              new(big.Int),
	}
}

// Clone returns a deep copy.
func (i *Info) Clone() *Info {
	return &Info{
		Liquidity:                new(big.Int).Set(i.Liquidity),
		FeeGrowthInside0LastX128: i.FeeGrowthInside0LastX128.Clone(),
		FeeGrowthInside1LastX128: i.FeeGrowthInside1LastX128.Clone(),
		TokensOwed0:              new(big.Int).Set(i.TokensOwed0),
		TokensOwed1:              new(big.Int).Set(i.TokensOwed1),
	}
}

// Key identifies a position by keccak256 of the packed owner address and the two
// boundary ticks as 24-bit two's complement integers.
func Key(owner common.Address, tickLower, tickUpper int64) common.Hash {
	var packed [common.AddressLength + 6]byte
	copy(packed[:], owner.Bytes())
	putInt24(packed[common.AddressLength:], tickLower)
	putInt24(packed[common.AddressLength+3:], tickUpper)
	return crypto.Keccak256Hash(packed[:])
}

func putInt24(b []byte, v int64) {
	u := uint32(v) & 0xffffff
	b[0] = byte(u >> 16)
	b[1] = byte(u >> 8)
	b[2] = byte(u)
}

// Registry stores positions by key. Records are never deleted.
// Registry is not safe for concurrent use; the owning pool serializes access.
type Registry struct {
	positions map[common.Hash]*Info
	journal   map[common.Hash]*Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{positions: make(map[common.Hash]*Info)}
}

// Get returns a copy of the position; unknown keys read as zero.
func (r *Registry) Get(key common.Hash) Info {
	info, ok := r.positions[key]
	if !ok {
		return *newInfo()
	}
	return *info.Clone()
}

// Len is the number of positions ever touched.
func (r *Registry) Len() int {
	return len(r.positions)
}

// Update credits fees earned since the last update into tokens owed, then applies the
// liquidity delta. A zero delta refreshes fees only and requires existing liquidity.
func (r *Registry) Update(
	key common.Hash,
	liquidityDelta *big.Int,
	feeGrowthInside0X128, feeGrowthInside1X128 *uint256.Int,
) error {
	info, exists := r.positions[key]
	if !exists {
		info = newInfo()
	}

	liquidityNext := info.Liquidity
	if liquidityDelta.Sign() == 0 {
		if info.Liquidity.Sign() == 0 {
			return ErrNoPosition
		}
	} else {
		liquidityNext = new(big.Int)
		if err := liquiditymath.AddDelta(liquidityNext, info.Liquidity, liquidityDelta); err != nil {
			return fmt.Errorf("position %s: %w", key.Hex(), err)
		}
	}

	owed0, err := owed(feeGrowthInside0X128, info.FeeGrowthInside0LastX128, info.Liquidity)
	if err != nil {
		return err
	}
	owed1, err := owed(feeGrowthInside1X128, info.FeeGrowthInside1LastX128, info.Liquidity)
	if err != nil {
		return err
	}

	r.record(key)
	if !exists {
		r.positions[key] = info
	}

	info.Liquidity = liquidityNext
	info.FeeGrowthInside0LastX128 = feeGrowthInside0X128.Clone()
	info.FeeGrowthInside1LastX128 = feeGrowthInside1X128.Clone()
	if owed0.Sign() > 0 || owed1.Sign() > 0 {
		info.TokensOwed0 = new(big.Int).Add(info.TokensOwed0, owed0)
		info.TokensOwed1 = new(big.Int).Add(info.TokensOwed1, owed1)
	}
	return nil
}

// owed is (inside - last) * liquidity / 2^128 with the growth difference taken modulo 2^256.
func owed(inside, last *uint256.Int, liquidity *big.Int) (*big.Int, error) {
	delta := new(uint256.Int).Sub(inside, last)
	l, err := fullmath.ToWord(liquidity)
	if err != nil {
		return nil, err
	}
	amount, err := fullmath.MulDiv(delta, l, fullmath.Q128)
	if err != nil {
		return nil, err
	}
	return amount.ToBig(), nil
}

// Collect moves up to the requested amounts out of tokens owed and returns what was taken.
func (r *Registry) Collect(key common.Hash, amount0Requested, amount1Requested *big.Int) (amount0, amount1 *big.Int) {
	info, ok := r.positions[key]
	if !ok {
		return new(big.Int), new(big.Int)
	}
	amount0 = minBig(amount0Requested, info.TokensOwed0)
	amount1 = minBig(amount1Requested, info.TokensOwed1)
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return amount0, amount1
	}

	r.record(key)
	info.TokensOwed0 = new(big.Int).Sub(info.TokensOwed0, amount0)
	info.TokensOwed1 = new(big.Int).Sub(info.TokensOwed1, amount1)
	return amount0, amount1
}

// AddOwed credits burned principal to an existing position.
func (r *Registry) AddOwed(key common.Hash, amount0, amount1 *big.Int) error {
	info, ok := r.positions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, key.Hex())
	}
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return nil
	}
	r.record(key)
	info.TokensOwed0 = new(big.Int).Add(info.TokensOwed0, amount0)
	info.TokensOwed1 = new(big.Int).Add(info.TokensOwed1, amount1)
	return nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Checkpoint starts recording changes so they can be undone with Revert.
func (r *Registry) Checkpoint() error {
	if r.journal != nil {
		return ErrCheckpointActive
	}
	r.journal = make(map[common.Hash]*Info)
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

// Commit keeps all changes made since Checkpoint and returns a function that
// undoes them once every later change has been undone.
func (r *Registry) Commit() (func(), error) {
	if r.journal == nil {
		return nil, ErrNoCheckpoint
	}
	j := r.journal
	r.journal = nil
	return func() { r.restore(j) }, nil
}

func (r *Registry) restore(j map[common.Hash]*Info) {
	for key, original := range j {
		if original == nil {
			delete(r.positions, key)
		} else {
			r.positions[key] = original
		}
	}
}

func (r *Registry) record(key common.Hash) {
	if r.journal == nil {
		return
	}
	if _, seen := r.journal[key]; seen {
		return
	}
	if info, ok := r.positions[key]; ok {
		r.journal[key] = info.Clone()
	} else {
		r.journal[key] = nil
	}
}
