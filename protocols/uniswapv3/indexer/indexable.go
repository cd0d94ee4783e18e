package indexer

import (
	"github.com/ethereum/go-ethereum/common"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
)

// Indexer builds indexed views of pool snapshots.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed Uniswap V3 system from a raw slice of pools.
func (i *Indexer) Index(pools []uniswapv3.Pool) IndexedUniswapV3 {
	return NewIndexableUniswapV3System(pools)
}

// IndexableUniswapV3System provides indexed access to pool snapshots by address and
// by token. It does not copy the pools it is built from.
type IndexableUniswapV3System struct {
	byAddress map[common.Address]int
	byToken   map[common.Address][]int
	all       []uniswapv3.Pool
}

// NewIndexableUniswapV3System creates a new indexed Uniswap V3 system.
// Later duplicates of an address replace earlier ones in address lookups.
func NewIndexableUniswapV3System(pools []uniswapv3.Pool) *IndexableUniswapV3System {
	byAddress := make(map[common.Address]int, len(pools))
	byToken := make(map[common.Address][]int)

	for i, p := range pools {
		byAddress[p.Address] = i
		byToken[p.Token0] = append(byToken[p.Token0], i)
		if p.Token1 != p.Token0 {
			byToken[p.Token1] = append(byToken[p.Token1], i)
		}
	}

	return &IndexableUniswapV3System{
		byAddress: byAddress,
		byToken:   byToken,
		all:       pools,
	}
}

// GetByAddress retrieves a pool by its address.
func (ius *IndexableUniswapV3System) GetByAddress(address common.Address) (uniswapv3.Pool, bool) {
	i, ok := ius.byAddress[address]
	if !ok {
		return uniswapv3.Pool{}, false
	}
	return ius.all[i], true
}

// ByToken returns the pools trading token, in input order.
func (ius *IndexableUniswapV3System) ByToken(token common.Address) []uniswapv3.Pool {
	indices := ius.byToken[token]
	out := make([]uniswapv3.Pool, len(indices))
	for j, i := range indices {
		out[j] = ius.all[i]
	}
	return out
}

// All returns a defensive copy of the slice of all pools.
func (ius *IndexableUniswapV3System) All() []uniswapv3.Pool {
	allCopy := make([]uniswapv3.Pool, len(ius.all))
	copy(allCopy, ius.all)
	return allCopy
}
