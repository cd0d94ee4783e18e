package indexer

import (
	"github.com/ethereum/go-ethereum/common"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
)

// IndexedUniswapV3 is a read-only view over a set of pool snapshots.
type IndexedUniswapV3 interface {
	GetByAddress(address common.Address) (uniswapv3.Pool, bool)
	ByToken(token common.Address) []uniswapv3.Pool
	All() []uniswapv3.Pool
}
