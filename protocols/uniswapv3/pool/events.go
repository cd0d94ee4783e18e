package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool event names.
const (
	EventInitialize      = "Initialize"
	EventMint            = "Mint"
	EventBurn            = "Burn"
	EventSwap            = "Swap"
	EventCollect         = "Collect"
	EventFlash           = "Flash"
	EventSetFeeProtocol  = "SetFeeProtocol"
	EventCollectProtocol = "CollectProtocol"
)

type Initialize struct {
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`
	Tick         int64    `json:"tick"`
}

func (Initialize) EventName() string { return EventInitialize }

type Mint struct {
	Sender    common.Address `json:"sender"`
	Owner     common.Address `json:"owner"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Amount    *big.Int       `json:"amount"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

func (Mint) EventName() string { return EventMint }

type Burn struct {
	Owner     common.Address `json:"owner"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Amount    *big.Int       `json:"amount"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

func (Burn) EventName() string { return EventBurn }

// Swap amounts are signed from the pool's side: negative values left the pool.
type Swap struct {
	Sender       common.Address `json:"sender"`
	Recipient    common.Address `json:"recipient"`
	Amount0      *big.Int       `json:"amount0"`
	Amount1      *big.Int       `json:"amount1"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Liquidity    *big.Int       `json:"liquidity"`
	Tick         int64          `json:"tick"`
}

func (Swap) EventName() string { return EventSwap }

type Collect struct {
	Owner     common.Address `json:"owner"`
	Recipient common.Address `json:"recipient"`
	TickLower int64          `json:"tickLower"`
	TickUpper int64          `json:"tickUpper"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

func (Collect) EventName() string { return EventCollect }

type Flash struct {
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
	Paid0     *big.Int       `json:"paid0"`
	Paid1     *big.Int       `json:"paid1"`
}

func (Flash) EventName() string { return EventFlash }

type SetFeeProtocol struct {
	FeeProtocol0Old uint8 `json:"feeProtocol0Old"`
	FeeProtocol1Old uint8 `json:"feeProtocol1Old"`
	FeeProtocol0New uint8 `json:"feeProtocol0New"`
	FeeProtocol1New uint8 `json:"feeProtocol1New"`
}

func (SetFeeProtocol) EventName() string { return EventSetFeeProtocol }

type CollectProtocol struct {
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount0   *big.Int       `json:"amount0"`
	Amount1   *big.Int       `json:"amount1"`
}

func (CollectProtocol) EventName() string { return EventCollectProtocol }
