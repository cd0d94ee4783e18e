package factory

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	EventOwnerChanged              = "OwnerChanged"
	EventSwapFeeDistributorChanged = "SwapFeeDistributorChanged"
	EventFeeAmountEnabled          = "FeeAmountEnabled"
	EventPoolCreated               = "PoolCreated"
	EventTokenSettingsSet          = "TokenSettingsSet"
	EventTokenPairSettingsSet      = "TokenPairSettingsSet"
)

type OwnerChanged struct {
	OldOwner common.Address `json:"oldOwner"`
	NewOwner common.Address `json:"newOwner"`
}

func (OwnerChanged) EventName() string { return EventOwnerChanged }

type SwapFeeDistributorChanged struct {
	OldDistributor common.Address `json:"oldDistributor"`
	NewDistributor common.Address `json:"newDistributor"`
}

func (SwapFeeDistributorChanged) EventName() string { return EventSwapFeeDistributorChanged }

type FeeAmountEnabled struct {
	Fee         uint32 `json:"fee"`
	TickSpacing int64  `json:"tickSpacing"`
}

func (FeeAmountEnabled) EventName() string { return EventFeeAmountEnabled }

// PoolCreated is emitted once per pool with its tokens in sorted order.
type PoolCreated struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Fee         uint32         `json:"fee"`
	TickSpacing int64          `json:"tickSpacing"`
	Pool        common.Address `json:"pool"`
}

func (PoolCreated) EventName() string { return EventPoolCreated }

type TokenSettingsSet struct {
	Token    common.Address `json:"token"`
	Settings uint8          `json:"settings"`
}

func (TokenSettingsSet) EventName() string { return EventTokenSettingsSet }

type TokenPairSettingsSet struct {
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Settings uint8          `json:"settings"`
}

func (TokenPairSettingsSet) EventName() string { return EventTokenPairSettingsSet }
