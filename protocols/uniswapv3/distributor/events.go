package distributor

import "github.com/ethereum/go-ethereum/common"

const (
	EventSwapFeesDistributed = "SwapFeesDistributed"
	EventSafeGasPerLoopSet   = "SafeGasPerLoopSet"
)

// SwapFeesDistributed is emitted for each settlement that performed a self-swap.
type SwapFeesDistributed struct {
	Pool common.Address `json:"pool"`
}

func (SwapFeesDistributed) EventName() string { return EventSwapFeesDistributed }

type SafeGasPerLoopSet struct {
	SafeGasStartLoop     uint64 `json:"safeGasStartLoop"`
	SafeGasForDistribute uint64 `json:"safeGasForDistribute"`
}

func (SafeGasPerLoopSet) EventName() string { return EventSafeGasPerLoopSet }
