// Package codec decodes streamed events back into their typed form.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/distributor"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/factory"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
)

var ErrUnknownEvent = errors.New("unknown event name")

var constructors = map[string]func() events.Event{
	pool.EventInitialize:      func() events.Event { return &pool.Initialize{} },
	pool.EventMint:            func() events.Event { return &pool.Mint{} },
	pool.EventBurn:            func() events.Event { return &pool.Burn{} },
	pool.EventSwap:            func() events.Event { return &pool.Swap{} },
	pool.EventCollect:         func() events.Event { return &pool.Collect{} },
	pool.EventFlash:           func() events.Event { return &pool.Flash{} },
	pool.EventSetFeeProtocol:  func() events.Event { return &pool.SetFeeProtocol{} },
	pool.EventCollectProtocol: func() events.Event { return &pool.CollectProtocol{} },

	factory.EventOwnerChanged:              func() events.Event { return &factory.OwnerChanged{} },
	factory.EventSwapFeeDistributorChanged: func() events.Event { return &factory.SwapFeeDistributorChanged{} },
	factory.EventFeeAmountEnabled:          func() events.Event { return &factory.FeeAmountEnabled{} },
	factory.EventPoolCreated:               func() events.Event { return &factory.PoolCreated{} },
	factory.EventTokenSettingsSet:          func() events.Event { return &factory.TokenSettingsSet{} },
	factory.EventTokenPairSettingsSet:      func() events.Event { return &factory.TokenPairSettingsSet{} },

	distributor.EventSwapFeesDistributed: func() events.Event { return &distributor.SwapFeesDistributed{} },
	distributor.EventSafeGasPerLoopSet:   func() events.Event { return &distributor.SafeGasPerLoopSet{} },
}

// DecodeEvent decodes the JSON payload of the named event. The result is a pointer
// to the event struct, e.g. *pool.Swap.
func DecodeEvent(name string, data json.RawMessage) (events.Event, error) {
	newEvent, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	ev := newEvent()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
	}
	return ev, nil
}
