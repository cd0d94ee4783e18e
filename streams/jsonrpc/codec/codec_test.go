package codec

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/distributor"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/factory"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
)

func TestDecodeEvent(t *testing.T) {
	poolAddr := common.HexToAddress("0xa000000000000000000000000000000000000000")

	testCases := []struct {
		name     string
		event    events.Event
		expected events.Event
	}{
		{
			name: "swap",
			event: pool.Swap{
				Sender:       poolAddr,
				Amount0:      big.NewInt(-5),
				Amount1:      big.NewInt(7),
				SqrtPriceX96: big.NewInt(1 << 40),
				Liquidity:    big.NewInt(1000),
				Tick:         -12,
			},
			expected: &pool.Swap{
				Sender:       poolAddr,
				Amount0:      big.NewInt(-5),
				Amount1:      big.NewInt(7),
				SqrtPriceX96: big.NewInt(1 << 40),
				Liquidity:    big.NewInt(1000),
				Tick:         -12,
			},
		},
		{
			name:     "pool created",
			event:    factory.PoolCreated{Fee: 500, TickSpacing: 10, Pool: poolAddr},
			expected: &factory.PoolCreated{Fee: 500, TickSpacing: 10, Pool: poolAddr},
		},
		{
			name:     "fees distributed",
			event:    distributor.SwapFeesDistributed{Pool: poolAddr},
			expected: &distributor.SwapFeesDistributed{Pool: poolAddr},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			require.NoError(t, err)
			got, err := DecodeEvent(tc.event.EventName(), data)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, tc.event.EventName(), got.EventName())
		})
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	_, err := DecodeEvent("Sync", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeEvent(pool.EventSwap, json.RawMessage(`{"amount0": "x"}`))
	assert.Error(t, err)
}
