package main

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/defistate-amm-go/cmd/ammd/config"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/factory"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/settings"
)

var (
	usdb = common.HexToAddress("0x4300000000000000000000000000000000000003")
	weth = common.HexToAddress("0x4300000000000000000000000000000000000004")
	tka  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("ammd.example.yaml")
	require.NoError(t, err)
	cfg.Storage.Path = ":memory:"
	cfg.Listen.Metrics = "127.0.0.1:0"
	cfg.Listen.Stream = "127.0.0.1:0"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *daemon {
	t.Helper()
	d, err := newDaemon(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { d.close() })
	return d
}

func TestDaemon_Seed(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.seed(context.Background()))

	assert.Equal(t, d.distributor.Address(), d.factory.SwapFeeDistributor())
	require.Equal(t, 2, d.factory.AllPoolsLength())

	usdbWeth, ok := d.factory.Pool(d.factory.GetPool(usdb, weth, 500))
	require.True(t, ok)
	assert.Equal(t, settings.BaseToken0|settings.Token0NativeYield|settings.Token1NativeYield, usdbWeth.PoolTokenSettings())
	assert.Positive(t, usdbWeth.Liquidity().Sign())

	tkaUsdb, ok := d.factory.Pool(d.factory.GetPool(usdb, tka, 3000))
	require.True(t, ok)
	assert.Equal(t, tka, tkaUsdb.Token0())
	assert.Equal(t, settings.BaseToken1|settings.Token1NativeYield, tkaUsdb.PoolTokenSettings())

	// both positions of the second pool are active at price 1
	full := tkaUsdb.Positions(d.cfg.Workload.LiquidityProvider, -887220, 887220)
	assert.Zero(t, full.Liquidity.Cmp(d.cfg.Pools[1].Positions[0].Liquidity.Int))
	assert.Zero(t, tkaUsdb.Liquidity().Cmp(fromDecimal(t, "1500000000000000000000")))
}

func TestDaemon_SeedRejectsIllegalPair(t *testing.T) {
	cfg := testConfig(t)
	cfg.PairSettings = []config.PairSettingsConfig{{TokenA: usdb, TokenB: weth, Settings: settings.BaseToken0 | settings.BaseToken1}}
	d := newTestDaemon(t, cfg)

	err := d.seed(context.Background())
	assert.ErrorIs(t, err, settings.ErrBothBaseTokens)
	assert.Empty(t, d.pools)
}

func TestDaemon_SwapAndDistribute(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.seed(ctx))

	// round 0: usdb -> weth, round 1: tka -> usdb, round 2: weth -> usdb, round 3: usdb -> tka
	for range 4 {
		d.swapNext(ctx)
	}
	assert.Equal(t, uint64(4), d.round)

	usdbWeth := d.pools[0]
	tkaUsdb := d.pools[1]
	withheld0, _ := usdbWeth.BaseTokensAccumulated()
	_, withheld1 := tkaUsdb.BaseTokensAccumulated()
	require.Positive(t, withheld0.Sign())
	require.Positive(t, withheld1.Sign())

	d.distribute(ctx)

	after0, _ := usdbWeth.BaseTokensAccumulated()
	_, after1 := tkaUsdb.BaseTokensAccumulated()
	assert.Negative(t, after0.Cmp(withheld0), "only the fee on the settlement swap stays withheld")
	assert.Negative(t, after1.Cmp(withheld1))

	next, err := d.distributor.NextPoolIndex(ctx)
	require.NoError(t, err)
	assert.Zero(t, next, "a full sweep wraps the cursor")

	entries, err := d.store.Events(ctx, common.Address{}, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is journaled outside run")
}

func TestDaemon_SwapFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.seed(ctx))

	trader := d.cfg.Workload.Trader
	balance, err := d.ledger.BalanceOf(usdb, trader)
	require.NoError(t, err)
	require.NoError(t, d.ledger.Transfer(usdb, trader, common.HexToAddress("0xdead"), balance))
	price := d.pools[0].Slot0().SqrtPriceX96

	// usdb -> weth cannot be paid for and rolls back
	d.swapNext(ctx)
	assert.Equal(t, uint64(1), d.round)
	assert.Zero(t, d.pools[0].Slot0().SqrtPriceX96.Cmp(price))
	withheld0, _ := d.pools[0].BaseTokensAccumulated()
	assert.Zero(t, withheld0.Sign())

	// tka -> usdb still works
	d.swapNext(ctx)
	assert.Equal(t, uint64(2), d.round)
}

func TestDaemon_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.Interval = 5 * time.Millisecond
	cfg.Distributor.Interval = 20 * time.Millisecond
	d := newTestDaemon(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, d.run(ctx))
	assert.Positive(t, d.round)

	entries, err := d.store.Events(context.Background(), d.factory.Address(), 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, factory.EventTokenSettingsSet, entries[0].Name)
}

func TestDaemon_RunFailsOnBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Listen.Stream = busy.Addr().String()
	d := newTestDaemon(t, cfg)

	err = d.run(context.Background())
	assert.ErrorContains(t, err, "listen")
	assert.Empty(t, d.pools, "nothing is seeded when a listener fails")
}

func fromDecimal(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}
