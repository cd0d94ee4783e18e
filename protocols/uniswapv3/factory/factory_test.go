package factory

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/settings"
)

var (
	factoryAddress = common.HexToAddress("0xf000000000000000000000000000000000000000")
	owner          = common.HexToAddress("0xb000000000000000000000000000000000000000")
	stranger       = common.HexToAddress("0xbad0000000000000000000000000000000000000")
	distributor    = common.HexToAddress("0xc000000000000000000000000000000000000000")
	lp             = common.HexToAddress("0xd000000000000000000000000000000000000000")
	trader         = common.HexToAddress("0xe000000000000000000000000000000000000000")

	usdb  = common.HexToAddress("0x1000000000000000000000000000000000000000")
	weth  = common.HexToAddress("0x2000000000000000000000000000000000000000")
	usdc  = common.HexToAddress("0x3000000000000000000000000000000000000000")
	plain = common.HexToAddress("0x4000000000000000000000000000000000000000")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	factory *Factory
	ledger  *tokenregistry.Ledger
	logs    chan events.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := tokenregistry.NewLedger()
	for i, addr := range []common.Address{usdb, weth, usdc, plain} {
		require.NoError(t, ledger.Register(tokenregistry.Token{ID: uint64(i), Address: addr, Symbol: "T", Decimals: 18}))
		require.NoError(t, ledger.Mint(addr, lp, e18(1_000_000)))
		require.NoError(t, ledger.Mint(addr, trader, e18(1_000_000)))
	}

	bus := events.NewBus()
	logs := make(chan events.Log, 256)
	sub := bus.Subscribe(logs)
	t.Cleanup(sub.Unsubscribe)

	f, err := New(Config{
		Address: factoryAddress,
		Owner:   owner,
		Ledger:  ledger,
		Bus:     bus,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return &fixture{factory: f, ledger: ledger, logs: logs}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Address: factoryAddress, Owner: owner, Logger: slog.Default()})
	assert.Error(t, err)
	_, err = New(Config{Owner: owner, Ledger: tokenregistry.NewLedger(), Logger: slog.Default()})
	assert.Error(t, err)
}

func TestFeeAmounts(t *testing.T) {
	fx := newFixture(t)
	f := fx.factory

	for fee, spacing := range DefaultFeeAmounts {
		assert.Equal(t, spacing, f.FeeAmountTickSpacing(fee))
	}
	assert.Zero(t, f.FeeAmountTickSpacing(2500))

	assert.ErrorIs(t, f.EnableFeeAmount(stranger, 2500, 50), ErrUnauthorized)
	assert.ErrorIs(t, f.EnableFeeAmount(owner, 1_000_000, 50), ErrInvalidFee)
	assert.ErrorIs(t, f.EnableFeeAmount(owner, 2500, 0), ErrInvalidTickSpacing)
	assert.ErrorIs(t, f.EnableFeeAmount(owner, 2500, 16384), ErrInvalidTickSpacing)
	assert.ErrorIs(t, f.EnableFeeAmount(owner, 3000, 60), ErrFeeAlreadyEnabled)

	require.NoError(t, f.EnableFeeAmount(owner, 2500, 50))
	assert.Equal(t, int64(50), f.FeeAmountTickSpacing(2500))

	logs := events.Named(events.Drain(fx.logs), EventFeeAmountEnabled)
	require.Len(t, logs, 1)
	assert.Equal(t, FeeAmountEnabled{Fee: 2500, TickSpacing: 50}, logs[0].Event)
}

func TestCreatePool(t *testing.T) {
	fx := newFixture(t)
	f := fx.factory

	p, err := f.CreatePool(weth, usdb, 3000)
	require.NoError(t, err)

	expected := ComputePoolAddress(factoryAddress, DefaultInitCodeHash, usdb, weth, 3000)
	assert.Equal(t, expected, p.Address())
	assert.Equal(t, usdb, p.Token0())
	assert.Equal(t, weth, p.Token1())
	assert.Equal(t, int64(60), p.TickSpacing())
	assert.Equal(t, expected, f.GetPool(usdb, weth, 3000))
	assert.Equal(t, expected, f.GetPool(weth, usdb, 3000))
	assert.Equal(t, common.Address{}, f.GetPool(usdb, weth, 500))

	// the same pair in another fee tier is a different pool
	other, err := f.CreatePool(usdb, weth, 500)
	require.NoError(t, err)
	assert.NotEqual(t, p.Address(), other.Address())

	require.Equal(t, 2, f.AllPoolsLength())
	first, err := f.AllPools(0)
	require.NoError(t, err)
	assert.Equal(t, p.Address(), first)
	_, err = f.AllPools(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	got, ok := f.Pool(p.Address())
	require.True(t, ok)
	assert.Same(t, p, got)
	_, ok = f.LookupPool(stranger)
	assert.False(t, ok)

	assert.ElementsMatch(t, []common.Address{usdb, weth}, f.Tokens())

	logs := events.Named(events.Drain(fx.logs), EventPoolCreated)
	require.Len(t, logs, 2)
	assert.Equal(t, factoryAddress, logs[0].Address)
	assert.Equal(t, PoolCreated{Token0: usdb, Token1: weth, Fee: 3000, TickSpacing: 60, Pool: expected}, logs[0].Event)
}

func TestCreatePool_Errors(t *testing.T) {
	f := newFixture(t).factory

	_, err := f.CreatePool(usdb, usdb, 3000)
	assert.ErrorIs(t, err, ErrIdenticalTokens)
	_, err = f.CreatePool(common.Address{}, usdb, 3000)
	assert.ErrorIs(t, err, ErrZeroAddress)
	_, err = f.CreatePool(usdb, weth, 2500)
	assert.ErrorIs(t, err, ErrFeeNotEnabled)

	_, err = f.CreatePool(usdb, weth, 3000)
	require.NoError(t, err)
	_, err = f.CreatePool(weth, usdb, 3000)
	assert.ErrorIs(t, err, ErrPoolExists)
	assert.Equal(t, 1, f.AllPoolsLength())
}

func TestComputePoolAddress_InitCodeHash(t *testing.T) {
	a := ComputePoolAddress(factoryAddress, DefaultInitCodeHash, usdb, weth, 3000)
	assert.Equal(t, a, ComputePoolAddress(factoryAddress, DefaultInitCodeHash, weth, usdb, 3000))
	assert.NotEqual(t, a, ComputePoolAddress(factoryAddress, common.HexToHash("0x01"), usdb, weth, 3000))
	assert.NotEqual(t, a, ComputePoolAddress(owner, DefaultInitCodeHash, usdb, weth, 3000))
}

func TestTokenSettings(t *testing.T) {
	fx := newFixture(t)
	f := fx.factory

	entries := []TokenSettingsEntry{
		{Token: usdb, Settings: settings.TokenUSD | settings.TokenNativeYield},
		{Token: weth, Settings: settings.TokenETH | settings.TokenNativeYield},
		{Token: usdc, Settings: settings.TokenUSD},
	}
	assert.ErrorIs(t, f.SetTokenSettings(stranger, entries), ErrUnauthorized)

	bad := append(entries, TokenSettingsEntry{Token: plain, Settings: settings.TokenUSD | settings.TokenETH})
	assert.ErrorIs(t, f.SetTokenSettings(owner, bad), settings.ErrUSDAndETHClass)
	assert.Zero(t, f.TokenSettings(usdb), "invalid batches apply nothing")

	require.NoError(t, f.SetTokenSettings(owner, entries))
	assert.Equal(t, uint8(5), f.TokenSettings(usdb))
	assert.Equal(t, settings.TokenSettings{IsETH: true, SupportsNativeYield: true}, f.GetTokenSettings(weth))
	assert.Len(t, events.Named(events.Drain(fx.logs), EventTokenSettingsSet), 3)

	testCases := []struct {
		name     string
		a, b     common.Address
		expected uint8
	}{
		{"USDB/WETH", usdb, weth, 13},
		{"WETH/USDB", weth, usdb, 13},
		{"USDC/WETH", usdc, weth, settings.BaseToken1 | settings.Token0NativeYield},
		{"USDB/USDC", usdb, usdc, settings.Token0NativeYield},
		{"WETH/plain", weth, plain, settings.BaseToken0 | settings.Token0NativeYield},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.CalculatePoolTokenSettings(tc.a, tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}

	p, err := f.CreatePool(usdb, weth, 3000)
	require.NoError(t, err)
	assert.Equal(t, uint8(13), p.PoolTokenSettings())

	// later changes leave existing pools alone
	require.NoError(t, f.SetTokenSettings(owner, []TokenSettingsEntry{{Token: usdb, Settings: 0}}))
	assert.Equal(t, uint8(13), p.PoolTokenSettings())
}

func TestTokenPairSettings(t *testing.T) {
	fx := newFixture(t)
	f := fx.factory

	require.NoError(t, f.SetTokenSettings(owner, []TokenSettingsEntry{
		{Token: usdb, Settings: settings.TokenUSD | settings.TokenNativeYield},
		{Token: weth, Settings: settings.TokenETH | settings.TokenNativeYield},
	}))

	override := []TokenPairSettingsEntry{{TokenA: weth, TokenB: usdb, Settings: settings.BaseToken1}}
	assert.ErrorIs(t, f.SetTokenPairSettings(stranger, override), ErrUnauthorized)
	assert.ErrorIs(t, f.SetTokenPairSettings(owner, []TokenPairSettingsEntry{{TokenA: weth, TokenB: usdb, Settings: 0x10}}), settings.ErrUnknownBits)

	require.NoError(t, f.SetTokenPairSettings(owner, override))
	assert.Equal(t, settings.BaseToken1, f.TokenPairSettings(usdb, weth))
	got, err := f.CalculatePoolTokenSettings(usdb, weth)
	require.NoError(t, err)
	assert.Equal(t, settings.BaseToken1, got)

	logs := events.Named(events.Drain(fx.logs), EventTokenPairSettingsSet)
	require.Len(t, logs, 1)
	assert.Equal(t, TokenPairSettingsSet{Token0: usdb, Token1: weth, Settings: settings.BaseToken1}, logs[0].Event)

	// two base tokens can be stored but no pool can be created with them
	illegal := settings.BaseToken0 | settings.BaseToken1
	require.NoError(t, f.SetTokenPairSettings(owner, []TokenPairSettingsEntry{{TokenA: usdb, TokenB: weth, Settings: illegal}}))
	_, err = f.CalculatePoolTokenSettings(usdb, weth)
	assert.ErrorIs(t, err, settings.ErrBothBaseTokens)
	_, err = f.CreatePool(usdb, weth, 3000)
	assert.ErrorIs(t, err, settings.ErrBothBaseTokens)
	assert.Zero(t, f.AllPoolsLength())
}

func TestOwnership(t *testing.T) {
	fx := newFixture(t)
	f := fx.factory

	assert.ErrorIs(t, f.SetOwner(stranger, stranger), ErrUnauthorized)
	assert.ErrorIs(t, f.SetSwapFeeDistributor(stranger, distributor), ErrUnauthorized)

	require.NoError(t, f.SetSwapFeeDistributor(owner, distributor))
	assert.Equal(t, distributor, f.SwapFeeDistributor())

	require.NoError(t, f.SetOwner(owner, stranger))
	assert.Equal(t, stranger, f.Owner())
	assert.ErrorIs(t, f.SetOwner(owner, owner), ErrUnauthorized)

	logs := events.Drain(fx.logs)
	require.Len(t, logs, 2)
	assert.Equal(t, SwapFeeDistributorChanged{NewDistributor: distributor}, logs[0].Event)
	assert.Equal(t, OwnerChanged{OldOwner: owner, NewOwner: stranger}, logs[1].Event)
}

// The factory is the deployer of its pools: ownership and the distributor are read
// through it at call time.
func TestFactoryAsDeployer(t *testing.T) {
	fx := newFixture(t)
	f := fx.factory
	ctx := context.Background()

	require.NoError(t, f.SetTokenSettings(owner, []TokenSettingsEntry{{Token: usdb, Settings: settings.TokenUSD}}))
	p, err := f.CreatePool(usdb, weth, 3000)
	require.NoError(t, err)
	require.NoError(t, p.Initialize(new(big.Int).Lsh(big.NewInt(1), 96)))

	pay := func(payer common.Address) func(context.Context, *big.Int, *big.Int, []byte) error {
		return func(_ context.Context, amount0, amount1 *big.Int, _ []byte) error {
			if amount0.Sign() > 0 {
				if err := fx.ledger.Transfer(usdb, payer, p.Address(), amount0); err != nil {
					return err
				}
			}
			if amount1.Sign() > 0 {
				return fx.ledger.Transfer(weth, payer, p.Address(), amount1)
			}
			return nil
		}
	}
	_, _, err = p.Mint(ctx, pool.MintParams{
		Sender:    lp,
		Recipient: lp,
		TickLower: tickmath.MinUsableTick(60),
		TickUpper: tickmath.MaxUsableTick(60),
		Amount:    e18(1000),
		Callback:  pay(lp),
	})
	require.NoError(t, err)
	_, _, err = p.Swap(ctx, pool.SwapParams{
		Sender:            trader,
		Recipient:         trader,
		ZeroForOne:        true,
		AmountSpecified:   e18(1),
		SqrtPriceLimitX96: calculator.DefaultPriceLimit(true),
		Callback:          pay(trader),
	})
	require.NoError(t, err)

	withheld, _ := p.BaseTokensAccumulated()
	require.Positive(t, withheld.Sign())

	_, err = p.CollectBaseToken(ctx, distributor)
	assert.ErrorIs(t, err, pool.ErrUnauthorized, "no distributor set yet")

	require.NoError(t, f.SetSwapFeeDistributor(owner, distributor))
	settlement, err := p.CollectBaseToken(ctx, distributor)
	require.NoError(t, err)
	assert.True(t, settlement.Settled())
	assert.True(t, settlement.ZeroForOne)

	assert.ErrorIs(t, p.SetFeeProtocol(ctx, stranger, 4, 4), pool.ErrUnauthorized)
	require.NoError(t, p.SetFeeProtocol(ctx, owner, 4, 4))
}
