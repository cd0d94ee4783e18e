package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/defistate/defistate-amm-go/cmd/ammd/config"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/distributor"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/factory"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
	"github.com/defistate/defistate-amm-go/storage/sqlite"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/server"
)

const (
	journalBufferSize = 1024
	shutdownTimeout   = 5 * time.Second
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// daemon owns every component of a running scenario. All pool and distributor
// calls are made from the goroutine running run, so swaps and sweeps never overlap.
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	ledger      *tokenregistry.Ledger
	bus         *events.Bus
	store       *sqlite.Store
	factory     *factory.Factory
	distributor *distributor.Distributor
	stream      *server.Server

	pools []*pool.Pool
	round uint64
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledger := tokenregistry.NewLedger()
	for i, t := range cfg.Tokens {
		err := ledger.Register(tokenregistry.Token{
			ID:       uint64(i),
			Address:  t.Address,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
		if err != nil {
			return nil, fmt.Errorf("register token %s: %w", t.Symbol, err)
		}
	}

	store, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	f, err := factory.New(factory.Config{
		Address:      cfg.Factory.Address,
		Owner:        cfg.Factory.Owner,
		InitCodeHash: cfg.Factory.InitCodeHash,
		Ledger:       ledger,
		Bus:          bus,
		Logger:       logger.With("component", "factory"),
		Metrics:      pool.NewMetrics(reg),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize factory: %w", err)
	}

	dist, err := distributor.New(distributor.Config{
		Address:              cfg.Distributor.Address,
		Owner:                cfg.Factory.Owner,
		Registry:             f,
		Cursors:              store,
		Schedule:             cfg.Distributor.Schedule,
		SafeGasStartLoop:     cfg.Distributor.SafeGasStartLoop,
		SafeGasForDistribute: cfg.Distributor.SafeGasForDistribute,
		Bus:                  bus,
		Logger:               logger.With("component", "distributor"),
		Metrics:              distributor.NewMetrics(reg),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize distributor: %w", err)
	}

	stream, err := server.New(server.Config{
		Bus:        bus,
		Pools:      f,
		Logger:     logger.With("component", "stream"),
		BufferSize: cfg.Listen.StreamBuffer,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize stream server: %w", err)
	}

	return &daemon{
		cfg:         cfg,
		logger:      logger,
		registry:    reg,
		ledger:      ledger,
		bus:         bus,
		store:       store,
		factory:     f,
		distributor: dist,
		stream:      stream,
	}, nil
}

// seed applies the scenario: settings, distributor registration, pools, funding and positions.
func (d *daemon) seed(ctx context.Context) error {
	owner := d.cfg.Factory.Owner

	tokenEntries := make([]factory.TokenSettingsEntry, 0, len(d.cfg.Tokens))
	for _, t := range d.cfg.Tokens {
		tokenEntries = append(tokenEntries, factory.TokenSettingsEntry{Token: t.Address, Settings: t.Settings.Encode()})
	}
	if err := d.factory.SetTokenSettings(owner, tokenEntries); err != nil {
		return fmt.Errorf("token settings: %w", err)
	}

	pairEntries := make([]factory.TokenPairSettingsEntry, 0, len(d.cfg.PairSettings))
	for _, p := range d.cfg.PairSettings {
		pairEntries = append(pairEntries, factory.TokenPairSettingsEntry{TokenA: p.TokenA, TokenB: p.TokenB, Settings: p.Settings})
	}
	if len(pairEntries) > 0 {
		if err := d.factory.SetTokenPairSettings(owner, pairEntries); err != nil {
			return fmt.Errorf("pair settings: %w", err)
		}
	}

	if err := d.factory.SetSwapFeeDistributor(owner, d.distributor.Address()); err != nil {
		return fmt.Errorf("register distributor: %w", err)
	}

	if len(d.cfg.Pools) == 0 {
		return nil
	}

	w := d.cfg.Workload
	for _, t := range d.cfg.Tokens {
		for _, account := range []common.Address{w.Trader, w.LiquidityProvider} {
			if err := d.ledger.Mint(t.Address, account, w.Funding.Int); err != nil {
				return fmt.Errorf("fund %s: %w", account, err)
			}
		}
	}

	for i, pc := range d.cfg.Pools {
		p, err := d.factory.CreatePool(pc.TokenA, pc.TokenB, pc.Fee)
		if err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		sqrtPrice := q96
		if pc.SqrtPriceX96.IsSet() {
			sqrtPrice = pc.SqrtPriceX96.Int
		}
		if err := p.Initialize(sqrtPrice); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		for j, pos := range pc.Positions {
			lower, upper := tickmath.MinUsableTick(p.TickSpacing()), tickmath.MaxUsableTick(p.TickSpacing())
			if pos.TickLower != nil {
				lower = *pos.TickLower
			}
			if pos.TickUpper != nil {
				upper = *pos.TickUpper
			}
			_, _, err := p.Mint(ctx, pool.MintParams{
				Sender:    w.LiquidityProvider,
				Recipient: w.LiquidityProvider,
				TickLower: lower,
				TickUpper: upper,
				Amount:    pos.Liquidity.Int,
				Callback:  d.pay(p, w.LiquidityProvider),
			})
			if err != nil {
				return fmt.Errorf("pools[%d].positions[%d]: %w", i, j, err)
			}
		}
		d.pools = append(d.pools, p)
		d.logger.Info("pool ready",
			"pool", p.Address(),
			"token0", p.Token0(),
			"token1", p.Token1(),
			"fee", p.Fee(),
			"settings", p.PoolTokenSettings(),
		)
	}
	return nil
}

// pay returns a callback that transfers every positive amount from payer to p.
func (d *daemon) pay(p *pool.Pool, payer common.Address) func(context.Context, *big.Int, *big.Int, []byte) error {
	return func(_ context.Context, amount0, amount1 *big.Int, _ []byte) error {
		if amount0.Sign() > 0 {
			if err := d.ledger.Transfer(p.Token0(), payer, p.Address(), amount0); err != nil {
				return err
			}
		}
		if amount1.Sign() > 0 {
			if err := d.ledger.Transfer(p.Token1(), payer, p.Address(), amount1); err != nil {
				return err
			}
		}
		return nil
	}
}

// swapNext runs one exact input swap. Pools take turns, and each full round
// flips the direction so prices oscillate instead of draining one side.
func (d *daemon) swapNext(ctx context.Context) {
	if len(d.pools) == 0 {
		return
	}
	n := uint64(len(d.pools))
	p := d.pools[d.round%n]
	zeroForOne := (d.round/n)%2 == 0
	d.round++

	trader := d.cfg.Workload.Trader
	amount0, amount1, err := p.Swap(ctx, pool.SwapParams{
		Sender:            trader,
		Recipient:         trader,
		ZeroForOne:        zeroForOne,
		AmountSpecified:   new(big.Int).Set(d.cfg.Workload.AmountIn.Int),
		SqrtPriceLimitX96: calculator.DefaultPriceLimit(zeroForOne),
		Callback:          d.pay(p, trader),
	})
	if err != nil {
		d.logger.Warn("swap failed", "pool", p.Address(), "zeroForOne", zeroForOne, "error", err)
		return
	}
	d.logger.Debug("swap", "pool", p.Address(), "amount0", amount0, "amount1", amount1)
}

func (d *daemon) distribute(ctx context.Context) {
	report, err := d.distributor.TryDistributeFactoryLoop(ctx, d.cfg.Distributor.GasLimit)
	if err != nil && ctx.Err() == nil {
		d.logger.Error("factory loop failed", "start", report.Start, "visited", report.Visited, "error", err)
	}
}

// run serves metrics and the event stream, seeds the scenario and drives the
// workload until ctx is done.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	journal := make(chan events.Log, journalBufferSize)
	sub := d.bus.Subscribe(journal)
	defer sub.Unsubscribe()
	go d.store.Journal(ctx, journal, func(l events.Log, err error) {
		d.logger.Error("journal append failed", "seq", l.Seq, "event", l.Name, "error", err)
	})
	go func() {
		if err := d.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("stream server stopped", "error", err)
		}
	}()
	defer d.stream.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	servers := []*http.Server{
		{Addr: d.cfg.Listen.Metrics, Handler: mux},
		{Addr: d.cfg.Listen.Stream, Handler: d.stream.Handler()},
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		for _, srv := range servers {
			srv.Shutdown(shutdownCtx)
		}
	}()
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		d.logger.Info("listening", "addr", ln.Addr().String())
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if err := d.seed(ctx); err != nil {
		return err
	}

	swapTicker := time.NewTicker(d.cfg.Workload.Interval)
	defer swapTicker.Stop()
	distributeTicker := time.NewTicker(d.cfg.Distributor.Interval)
	defer distributeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			return nil
		case err := <-errCh:
			return err
		case err := <-sub.Err():
			return fmt.Errorf("journal subscription: %w", err)
		case <-swapTicker.C:
			d.swapNext(ctx)
		case <-distributeTicker.C:
			d.distribute(ctx)
		}
	}
}

func (d *daemon) close() error {
	return d.store.Close()
}
