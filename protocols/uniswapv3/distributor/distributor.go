// Package distributor drives base token fee settlement across the pools of a factory.
//
// Pools accept settlement calls only from the factory's swap fee distributor address,
// so a Distributor's Address must be registered on the factory before it can settle.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defistate-amm-go/bitset"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
)

var (
	ErrUnauthorized = errors.New("caller is not the distributor owner")
	ErrUnknownPool  = errors.New("pool is not registered with the factory")
)

const (
	DefaultSafeGasStartLoop     uint64 = 50_000
	DefaultSafeGasForDistribute uint64 = 300_000
)

// Settler is a pool that can be asked to settle its withheld base token fees.
type Settler = pool.Settler

// PoolRegistry is the factory view the distributor iterates.
type PoolRegistry interface {
	AllPoolsLength() int
	AllPools(i int) (common.Address, error)
	LookupPool(address common.Address) (pool.Settler, bool)
}

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for a Distributor.
type Config struct {
	// Address is the identity the distributor settles pools as.
	Address  common.Address
	Owner    common.Address
	Registry PoolRegistry
	// Cursors defaults to an in-memory store.
	Cursors  CursorStore
	Schedule GasSchedule
	// SafeGasStartLoop and SafeGasForDistribute default to 50,000 and 300,000.
	SafeGasStartLoop     uint64
	SafeGasForDistribute uint64
	Bus                  *events.Bus
	Logger               Logger
	Metrics              *Metrics
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Owner == (common.Address{}) {
		return errors.New("config: Owner is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Distributor settles withheld base token fees one pool at a time, either for pools
// named by the caller or by sweeping the factory registry with a resumable cursor.
// Calls are serialized; concurrent callers wait for each other.
type Distributor struct {
	address  common.Address
	registry PoolRegistry
	cursors  CursorStore
	schedule GasSchedule
	bus      *events.Bus
	logger   Logger
	metrics  *Metrics

	mu                   sync.Mutex
	owner                common.Address
	safeGasStartLoop     uint64
	safeGasForDistribute uint64
}

func New(cfg Config) (*Distributor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &Distributor{
		address:              cfg.Address,
		registry:             cfg.Registry,
		cursors:              cfg.Cursors,
		schedule:             cfg.Schedule,
		bus:                  cfg.Bus,
		logger:               cfg.Logger,
		metrics:              cfg.Metrics,
		owner:                cfg.Owner,
		safeGasStartLoop:     cfg.SafeGasStartLoop,
		safeGasForDistribute: cfg.SafeGasForDistribute,
	}
	if d.cursors == nil {
		d.cursors = NewMemoryCursorStore()
	}
	if d.schedule == (GasSchedule{}) {
		d.schedule = DefaultGasSchedule
	}
	if d.safeGasStartLoop == 0 {
		d.safeGasStartLoop = DefaultSafeGasStartLoop
	}
	if d.safeGasForDistribute == 0 {
		d.safeGasForDistribute = DefaultSafeGasForDistribute
	}
	return d, nil
}

func (d *Distributor) Address() common.Address { return d.address }

func (d *Distributor) Owner() common.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner
}

// SafeGasPerLoop returns the margins of the factory loop.
func (d *Distributor) SafeGasPerLoop() (startLoop, forDistribute uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.safeGasStartLoop, d.safeGasForDistribute
}

// SetSafeGasPerLoop changes the factory loop margins.
func (d *Distributor) SetSafeGasPerLoop(caller common.Address, startLoop, forDistribute uint64) error {
	d.mu.Lock()
	if caller != d.owner {
		d.mu.Unlock()
		return ErrUnauthorized
	}
	d.safeGasStartLoop = startLoop
	d.safeGasForDistribute = forDistribute
	d.mu.Unlock()

	d.logger.Info("safe gas per loop set", "startLoop", startLoop, "forDistribute", forDistribute)
	d.bus.Publish(d.address, SafeGasPerLoopSet{SafeGasStartLoop: startLoop, SafeGasForDistribute: forDistribute})
	return nil
}

// NextPoolIndex returns the registry index the next factory loop starts from.
func (d *Distributor) NextPoolIndex(ctx context.Context) (uint64, error) {
	return d.cursors.LoadCursor(ctx, d.address)
}

// DistributeFeesForPool settles one pool and returns the pool's error unchanged.
func (d *Distributor) DistributeFeesForPool(ctx context.Context, address common.Address) (pool.Settlement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.distribute(ctx, address)
}

// DistributeFeesForPools settles pools in order and stops at the first failure.
// Pools settled before the failure stay settled.
func (d *Distributor) DistributeFeesForPools(ctx context.Context, addresses []common.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, address := range addresses {
		if _, err := d.distribute(ctx, address); err != nil {
			return err
		}
	}
	return nil
}

// TryDistributeFeesForPool settles one pool and reports whether it succeeded.
func (d *Distributor) TryDistributeFeesForPool(ctx context.Context, address common.Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.tryDistribute(ctx, address)
	return err == nil
}

// TryDistributeFeesForPools settles every pool, reporting success per pool.
func (d *Distributor) TryDistributeFeesForPools(ctx context.Context, addresses []common.Address) []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok := make([]bool, len(addresses))
	for i, address := range addresses {
		_, err := d.tryDistribute(ctx, address)
		ok[i] = err == nil
	}
	return ok
}

func (d *Distributor) distribute(ctx context.Context, address common.Address) (pool.Settlement, error) {
	p, ok := d.registry.LookupPool(address)
	if !ok {
		return pool.Settlement{}, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	s, err := p.CollectBaseToken(ctx, d.address)
	if err != nil {
		return pool.Settlement{}, fmt.Errorf("pool %s: %w", address, err)
	}
	if s.Settled() {
		d.metrics.settled()
		d.bus.Publish(d.address, SwapFeesDistributed{Pool: address})
	}
	return s, nil
}

func (d *Distributor) tryDistribute(ctx context.Context, address common.Address) (pool.Settlement, error) {
	s, err := d.distribute(ctx, address)
	if err != nil {
		d.metrics.failed(address.Hex())
		d.logger.Warn("fee distribution failed", "pool", address, "error", err)
	}
	return s, err
}

// Report describes one run of the factory loop.
type Report struct {
	// Start and Next are the cursor before and after the run.
	Start uint64
	Next  uint64
	// Visited counts the pools attempted, failures included.
	Visited int
	// Wrapped is set when the run reached the end of the registry and reset the cursor.
	Wrapped bool
	// Settled marks the registry indices whose settlement performed a self-swap.
	Settled bitset.BitSet
	// Failed holds the pools whose settlement returned an error.
	Failed mapset.Set[common.Address]
	// GasUsed is what the visited pools were charged; the start margin is not included.
	GasUsed uint64
}

// TryDistributeFactoryLoop sweeps the factory registry from the saved cursor within
// gasLimit. Nothing happens unless gasLimit exceeds the start margin, which is held
// back for the cursor bookkeeping. Each iteration needs at least the distribute margin
// left of the rest; the sweep stops when it runs short or after the last pool,
// resetting the cursor to 0. Per-pool failures are recorded and skipped.
//
// The sweep is priced before any pool is settled, from a quote of each settlement.
// If an iteration costs more than the remaining budget the call fails with ErrOutOfGas,
// settles nothing and leaves the saved cursor where it was. Context cancellation stops
// the sweep between settlements and saves the cursor reached.
func (d *Distributor) TryDistributeFactoryLoop(ctx context.Context, gasLimit uint64) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.metrics.loopTimer()()

	start, err := d.cursors.LoadCursor(ctx, d.address)
	if err != nil {
		return Report{}, fmt.Errorf("load cursor: %w", err)
	}
	length := uint64(d.registry.AllPoolsLength())
	report := Report{
		Start:   start,
		Next:    start,
		Settled: bitset.NewBitSet(length),
		Failed:  mapset.NewThreadUnsafeSet[common.Address](),
	}
	if length == 0 || gasLimit <= d.safeGasStartLoop {
		return report, nil
	}
	if start >= length {
		start = 0
	}

	plan, err := d.planLoop(start, length, NewGasMeter(gasLimit-d.safeGasStartLoop))
	if err != nil {
		report.GasUsed = gasLimit - d.safeGasStartLoop
		d.logger.Error("factory loop ran out of gas", "start", start, "error", err)
		return report, err
	}

	cursor := start
	var stopErr error
	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		d.metrics.visited()
		report.Visited++
		report.GasUsed += step.cost
		s, err := d.tryDistribute(ctx, step.address)
		if err != nil {
			report.Failed.Add(step.address)
		} else if s.Settled() {
			report.Settled.Set(step.index)
		}

		cursor = step.index + 1
		if cursor >= length {
			cursor = 0
			report.Wrapped = true
		}
	}

	report.Next = cursor
	if err := d.cursors.SaveCursor(context.WithoutCancel(ctx), d.address, cursor); err != nil {
		return report, fmt.Errorf("save cursor: %w", err)
	}
	d.metrics.cursor(cursor)
	d.logger.Info("factory loop finished",
		"start", report.Start,
		"next", report.Next,
		"visited", report.Visited,
		"settled", report.Settled.Count(),
		"failed", report.Failed.Cardinality(),
		"gasUsed", report.GasUsed,
		"wrapped", report.Wrapped,
	)
	return report, stopErr
}

type loopStep struct {
	index   uint64
	address common.Address
	cost    uint64
}

// planLoop picks the pools one loop visits and charges meter for each. A pool whose
// settlement cannot be quoted is charged a visit only; its settlement fails later.
func (d *Distributor) planLoop(start, length uint64, meter *GasMeter) ([]loopStep, error) {
	var plan []loopStep
	for cursor := start; meter.GasLeft() >= d.safeGasForDistribute; {
		address, err := d.registry.AllPools(int(cursor))
		if err != nil {
			return nil, err
		}
		cost := d.schedule.PoolVisit
		if p, ok := d.registry.LookupPool(address); ok {
			if q, err := p.QuoteBaseToken(); err == nil {
				cost += uint64(q.Steps) * d.schedule.SwapStep
			}
		}
		if err := meter.Charge(cost); err != nil {
			return nil, fmt.Errorf("pool %s at index %d: %w", address, cursor, err)
		}
		plan = append(plan, loopStep{index: cursor, address: address, cost: cost})

		cursor++
		if cursor >= length {
			break
		}
	}
	return plan, nil
}
