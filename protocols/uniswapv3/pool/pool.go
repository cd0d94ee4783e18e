// Package pool implements a concentrated liquidity pool whose swap fees paid in a
// designated base token are withheld from liquidity providers until they are settled
// into the other pool token.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/swapmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/tickmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/position"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/settings"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/tick"
)

var (
	ErrLocked                     = errors.New("pool is locked")
	ErrNotInitialized             = errors.New("pool is not initialized")
	ErrAlreadyInitialized         = errors.New("pool is already initialized")
	ErrInvalidTickRange           = errors.New("tickLower must be below tickUpper")
	ErrTickLowerOutOfBounds       = errors.New("tickLower is below the minimum tick")
	ErrTickUpperOutOfBounds       = errors.New("tickUpper is above the maximum tick")
	ErrTickMisaligned             = errors.New("tick is not a multiple of the tick spacing")
	ErrZeroLiquidity              = errors.New("liquidity amount must be greater than zero")
	ErrInsufficientInput          = errors.New("callback did not deliver the owed input")
	ErrFlashInsufficientRepayment = errors.New("flash loan was not repaid with its fee")
	ErrNoLiquidity                = errors.New("pool has no active liquidity")
	ErrUnauthorized               = errors.New("caller is not authorized")
	ErrInvalidToken               = errors.New("pool token does not answer balance queries")
	ErrInvalidFeeProtocol         = errors.New("fee protocol must be 0 or between 4 and 10")

	ErrAmountSpecifiedZero      = calculator.ErrAmountSpecifiedZero
	ErrInvalidPriceLimit        = calculator.ErrInvalidPriceLimit
	ErrLiquidityPerTickExceeded = tick.ErrLiquidityPerTickExceeded
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Ledger moves pool tokens. Snapshot, RevertToSnapshot and DiscardSnapshot make every
// pool call atomic across the token balances it touched.
type Ledger interface {
	BalanceOf(token, account common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
	// AppendUndo registers undo to run if an enclosing snapshot is reverted.
	AppendUndo(undo func())
}

// Deployer is the factory that created the pool.
type Deployer interface {
	Owner() common.Address
	SwapFeeDistributor() common.Address
}

// Settler is a pool that converts withheld base token fees on request.
type Settler interface {
	Address() common.Address
	CollectBaseToken(ctx context.Context, caller common.Address) (Settlement, error)
	QuoteBaseToken() (Settlement, error)
}

// Callbacks are invoked while the pool is locked and must deliver the owed tokens to
// the pool before returning.
type (
	MintCallback  func(ctx context.Context, amount0Owed, amount1Owed *big.Int, data []byte) error
	SwapCallback  func(ctx context.Context, amount0Delta, amount1Delta *big.Int, data []byte) error
	FlashCallback func(ctx context.Context, fee0, fee1 *big.Int, data []byte) error
)

// Config holds the immutable parameters of a pool and its collaborators.
type Config struct {
	Address     common.Address
	Token0      common.Address
	Token1      common.Address
	Fee         uint32
	TickSpacing int64
	// Settings is the pool token settings bitmask derived by the factory.
	Settings uint8
	Deployer Deployer
	Ledger   Ledger
	// Bus is optional; events are dropped without one.
	Bus     *events.Bus
	Logger  Logger
	Metrics *Metrics
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Token0 == (common.Address{}) || c.Token1 == (common.Address{}) {
		return errors.New("config: Token0 and Token1 are required")
	}
	if c.Token0.Cmp(c.Token1) >= 0 {
		return errors.New("config: Token0 must sort before Token1")
	}
	if c.Fee >= swapmath.FeeDenominator {
		return fmt.Errorf("config: Fee must be below %d", swapmath.FeeDenominator)
	}
	if c.TickSpacing <= 0 {
		return errors.New("config: TickSpacing must be greater than 0")
	}
	if err := settings.ValidatePoolTokenSettings(c.Settings); err != nil {
		return fmt.Errorf("config: Settings: %w", err)
	}
	if c.Deployer == nil {
		return errors.New("config: Deployer is required")
	}
	if c.Ledger == nil {
		return errors.New("config: Ledger is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Slot0 is the pool's price state. FeeProtocol packs the token0 protocol fee
// denominator in its low four bits and the token1 denominator in the high four.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int64
	FeeProtocol  uint8
	Unlocked     bool
}

func (s Slot0) clone() Slot0 {
	s.SqrtPriceX96 = new(big.Int).Set(s.SqrtPriceX96)
	return s
}

// state is everything a failed call must roll back outside the tick and position registries.
// Arrays are indexed by token: 0 for token0, 1 for token1.
type state struct {
	slot0                 Slot0
	liquidity             *big.Int
	feeGrowthGlobalX128   [2]*uint256.Int
	protocolFees          [2]*big.Int
	baseTokensAccumulated [2]*big.Int
}

func newState() state {
	return state{
		slot0:                 Slot0{SqrtPriceX96: new(big.Int)},
		liquidity:             new(big.Int),
		feeGrowthGlobalX128:   [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
		protocolFees:          [2]*big.Int{new(big.Int), new(big.Int)},
		baseTokensAccumulated: [2]*big.Int{new(big.Int), new(big.Int)},
	}
}

func (s *state) clone() state {
	c := state{
		slot0:     s.slot0.clone(),
		liquidity: new(big.Int).Set(s.liquidity),
	}
	for i := range 2 {
		c.feeGrowthGlobalX128[i] = s.feeGrowthGlobalX128[i].Clone()
		c.protocolFees[i] = new(big.Int).Set(s.protocolFees[i])
		c.baseTokensAccumulated[i] = new(big.Int).Set(s.baseTokensAccumulated[i])
	}
	return c
}

// txn is the undo information of the call currently holding the pool lock.
type txn struct {
	saved    state
	snapshot int
	events   []events.Event
}

// Pool is a single concentrated liquidity pool.
//
// Every state-changing call is atomic: on error the pool state, its ticks and
// positions, and the ledger are restored to what they were before the call.
// The pool is unlocked while callbacks run; a callback that calls back into the
// same pool fails with ErrLocked.
type Pool struct {
	address     common.Address
	tokens      [2]common.Address
	fee         uint32
	tickSpacing int64
	settings    settings.PoolTokenSettings

	deployer Deployer
	ledger   Ledger
	bus      *events.Bus
	logger   Logger
	metrics  *Metrics

	mu        sync.RWMutex
	state     state
	ticks     *tick.Registry
	positions *position.Registry
	tx        *txn
}

// New creates an uninitialized pool.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	decoded, err := settings.DecodePoolTokenSettings(cfg.Settings)
	if err != nil {
		return nil, err
	}
	ticks, err := tick.NewRegistry(cfg.TickSpacing)
	if err != nil {
		return nil, err
	}
	return &Pool{
		address:     cfg.Address,
		tokens:      [2]common.Address{cfg.Token0, cfg.Token1},
		fee:         cfg.Fee,
		tickSpacing: cfg.TickSpacing,
		settings:    decoded,
		deployer:    cfg.Deployer,
		ledger:      cfg.Ledger,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		state:       newState(),
		ticks:       ticks,
		positions:   position.NewRegistry(),
	}, nil
}

// Initialize sets the starting price. It can be called once.
func (p *Pool) Initialize(sqrtPriceX96 *big.Int) error {
	p.mu.Lock()
	if p.state.slot0.SqrtPriceX96.Sign() != 0 {
		p.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if sqrtPriceX96 == nil {
		p.mu.Unlock()
		return tickmath.ErrSqrtPriceOutOfBounds
	}
	t, err := tickmath.GetTickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.state.slot0 = Slot0{
		SqrtPriceX96: new(big.Int).Set(sqrtPriceX96),
		Tick:         t,
		Unlocked:     true,
	}
	p.mu.Unlock()

	p.logger.Info("pool initialized", "pool", p.address, "sqrtPriceX96", sqrtPriceX96, "tick", t)
	p.bus.Publish(p.address, Initialize{SqrtPriceX96: new(big.Int).Set(sqrtPriceX96), Tick: t})
	return nil
}

// lock enters a state-changing call. On success p.mu is held and the caller must
// defer p.unlock with its named error result.
func (p *Pool) lock() error {
	p.mu.Lock()
	if p.state.slot0.SqrtPriceX96.Sign() == 0 {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if !p.state.slot0.Unlocked {
		p.mu.Unlock()
		return ErrLocked
	}
	if err := p.ticks.Checkpoint(); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.positions.Checkpoint(); err != nil {
		_ = p.ticks.Revert()
		p.mu.Unlock()
		return err
	}
	p.tx = &txn{saved: p.state.clone(), snapshot: p.ledger.Snapshot()}
	p.state.slot0.Unlocked = false
	return nil
}

// unlock commits or rolls back the call started by lock, releases p.mu and publishes
// the call's events if it succeeded. Panics roll back and are re-raised.
func (p *Pool) unlock(errp *error) {
	r := recover()
	tx := p.tx
	p.tx = nil

	failed := r != nil || *errp != nil
	if failed {
		p.state = tx.saved
		_ = p.ticks.Revert()
		_ = p.positions.Revert()
		p.ledger.RevertToSnapshot(tx.snapshot)
	} else {
		undoTicks, _ := p.ticks.Commit()
		undoPositions, _ := p.positions.Commit()
		saved := tx.saved
		// a failing caller further up the stack must also undo this call
		p.ledger.AppendUndo(func() { p.restore(saved, undoTicks, undoPositions) })
		p.ledger.DiscardSnapshot(tx.snapshot)
		p.state.slot0.Unlocked = true
		p.metrics.setWithheld(p.address, p.tokens, p.state.baseTokensAccumulated)
	}
	p.mu.Unlock()

	if r != nil {
		panic(r)
	}
	if !failed {
		p.bus.Publish(p.address, tx.events...)
	}
}

// restore rolls back a committed call after an enclosing call on another pool failed.
// Events of the undone call have already been published.
func (p *Pool) restore(saved state, undoTicks, undoPositions func()) {
	p.mu.Lock()
	p.state = saved
	undoTicks()
	undoPositions()
	p.metrics.setWithheld(p.address, p.tokens, p.state.baseTokensAccumulated)
	p.mu.Unlock()

	p.logger.Debug("call undone by enclosing revert", "pool", p.address)
}

// callback runs fn with p.mu released. The pool stays locked against reentry.
func (p *Pool) callback(fn func() error) error {
	p.mu.Unlock()
	defer p.mu.Lock()
	return fn()
}

func (p *Pool) emit(ev events.Event) {
	p.tx.events = append(p.tx.events, ev)
}

func (p *Pool) balance(i int) (*big.Int, error) {
	return p.ledger.BalanceOf(p.tokens[i], p.address)
}

func (p *Pool) pay(i int, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return p.ledger.Transfer(p.tokens[i], p.address, to, amount)
}

// checkDelivered requires the pool's balance of token i to have grown by at least owed.
func (p *Pool) checkDelivered(i int, before, owed *big.Int) error {
	after, err := p.balance(i)
	if err != nil {
		return err
	}
	if new(big.Int).Add(before, owed).Cmp(after) > 0 {
		return fmt.Errorf("%w: token%d owed %s, received %s", ErrInsufficientInput, i, owed, new(big.Int).Sub(after, before))
	}
	return nil
}

// baseIndex returns the index of the pool's base token, or -1 without one.
func (p *Pool) baseIndex() int {
	switch {
	case p.settings.IsBaseToken0:
		return 0
	case p.settings.IsBaseToken1:
		return 1
	}
	return -1
}

func (p *Pool) Address() common.Address { return p.address }
func (p *Pool) Token0() common.Address  { return p.tokens[0] }
func (p *Pool) Token1() common.Address  { return p.tokens[1] }
func (p *Pool) Fee() uint32             { return p.fee }
func (p *Pool) TickSpacing() int64      { return p.tickSpacing }

// MaxLiquidityPerTick is the gross liquidity cap of any single tick.
func (p *Pool) MaxLiquidityPerTick() *big.Int {
	return p.ticks.MaxLiquidityPerTick()
}

// Slot0 returns a copy of the price state.
func (p *Pool) Slot0() Slot0 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.slot0.clone()
}

// Liquidity returns the active liquidity.
func (p *Pool) Liquidity() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.state.liquidity)
}

func (p *Pool) FeeGrowthGlobal0X128() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.feeGrowthGlobalX128[0].Clone()
}

func (p *Pool) FeeGrowthGlobal1X128() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.feeGrowthGlobalX128[1].Clone()
}

// ProtocolFees returns the uncollected protocol fees.
func (p *Pool) ProtocolFees() (amount0, amount1 *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.state.protocolFees[0]), new(big.Int).Set(p.state.protocolFees[1])
}

// BaseTokensAccumulated returns the withheld fees that have not been settled yet.
func (p *Pool) BaseTokensAccumulated() (amount0, amount1 *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.state.baseTokensAccumulated[0]), new(big.Int).Set(p.state.baseTokensAccumulated[1])
}

// SwapFeesAccumulated0 is the withheld token0 fee balance.
func (p *Pool) SwapFeesAccumulated0() *big.Int {
	a0, _ := p.BaseTokensAccumulated()
	return a0
}

// SwapFeesAccumulated1 is the withheld token1 fee balance.
func (p *Pool) SwapFeesAccumulated1() *big.Int {
	_, a1 := p.BaseTokensAccumulated()
	return a1
}

// PoolTokenSettings returns the settings bitmask.
func (p *Pool) PoolTokenSettings() uint8 {
	return p.settings.Encode()
}

// GetPoolTokenSettings returns the decoded settings.
func (p *Pool) GetPoolTokenSettings() settings.PoolTokenSettings {
	return p.settings
}

// Ticks returns the state of a tick; uninitialized ticks read as zero.
func (p *Pool) Ticks(t int64) tick.Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks.Get(t)
}

// Positions returns the position of owner in [tickLower, tickUpper).
func (p *Pool) Positions(owner common.Address, tickLower, tickUpper int64) position.Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions.Get(position.Key(owner, tickLower, tickUpper))
}

// View returns a snapshot of the pool and all its initialized ticks.
func (p *Pool) View() uniswapv3.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := &p.state
	return uniswapv3.Pool{
		PoolView: uniswapv3.PoolView{
			Address:                p.address,
			Token0:                 p.tokens[0],
			Token1:                 p.tokens[1],
			Fee:                    p.fee,
			TickSpacing:            p.tickSpacing,
			Tick:                   s.slot0.Tick,
			Liquidity:              new(big.Int).Set(s.liquidity),
			SqrtPriceX96:           new(big.Int).Set(s.slot0.SqrtPriceX96),
			FeeGrowthGlobal0X128:   s.feeGrowthGlobalX128[0].Clone(),
			FeeGrowthGlobal1X128:   s.feeGrowthGlobalX128[1].Clone(),
			BaseTokensAccumulated0: new(big.Int).Set(s.baseTokensAccumulated[0]),
			BaseTokensAccumulated1: new(big.Int).Set(s.baseTokensAccumulated[1]),
			PoolTokenSettings:      p.settings.Encode(),
		},
		Ticks: p.ticks.Snapshot(),
	}
}
