// Package factory creates pools and owns the settings they are created with.
package factory

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/calculator/swapmath"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
)

const maxTickSpacing = 16384

var (
	ErrUnauthorized       = errors.New("caller is not the factory owner")
	ErrIdenticalTokens    = errors.New("tokens must differ")
	ErrZeroAddress        = errors.New("token is the zero address")
	ErrFeeNotEnabled      = errors.New("fee amount is not enabled")
	ErrFeeAlreadyEnabled  = errors.New("fee amount is already enabled")
	ErrInvalidFee         = errors.New("fee must be below 1,000,000")
	ErrInvalidTickSpacing = errors.New("tick spacing must be in (0, 16384)")
	ErrPoolExists         = errors.New("pool already exists")
	ErrIndexOutOfRange    = errors.New("pool index out of range")

	// DefaultInitCodeHash seeds pool address derivation when Config.InitCodeHash is unset.
	DefaultInitCodeHash = crypto.Keccak256Hash([]byte("defistate-amm/uniswapv3/pool"))
)

// DefaultFeeAmounts are the fee tiers enabled at construction, mapped to their tick spacing.
var DefaultFeeAmounts = map[uint32]int64{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the factory.
type Config struct {
	Address      common.Address
	Owner        common.Address
	InitCodeHash common.Hash
	// Ledger is handed to every pool the factory creates.
	Ledger  pool.Ledger
	Bus     *events.Bus
	Logger  Logger
	Metrics *pool.Metrics
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Owner == (common.Address{}) {
		return errors.New("config: Owner is required")
	}
	if c.Ledger == nil {
		return errors.New("config: Ledger is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

type poolKey struct {
	token0, token1 common.Address
	fee            uint32
}

type pairKey struct {
	token0, token1 common.Address
}

// TokenSettingsEntry assigns a factory token settings bitmask to a token.
type TokenSettingsEntry struct {
	Token    common.Address `yaml:"token" json:"token"`
	Settings uint8          `yaml:"settings" json:"settings"`
}

// TokenPairSettingsEntry assigns pool token settings to a pair, overriding the
// per-token settings for pools created afterwards.
type TokenPairSettingsEntry struct {
	TokenA   common.Address `yaml:"tokenA" json:"tokenA"`
	TokenB   common.Address `yaml:"tokenB" json:"tokenB"`
	Settings uint8          `yaml:"settings" json:"settings"`
}

// Factory is the pool registry. It implements pool.Deployer for the pools it creates.
type Factory struct {
	address      common.Address
	initCodeHash common.Hash
	ledger       pool.Ledger
	bus          *events.Bus
	logger       Logger
	metrics      *pool.Metrics

	mu                 sync.RWMutex
	owner              common.Address
	swapFeeDistributor common.Address
	feeAmounts         map[uint32]int64
	pools              map[poolKey]*pool.Pool
	byAddress          map[common.Address]*pool.Pool
	allPools           []common.Address
	tokenSettings      map[common.Address]uint8
	pairSettings       map[pairKey]uint8
	// tokens is every token that has settings or a pool.
	tokens mapset.Set[common.Address]
}

// New creates a factory with the default fee tiers enabled.
func New(cfg Config) (*Factory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	initCodeHash := cfg.InitCodeHash
	if initCodeHash == (common.Hash{}) {
		initCodeHash = DefaultInitCodeHash
	}
	f := &Factory{
		address:       cfg.Address,
		initCodeHash:  initCodeHash,
		ledger:        cfg.Ledger,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		owner:         cfg.Owner,
		feeAmounts:    make(map[uint32]int64, len(DefaultFeeAmounts)),
		pools:         make(map[poolKey]*pool.Pool),
		byAddress:     make(map[common.Address]*pool.Pool),
		tokenSettings: make(map[common.Address]uint8),
		pairSettings:  make(map[pairKey]uint8),
		tokens:        mapset.NewSet[common.Address](),
	}
	for fee, spacing := range DefaultFeeAmounts {
		f.feeAmounts[fee] = spacing
	}
	return f, nil
}

func (f *Factory) Address() common.Address { return f.address }

// Owner returns the current owner.
func (f *Factory) Owner() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.owner
}

// SwapFeeDistributor returns the address pools accept settlement calls from.
func (f *Factory) SwapFeeDistributor() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.swapFeeDistributor
}

// SetOwner transfers ownership.
func (f *Factory) SetOwner(caller, newOwner common.Address) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return ErrUnauthorized
	}
	old := f.owner
	f.owner = newOwner
	f.mu.Unlock()

	f.bus.Publish(f.address, OwnerChanged{OldOwner: old, NewOwner: newOwner})
	return nil
}

// SetSwapFeeDistributor changes the distributor every pool accepts settlement calls from.
func (f *Factory) SetSwapFeeDistributor(caller, distributor common.Address) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return ErrUnauthorized
	}
	old := f.swapFeeDistributor
	f.swapFeeDistributor = distributor
	f.mu.Unlock()

	f.logger.Info("swap fee distributor set", "factory", f.address, "distributor", distributor)
	f.bus.Publish(f.address, SwapFeeDistributorChanged{OldDistributor: old, NewDistributor: distributor})
	return nil
}

// EnableFeeAmount adds a fee tier. Tiers cannot be changed or removed once enabled.
func (f *Factory) EnableFeeAmount(caller common.Address, fee uint32, tickSpacing int64) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return ErrUnauthorized
	}
	if fee >= swapmath.FeeDenominator {
		f.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidFee, fee)
	}
	if tickSpacing <= 0 || tickSpacing >= maxTickSpacing {
		f.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidTickSpacing, tickSpacing)
	}
	if _, ok := f.feeAmounts[fee]; ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrFeeAlreadyEnabled, fee)
	}
	f.feeAmounts[fee] = tickSpacing
	f.mu.Unlock()

	f.bus.Publish(f.address, FeeAmountEnabled{Fee: fee, TickSpacing: tickSpacing})
	return nil
}

// FeeAmountTickSpacing returns the tick spacing of an enabled fee tier, or 0.
func (f *Factory) FeeAmountTickSpacing(fee uint32) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feeAmounts[fee]
}

// SortTokens orders a pair by address.
func SortTokens(tokenA, tokenB common.Address) (token0, token1 common.Address) {
	if tokenA.Cmp(tokenB) < 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// ComputePoolAddress derives a pool address the way CREATE2 would from the factory
// address, a salt of abi.encode(token0, token1, fee) and the init code hash.
func ComputePoolAddress(factory common.Address, initCodeHash common.Hash, tokenA, tokenB common.Address, fee uint32) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	salt := crypto.Keccak256Hash(
		common.LeftPadBytes(token0.Bytes(), 32),
		common.LeftPadBytes(token1.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(uint64(fee)).Bytes(), 32),
	)
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

// CreatePool deploys the pool for a pair and fee tier. The pool is uninitialized.
func (f *Factory) CreatePool(tokenA, tokenB common.Address, fee uint32) (*pool.Pool, error) {
	if tokenA == tokenB {
		return nil, ErrIdenticalTokens
	}
	token0, token1 := SortTokens(tokenA, tokenB)
	if token0 == (common.Address{}) {
		return nil, ErrZeroAddress
	}

	f.mu.Lock()
	tickSpacing, ok := f.feeAmounts[fee]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrFeeNotEnabled, fee)
	}
	key := poolKey{token0: token0, token1: token1, fee: fee}
	if _, exists := f.pools[key]; exists {
		f.mu.Unlock()
		return nil, ErrPoolExists
	}
	poolSettings, err := f.calculatePoolTokenSettings(token0, token1)
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("pool %s/%s: %w", token0, token1, err)
	}

	address := ComputePoolAddress(f.address, f.initCodeHash, token0, token1, fee)
	p, err := pool.New(pool.Config{
		Address:     address,
		Token0:      token0,
		Token1:      token1,
		Fee:         fee,
		TickSpacing: tickSpacing,
		Settings:    poolSettings,
		Deployer:    f,
		Ledger:      f.ledger,
		Bus:         f.bus,
		Logger:      f.logger,
		Metrics:     f.metrics,
	})
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.pools[key] = p
	f.byAddress[address] = p
	f.allPools = append(f.allPools, address)
	f.tokens.Append(token0, token1)
	f.mu.Unlock()

	f.logger.Info("pool created",
		"pool", address,
		"token0", token0,
		"token1", token1,
		"fee", fee,
		"poolTokenSettings", poolSettings,
	)
	f.bus.Publish(f.address, PoolCreated{
		Token0:      token0,
		Token1:      token1,
		Fee:         fee,
		TickSpacing: tickSpacing,
		Pool:        address,
	})
	return p, nil
}

// GetPool returns the pool address for a pair in either order, or the zero address.
func (f *Factory) GetPool(tokenA, tokenB common.Address, fee uint32) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pools[poolKey{token0: token0, token1: token1, fee: fee}]
	if !ok {
		return common.Address{}
	}
	return p.Address()
}

// Pool returns a created pool by address.
func (f *Factory) Pool(address common.Address) (*pool.Pool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.byAddress[address]
	return p, ok
}

// LookupPool returns a created pool as a settlement target.
func (f *Factory) LookupPool(address common.Address) (pool.Settler, bool) {
	p, ok := f.Pool(address)
	if !ok {
		return nil, false
	}
	return p, true
}

// AllPools returns the address of the i-th pool created.
func (f *Factory) AllPools(i int) (common.Address, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i < 0 || i >= len(f.allPools) {
		return common.Address{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(f.allPools))
	}
	return f.allPools[i], nil
}

// AllPoolsLength is the number of pools created.
func (f *Factory) AllPoolsLength() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.allPools)
}

// Tokens returns every token with settings or a pool.
func (f *Factory) Tokens() []common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tokens.ToSlice()
}
