// Package config loads the ammd scenario file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/distributor"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/settings"
)

const (
	DefaultMetricsAddr        = ":9090"
	DefaultStreamAddr         = ":8546"
	DefaultStreamBuffer       = 256
	DefaultDistributeInterval = 15 * time.Second
	DefaultDistributeGasLimit = 5_000_000
	DefaultSwapInterval       = time.Second
)

// Amount is a decimal integer that may exceed 64 bits.
type Amount struct {
	*big.Int
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	v, ok := new(big.Int).SetString(node.Value, 10)
	if !ok {
		return fmt.Errorf("line %d: invalid integer %q", node.Line, node.Value)
	}
	a.Int = v
	return nil
}

// IsSet reports whether the amount was present in the file.
func (a Amount) IsSet() bool { return a.Int != nil }

type ListenConfig struct {
	Metrics string `yaml:"metrics"`
	Stream  string `yaml:"stream"`
	// StreamBuffer is how many messages a stream subscriber may fall behind.
	StreamBuffer uint `yaml:"streamBuffer"`
}

type StorageConfig struct {
	// Path of the sqlite database; ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

type FactoryConfig struct {
	Address common.Address `yaml:"address"`
	Owner   common.Address `yaml:"owner"`
	// InitCodeHash overrides the default pool address salt.
	InitCodeHash common.Hash `yaml:"initCodeHash"`
}

type DistributorConfig struct {
	Address              common.Address          `yaml:"address"`
	Interval             time.Duration           `yaml:"interval"`
	GasLimit             uint64                  `yaml:"gasLimit"`
	SafeGasStartLoop     uint64                  `yaml:"safeGasStartLoop"`
	SafeGasForDistribute uint64                  `yaml:"safeGasForDistribute"`
	Schedule             distributor.GasSchedule `yaml:"schedule"`
}

type TokenConfig struct {
	Address  common.Address         `yaml:"address"`
	Symbol   string                 `yaml:"symbol"`
	Decimals uint8                  `yaml:"decimals"`
	Settings settings.TokenSettings `yaml:"settings"`
}

type PairSettingsConfig struct {
	TokenA   common.Address `yaml:"tokenA"`
	TokenB   common.Address `yaml:"tokenB"`
	Settings uint8          `yaml:"settings"`
}

// PositionConfig seeds liquidity. Omitted ticks default to the full usable range.
type PositionConfig struct {
	TickLower *int64 `yaml:"tickLower"`
	TickUpper *int64 `yaml:"tickUpper"`
	Liquidity Amount `yaml:"liquidity"`
}

type PoolConfig struct {
	TokenA common.Address `yaml:"tokenA"`
	TokenB common.Address `yaml:"tokenB"`
	Fee    uint32         `yaml:"fee"`
	// SqrtPriceX96 defaults to 2^96, a price of 1.
	SqrtPriceX96 Amount           `yaml:"sqrtPriceX96"`
	Positions    []PositionConfig `yaml:"positions"`
}

// WorkloadConfig drives exact input swaps against every pool, alternating direction.
type WorkloadConfig struct {
	Interval          time.Duration  `yaml:"interval"`
	AmountIn          Amount         `yaml:"amountIn"`
	Trader            common.Address `yaml:"trader"`
	LiquidityProvider common.Address `yaml:"liquidityProvider"`
	// Funding is minted to the trader and the liquidity provider in every token.
	Funding Amount `yaml:"funding"`
}

type Config struct {
	LogLevel     string               `yaml:"logLevel"`
	Listen       ListenConfig         `yaml:"listen"`
	Storage      StorageConfig        `yaml:"storage"`
	Factory      FactoryConfig        `yaml:"factory"`
	Distributor  DistributorConfig    `yaml:"distributor"`
	Tokens       []TokenConfig        `yaml:"tokens"`
	PairSettings []PairSettingsConfig `yaml:"pairSettings"`
	Pools        []PoolConfig         `yaml:"pools"`
	Workload     WorkloadConfig       `yaml:"workload"`
}

// LoadConfig reads, defaults and validates the file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen.Metrics == "" {
		c.Listen.Metrics = DefaultMetricsAddr
	}
	if c.Listen.Stream == "" {
		c.Listen.Stream = DefaultStreamAddr
	}
	if c.Listen.StreamBuffer == 0 {
		c.Listen.StreamBuffer = DefaultStreamBuffer
	}
	if c.Storage.Path == "" {
		c.Storage.Path = ":memory:"
	}
	if c.Distributor.Interval == 0 {
		c.Distributor.Interval = DefaultDistributeInterval
	}
	if c.Distributor.GasLimit == 0 {
		c.Distributor.GasLimit = DefaultDistributeGasLimit
	}
	if c.Workload.Interval == 0 {
		c.Workload.Interval = DefaultSwapInterval
	}
}

// Validate checks the references between sections. Pool and settings rules that
// the factory enforces are left to the factory.
func (c *Config) Validate() error {
	var errs []error
	if c.Factory.Address == (common.Address{}) {
		errs = append(errs, errors.New("factory.address is required"))
	}
	if c.Factory.Owner == (common.Address{}) {
		errs = append(errs, errors.New("factory.owner is required"))
	}
	if c.Distributor.Address == (common.Address{}) {
		errs = append(errs, errors.New("distributor.address is required"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	known := make(map[common.Address]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if t.Address == (common.Address{}) {
			errs = append(errs, fmt.Errorf("tokens[%d]: address is required", i))
			continue
		}
		if known[t.Address] {
			errs = append(errs, fmt.Errorf("tokens[%d]: duplicate token %s", i, t.Address))
		}
		known[t.Address] = true
		if err := settings.ValidateTokenSettings(t.Settings.Encode()); err != nil {
			errs = append(errs, fmt.Errorf("tokens[%d]: %w", i, err))
		}
	}
	for i, p := range c.PairSettings {
		if !known[p.TokenA] || !known[p.TokenB] {
			errs = append(errs, fmt.Errorf("pairSettings[%d]: unknown token", i))
		}
	}
	for i, p := range c.Pools {
		if !known[p.TokenA] || !known[p.TokenB] {
			errs = append(errs, fmt.Errorf("pools[%d]: unknown token", i))
		}
		if p.SqrtPriceX96.IsSet() && p.SqrtPriceX96.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("pools[%d]: sqrtPriceX96 must be positive", i))
		}
		for j, pos := range p.Positions {
			if !pos.Liquidity.IsSet() || pos.Liquidity.Sign() <= 0 {
				errs = append(errs, fmt.Errorf("pools[%d].positions[%d]: liquidity must be positive", i, j))
			}
		}
	}

	if len(c.Pools) > 0 {
		if c.Workload.Trader == (common.Address{}) {
			errs = append(errs, errors.New("workload.trader is required"))
		}
		if c.Workload.LiquidityProvider == (common.Address{}) {
			errs = append(errs, errors.New("workload.liquidityProvider is required"))
		}
		if !c.Workload.AmountIn.IsSet() || c.Workload.AmountIn.Sign() <= 0 {
			errs = append(errs, errors.New("workload.amountIn must be positive"))
		}
		if !c.Workload.Funding.IsSet() || c.Workload.Funding.Sign() <= 0 {
			errs = append(errs, errors.New("workload.funding must be positive"))
		}
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}
