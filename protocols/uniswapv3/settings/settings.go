// Package settings encodes the per-token and per-pool flags that decide which pool
// token, if any, is a base token whose swap fees are withheld for settlement.
package settings

import (
	"errors"
	"fmt"
)

// Token settings bits, set per token on the factory.
const (
	TokenUSD         uint8 = 1 << 0
	TokenETH         uint8 = 1 << 1
	TokenNativeYield uint8 = 1 << 2

	tokenMask = TokenUSD | TokenETH | TokenNativeYield
)

// Pool settings bits, derived once when a pool is created.
const (
	BaseToken0        uint8 = 1 << 0
	BaseToken1        uint8 = 1 << 1
	Token0NativeYield uint8 = 1 << 2
	Token1NativeYield uint8 = 1 << 3

	poolMask = BaseToken0 | BaseToken1 | Token0NativeYield | Token1NativeYield
)

var (
	ErrBothBaseTokens = errors.New("both pool tokens flagged as base token")
	ErrUnknownBits    = errors.New("settings contain undefined bits")
	ErrUSDAndETHClass = errors.New("token cannot be both USD and ETH class")
)

// TokenSettings is the decoded form of a token's settings bitmask.
type TokenSettings struct {
	IsUSD               bool `json:"isUSD" yaml:"usd"`
	IsETH               bool `json:"isETH" yaml:"eth"`
	SupportsNativeYield bool `json:"supportsNativeYield" yaml:"nativeYield"`
}

// DecodeTokenSettings decodes a token settings bitmask.
func DecodeTokenSettings(v uint8) TokenSettings {
	return TokenSettings{
		IsUSD:               v&TokenUSD != 0,
		IsETH:               v&TokenETH != 0,
		SupportsNativeYield: v&TokenNativeYield != 0,
	}
}

// Encode returns the bitmask form.
func (s TokenSettings) Encode() uint8 {
	var v uint8
	if s.IsUSD {
		v |= TokenUSD
	}
	if s.IsETH {
		v |= TokenETH
	}
	if s.SupportsNativeYield {
		v |= TokenNativeYield
	}
	return v
}

// ValidateTokenSettings rejects undefined bits and tokens claiming both base classes.
func ValidateTokenSettings(v uint8) error {
	if v&^tokenMask != 0 {
		return fmt.Errorf("%w: token settings %#x", ErrUnknownBits, v)
	}
	if v&TokenUSD != 0 && v&TokenETH != 0 {
		return ErrUSDAndETHClass
	}
	return nil
}

// class ranks base token classes; USD outranks ETH.
func class(v uint8) int {
	switch {
	case v&TokenUSD != 0:
		return 2
	case v&TokenETH != 0:
		return 1
	default:
		return 0
	}
}

// PoolTokenSettings is the decoded form of a pool's settings bitmask.
type PoolTokenSettings struct {
	IsBaseToken0      bool `json:"isBaseToken0"`
	IsBaseToken1      bool `json:"isBaseToken1"`
	Token0NativeYield bool `json:"token0NativeYield"`
	Token1NativeYield bool `json:"token1NativeYield"`
}

// DecodePoolTokenSettings decodes and validates a pool settings bitmask.
func DecodePoolTokenSettings(v uint8) (PoolTokenSettings, error) {
	if err := ValidatePoolTokenSettings(v); err != nil {
		return PoolTokenSettings{}, err
	}
	return PoolTokenSettings{
		IsBaseToken0:      v&BaseToken0 != 0,
		IsBaseToken1:      v&BaseToken1 != 0,
		Token0NativeYield: v&Token0NativeYield != 0,
		Token1NativeYield: v&Token1NativeYield != 0,
	}, nil
}

// ValidatePoolTokenSettings rejects undefined bits and pools with two base tokens.
func ValidatePoolTokenSettings(v uint8) error {
	if v&^poolMask != 0 {
		return fmt.Errorf("%w: pool settings %#x", ErrUnknownBits, v)
	}
	if v&BaseToken0 != 0 && v&BaseToken1 != 0 {
		return ErrBothBaseTokens
	}
	return nil
}

// Encode returns the bitmask form.
func (s PoolTokenSettings) Encode() uint8 {
	var v uint8
	if s.IsBaseToken0 {
		v |= BaseToken0
	}
	if s.IsBaseToken1 {
		v |= BaseToken1
	}
	if s.Token0NativeYield {
		v |= Token0NativeYield
	}
	if s.Token1NativeYield {
		v |= Token1NativeYield
	}
	return v
}

// HasBaseToken reports whether either pool token is a base token.
func (s PoolTokenSettings) HasBaseToken() bool {
	return s.IsBaseToken0 || s.IsBaseToken1
}

// Derive computes the pool settings for an ordered token pair. A nonzero pair
// setting wins outright. Otherwise the higher-ranked base class becomes the base
// token, equal classes leave the pool without one, and each token's native yield
// flag carries over.
func Derive(token0Settings, token1Settings, pairSettings uint8) (uint8, error) {
	if pairSettings != 0 {
		if err := ValidatePoolTokenSettings(pairSettings); err != nil {
			return 0, err
		}
		return pairSettings, nil
	}

	var v uint8
	c0, c1 := class(token0Settings), class(token1Settings)
	switch {
	case c0 > c1:
		v |= BaseToken0
	case c1 > c0:
		v |= BaseToken1
	}
	if token0Settings&TokenNativeYield != 0 {
		v |= Token0NativeYield
	}
	if token1Settings&TokenNativeYield != 0 {
		v |= Token1NativeYield
	}
	return v, nil
}
