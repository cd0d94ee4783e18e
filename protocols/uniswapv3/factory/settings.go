package factory

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/settings"
)

// SetTokenSettings assigns token settings. Nothing is applied if any entry is invalid.
// Existing pools keep the settings they were created with.
func (f *Factory) SetTokenSettings(caller common.Address, entries []TokenSettingsEntry) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return ErrUnauthorized
	}
	for _, e := range entries {
		if err := settings.ValidateTokenSettings(e.Settings); err != nil {
			f.mu.Unlock()
			return fmt.Errorf("token %s: %w", e.Token, err)
		}
	}
	evs := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		f.tokenSettings[e.Token] = e.Settings
		f.tokens.Add(e.Token)
		evs = append(evs, TokenSettingsSet{Token: e.Token, Settings: e.Settings})
	}
	f.mu.Unlock()

	f.bus.Publish(f.address, evs...)
	return nil
}

// TokenSettings returns the raw settings bitmask of a token.
func (f *Factory) TokenSettings(token common.Address) uint8 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tokenSettings[token]
}

// GetTokenSettings returns the decoded settings of a token.
func (f *Factory) GetTokenSettings(token common.Address) settings.TokenSettings {
	return settings.DecodeTokenSettings(f.TokenSettings(token))
}

// SetTokenPairSettings assigns pool token settings to pairs. Values are checked for
// unknown bits only; a pair marking both tokens as base is rejected when a pool for
// it is created.
func (f *Factory) SetTokenPairSettings(caller common.Address, entries []TokenPairSettingsEntry) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return ErrUnauthorized
	}
	for _, e := range entries {
		if err := settings.ValidatePoolTokenSettings(e.Settings); err != nil && !errors.Is(err, settings.ErrBothBaseTokens) {
			f.mu.Unlock()
			return fmt.Errorf("pair %s/%s: %w", e.TokenA, e.TokenB, err)
		}
	}
	evs := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		token0, token1 := SortTokens(e.TokenA, e.TokenB)
		f.pairSettings[pairKey{token0: token0, token1: token1}] = e.Settings
		f.tokens.Append(token0, token1)
		evs = append(evs, TokenPairSettingsSet{Token0: token0, Token1: token1, Settings: e.Settings})
	}
	f.mu.Unlock()

	f.bus.Publish(f.address, evs...)
	return nil
}

// TokenPairSettings returns the pair override for two tokens in either order.
func (f *Factory) TokenPairSettings(tokenA, tokenB common.Address) uint8 {
	token0, token1 := SortTokens(tokenA, tokenB)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pairSettings[pairKey{token0: token0, token1: token1}]
}

// CalculatePoolTokenSettings returns the settings a pool for the pair would be created with.
func (f *Factory) CalculatePoolTokenSettings(tokenA, tokenB common.Address) (uint8, error) {
	token0, token1 := SortTokens(tokenA, tokenB)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calculatePoolTokenSettings(token0, token1)
}

func (f *Factory) calculatePoolTokenSettings(token0, token1 common.Address) (uint8, error) {
	return settings.Derive(
		f.tokenSettings[token0],
		f.tokenSettings[token1],
		f.pairSettings[pairKey{token0: token0, token1: token1}],
	)
}
