package distributor

import (
	"errors"
	"fmt"
)

var ErrOutOfGas = errors.New("out of gas")

// GasSchedule prices the work done by the factory loop.
type GasSchedule struct {
	// PoolVisit is charged for every pool the loop visits, settled or not.
	PoolVisit uint64 `yaml:"poolVisit" json:"poolVisit"`
	// SwapStep is charged per step of a settlement self-swap.
	SwapStep uint64 `yaml:"swapStep" json:"swapStep"`
}

// DefaultGasSchedule is used when Config.Schedule is zero.
var DefaultGasSchedule = GasSchedule{
	PoolVisit: 25_000,
	SwapStep:  20_000,
}

// GasMeter tracks a fixed budget of work units.
type GasMeter struct {
	limit uint64
	used  uint64
}

func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Charge consumes amount, failing with ErrOutOfGas if the budget cannot cover it.
// A failed charge consumes the rest of the budget.
func (m *GasMeter) Charge(amount uint64) error {
	if left := m.limit - m.used; amount > left {
		m.used = m.limit
		return fmt.Errorf("%w: need %d, have %d", ErrOutOfGas, amount, left)
	}
	m.used += amount
	return nil
}

func (m *GasMeter) GasLeft() uint64 { return m.limit - m.used }
func (m *GasMeter) GasUsed() uint64 { return m.used }
func (m *GasMeter) Limit() uint64   { return m.limit }
