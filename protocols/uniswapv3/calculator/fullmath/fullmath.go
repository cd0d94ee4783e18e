package fullmath

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow        = errors.New("mulDiv result overflows uint256")
	ErrDivisionByZero  = errors.New("mulDiv denominator is zero")
	ErrOperandTooLarge = errors.New("operand does not fit in uint256")
	ErrNegativeOperand = errors.New("operand must not be negative")

	// Q128 is 2^128, the unit of the fee growth accumulators.
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	maxUint256 = new(uint256.Int).SetAllOne()
)

// MulDiv computes floor(a*b/denominator) with a 512-bit intermediate product.
// It fails if the denominator is zero or the result does not fit in 256 bits.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDivRoundingUp computes ceil(a*b/denominator).
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		return z, nil
	}
	if z.Eq(maxUint256) {
		return nil, ErrOverflow
	}
	return z.AddUint64(z, 1), nil
}

// MulDivBig is MulDiv for non-negative big.Int operands, writing the result into dest.
func MulDivBig(dest, a, b, denominator *big.Int) error {
	z, err := mulDivBig(a, b, denominator, false)
	if err != nil {
		return err
	}
	z.IntoBig(&dest)
	return nil
}

// MulDivRoundingUpBig is MulDivRoundingUp for non-negative big.Int operands.
func MulDivRoundingUpBig(dest, a, b, denominator *big.Int) error {
	z, err := mulDivBig(a, b, denominator, true)
	if err != nil {
		return err
	}
	z.IntoBig(&dest)
	return nil
}

// ToWord converts a non-negative big.Int into a uint256 word.
func ToWord(x *big.Int) (*uint256.Int, error) {
	if x.Sign() < 0 {
		return nil, ErrNegativeOperand
	}
	z, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOperandTooLarge
	}
	return z, nil
}

func mulDivBig(a, b, denominator *big.Int, roundUp bool) (*uint256.Int, error) {
	wa, err := ToWord(a)
	if err != nil {
		return nil, err
	}
	wb, err := ToWord(b)
	if err != nil {
		return nil, err
	}
	wd, err := ToWord(denominator)
	if err != nil {
		return nil, err
	}
	if roundUp {
		return MulDivRoundingUp(wa, wb, wd)
	}
	return MulDiv(wa, wb, wd)
}
