package swapmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromString(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid integer " + s)
	}
	return v
}

// newRandInt returns a random integer below 2^bits.
func newRandInt(bits int) *big.Int {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), uint(bits)))
	if err != nil {
		panic(err)
	}
	return n
}

var (
	// sqrt(1) and sqrt(1.01) in Q64.96
	priceOne        = new(big.Int).Lsh(big.NewInt(1), 96)
	priceOnePercent = fromString("79623317895830914510639640423")
)

func TestComputeStep_Vectors(t *testing.T) {
	tests := []struct {
		name            string
		price, target   *big.Int
		liquidity       *big.Int
		amountRemaining *big.Int
		fee             uint32
		wantIn          string
		wantOut         string
		wantFee         string
		// wantPrice is empty when only the direction of the move is checked
		wantPrice string
	}{
		{
			name:            "exact in capped at target, one for zero",
			price:           priceOne,
			target:          priceOnePercent,
			liquidity:       fromString("2000000000000000000"),
			amountRemaining: fromString("1000000000000000000"),
			fee:             600,
			wantIn:          "9975124224178055",
			wantOut:         "9925619580021728",
			wantFee:         "5988667735148",
			wantPrice:       priceOnePercent.String(),
		},
		{
			name:            "exact out capped at target, one for zero",
			price:           priceOne,
			target:          priceOnePercent,
			liquidity:       fromString("2000000000000000000"),
			amountRemaining: fromString("-1000000000000000000"),
			fee:             600,
			wantIn:          "9975124224178055",
			wantOut:         "9925619580021728",
			wantFee:         "5988667735148",
			wantPrice:       priceOnePercent.String(),
		},
		{
			name:            "amount out capped at the desired amount",
			price:           fromString("417332158212080721273783715441582"),
			target:          fromString("1452870262520218020823638996"),
			liquidity:       fromString("159344665391607089467575320103"),
			amountRemaining: big.NewInt(-1),
			fee:             1,
			wantIn:          "1",
			wantOut:         "1",
			wantFee:         "1",
			wantPrice:       "417332158212080721273783715441581",
		},
		{
			name:            "entire input taken as fee",
			price:           big.NewInt(2413),
			target:          fromString("79887613182836312"),
			liquidity:       fromString("1985041575832132834610021537970"),
			amountRemaining: big.NewInt(10),
			fee:             1872,
			wantIn:          "0",
			wantOut:         "0",
			wantFee:         "10",
			wantPrice:       "2413",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := ComputeStep(tt.price, tt.target, tt.liquidity, tt.amountRemaining, tt.fee)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIn, step.AmountIn.String(), "amountIn")
			assert.Equal(t, tt.wantOut, step.AmountOut.String(), "amountOut")
			assert.Equal(t, tt.wantFee, step.FeeAmount.String(), "feeAmount")
			assert.Equal(t, tt.wantPrice, step.SqrtRatioNextX96.String(), "sqrtRatioNext")
		})
	}
}

func TestComputeStep_ExactInFullySpent(t *testing.T) {
	// target sqrt(10) is far enough that 1e18 in never reaches it
	target := fromString("250541448375047931186413801569")
	amount := fromString("1000000000000000000")

	step, err := ComputeStep(priceOne, target, fromString("2000000000000000000"), amount, 600)
	require.NoError(t, err)

	assert.Equal(t, "999400000000000000", step.AmountIn.String())
	assert.Equal(t, "600000000000000", step.FeeAmount.String())
	assert.Equal(t, "666399946655997866", step.AmountOut.String())
	assert.Equal(t, 0, new(big.Int).Add(step.AmountIn, step.FeeAmount).Cmp(amount))
	assert.Equal(t, -1, step.SqrtRatioNextX96.Cmp(target))
}

func TestComputeStep_InvalidFee(t *testing.T) {
	_, err := ComputeStep(priceOne, priceOnePercent, big.NewInt(1), big.NewInt(1), FeeDenominator)
	assert.ErrorIs(t, err, ErrInvalidFee)
}

// TestComputeSwapStep_Invariants runs random inputs and checks the bounds every step must respect.
func TestComputeSwapStep_Invariants(t *testing.T) {
	for i := range 1000 {
		price := newRandInt(160)
		target := newRandInt(160)
		liquidity := newRandInt(128)
		amountRemaining := newRandInt(256)
		if i%2 == 1 {
			amountRemaining.Neg(amountRemaining)
		}
		feePips := newRandInt(20)

		if price.Sign() == 0 {
			price.SetInt64(1)
		}
		if target.Sign() == 0 {
			target.SetInt64(1)
		}
		if feePips.Sign() == 0 {
			feePips.SetInt64(1)
		}
		if feePips.Cmp(feeDenominator) >= 0 {
			feePips.Sub(feeDenominator, one)
		}

		sqrtQ, amountIn, amountOut, feeAmount := new(big.Int), new(big.Int), new(big.Int), new(big.Int)
		err := ComputeSwapStep(sqrtQ, amountIn, amountOut, feeAmount, price, target, liquidity, amountRemaining, feePips)
		if err != nil {
			// overflow of an intermediate amount
			continue
		}

		sumIn := new(big.Int).Add(amountIn, feeAmount)
		assert.LessOrEqual(t, sumIn.BitLen(), 256)

		if amountRemaining.Sign() < 0 {
			assert.LessOrEqual(t, amountOut.Cmp(new(big.Int).Neg(amountRemaining)), 0)
		} else {
			assert.LessOrEqual(t, sumIn.Cmp(amountRemaining), 0)
		}

		if price.Cmp(target) == 0 {
			assert.Zero(t, amountIn.Sign())
			assert.Zero(t, amountOut.Sign())
			assert.Zero(t, feeAmount.Sign())
			assert.Zero(t, sqrtQ.Cmp(target))
		}

		// short of the target, the whole amount is used
		if sqrtQ.Cmp(target) != 0 {
			if amountRemaining.Sign() < 0 {
				assert.Zero(t, amountOut.Cmp(new(big.Int).Neg(amountRemaining)))
			} else {
				assert.Zero(t, sumIn.Cmp(amountRemaining))
			}
		}

		// the next price lies between the price and the target
		if target.Cmp(price) <= 0 {
			assert.LessOrEqual(t, sqrtQ.Cmp(price), 0)
			assert.GreaterOrEqual(t, sqrtQ.Cmp(target), 0)
		} else {
			assert.GreaterOrEqual(t, sqrtQ.Cmp(price), 0)
			assert.LessOrEqual(t, sqrtQ.Cmp(target), 0)
		}
	}
}
