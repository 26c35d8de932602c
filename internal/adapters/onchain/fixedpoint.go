package onchain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultAssetDecimals is the scale of the payment asset on the test network.
const DefaultAssetDecimals = 18

// FixedPoint converts between the contract's integer amounts and decimal
// client amounts. It is the only place in the client that does so.
type FixedPoint struct {
	Decimals int32
}

// ToDecimal scales an on-chain integer down to client units. Exact.
func (f FixedPoint) ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -f.Decimals)
}

// FromDecimal scales a client amount up to an on-chain integer, rounding
// toward +inf so an approval never ends up smaller than requested.
// Negative amounts map to zero.
func (f FixedPoint) FromDecimal(d decimal.Decimal) *big.Int {
	if d.Sign() <= 0 {
		return new(big.Int)
	}
	return d.Shift(f.Decimals).Ceil().BigInt()
}

// toUint64 narrows a uint256 result that the contract guarantees to be small
// (prices, counts, positions).
func toUint64(v *big.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("value %s out of uint64 range", v)
	}
	return v.Uint64(), nil
}
