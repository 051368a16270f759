package contracts

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToUnits converts a human amount to integer token units, truncating any
// precision beyond decimals.
func ToUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromUnits converts integer token units to a human amount.
func FromUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

// GweiToWei converts a gwei price to wei.
func GweiToWei(gwei decimal.Decimal) *big.Int {
	return ToUnits(gwei, 9)
}

// WeiToNative converts wei to whole native units (18 decimals).
func WeiToNative(wei *big.Int) decimal.Decimal {
	return FromUnits(wei, 18)
}
