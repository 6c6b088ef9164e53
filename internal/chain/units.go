package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// ToWei converts an ether amount to wei, truncating below 1 wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(etherDecimals).Truncate(0).BigInt()
}

// FromWei converts a wei amount to ether.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -etherDecimals)
}
