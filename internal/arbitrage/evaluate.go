package arbitrage

import (
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	gweiExp = decimal.New(1, -9)
)

// Estimate is the projected outcome of buying on one DEX and selling the
// proceeds on another.
type Estimate struct {
	// Base is the base-token amount received by the buy leg.
	Base decimal.Decimal
	// Output is the quote-token amount received by the sell leg.
	Output decimal.Decimal
	// Gas is the total gas cost in quote units.
	Gas decimal.Decimal
	// Profit is Output - input - Gas.
	Profit decimal.Decimal
}

// Evaluate prices a two-leg round trip of amount quote units. Fees are in
// basis points and gas is already converted to quote units. buyPrice must be
// positive.
func Evaluate(amount, buyPrice, sellPrice decimal.Decimal, buyFeeBps, sellFeeBps int64, gas decimal.Decimal) Estimate {
	base := amount.Mul(one.Sub(feeRate(buyFeeBps))).Div(buyPrice)
	output := base.Mul(sellPrice).Mul(one.Sub(feeRate(sellFeeBps)))
	return Estimate{
		Base:   base,
		Output: output,
		Gas:    gas,
		Profit: output.Sub(amount).Sub(gas),
	}
}

// GasCost converts swaps x gasUnits at gasPriceGwei into quote units using the
// pair's gas token price.
func GasCost(swaps int, gasUnits int64, gasPriceGwei, gasTokenPrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(swaps) * gasUnits).
		Mul(gasPriceGwei).
		Mul(gweiExp).
		Mul(gasTokenPrice)
}

// SpreadPct is (sell - buy) / buy x 100.
func SpreadPct(buy, sell decimal.Decimal) decimal.Decimal {
	if !buy.IsPositive() {
		return decimal.Zero
	}
	return sell.Sub(buy).Div(buy).Mul(hundred)
}

func feeRate(bps int64) decimal.Decimal {
	return decimal.New(bps, -4)
}
