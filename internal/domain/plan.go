package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DEXType selects the on-chain protocol used to quote and swap.
type DEXType string

const (
	DEXTypeUniswapV2 DEXType = "uniswap_v2"
	DEXTypeAlgebra   DEXType = "algebra"
	DEXTypeStatic    DEXType = "static"
)

// DEXSpec is the static description of one configured DEX.
type DEXSpec struct {
	Name    string
	Type    DEXType
	Router  common.Address
	Factory common.Address
	Quoter  common.Address
	FeeBps  int64
}

// FeeRate returns the swap fee as a fraction (30 bps -> 0.003).
func (d DEXSpec) FeeRate() decimal.Decimal {
	return decimal.New(d.FeeBps, -4)
}

// PlanKind distinguishes cross-DEX arbitrage from volume boosting.
type PlanKind string

const (
	PlanArbitrage PlanKind = "arbitrage"
	PlanBoost     PlanKind = "boost"
)

// TradePlan is a detected opportunity. It is immutable once created; a
// rejected or stale plan is discarded, never edited.
//
// ExpectedProfit = ExpectedOutput - InputAmount - EstimatedGasCost.
// Arbitrage plans always have BuyDEX != SellDEX; boost plans trade a round
// trip on a single DEX.
type TradePlan struct {
	ID               string          `json:"id"`
	Kind             PlanKind        `json:"kind"`
	Pair             string          `json:"pair"`
	BuyDEX           string          `json:"buy_dex"`
	SellDEX          string          `json:"sell_dex"`
	BuyPrice         decimal.Decimal `json:"buy_price"`
	SellPrice        decimal.Decimal `json:"sell_price"`
	BuyFeeBps        int64           `json:"buy_fee_bps"`
	SellFeeBps       int64           `json:"sell_fee_bps"`
	SpreadPct        decimal.Decimal `json:"spread_pct"`
	InputAmount      decimal.Decimal `json:"input_amount"`
	ExpectedOutput   decimal.Decimal `json:"expected_output"`
	ExpectedProfit   decimal.Decimal `json:"expected_profit"`
	EstimatedGasCost decimal.Decimal `json:"estimated_gas_cost"`
	GasTokenPrice    decimal.Decimal `json:"gas_token_price"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Key returns the in-flight tuple for the plan.
func (p TradePlan) Key() OrderKey {
	return OrderKey{BuyDEX: p.BuyDEX, SellDEX: p.SellDEX, Pair: p.Pair}
}

// OrderKey is the (buy_dex, sell_dex, pair) tuple of which at most one order
// may be in flight at a time.
type OrderKey struct {
	BuyDEX  string `json:"buy_dex"`
	SellDEX string `json:"sell_dex"`
	Pair    string `json:"pair"`
}

// String renders the tuple as a lock key.
func (k OrderKey) String() string {
	return k.BuyDEX + ">" + k.SellDEX + ":" + k.Pair
}

// SizedOrder is a plan bound to a concrete amount with slippage bounds. It is
// consumed by the execution engine.
type SizedOrder struct {
	ID                  string          `json:"id"`
	Plan                TradePlan       `json:"plan"`
	Amount              decimal.Decimal `json:"amount"`
	ExpectedBase        decimal.Decimal `json:"expected_base"`
	MinBaseOut          decimal.Decimal `json:"min_base_out"`
	ExpectedOutput      decimal.Decimal `json:"expected_output"`
	ExpectedProfit      decimal.Decimal `json:"expected_profit"`
	MinAcceptableOutput decimal.Decimal `json:"min_acceptable_output"`
}
