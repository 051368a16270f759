package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is the immutable projection of a terminal ExecutionRecord
// together with the running totals after it was appended. Only the ledger
// package constructs entries.
type LedgerEntry struct {
	Seq              int64           `json:"seq"`
	OrderID          string          `json:"order_id"`
	Kind             PlanKind        `json:"kind"`
	Pair             string          `json:"pair"`
	BuyDEX           string          `json:"buy_dex"`
	SellDEX          string          `json:"sell_dex"`
	Status           ExecStatus      `json:"status"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	Volume           decimal.Decimal `json:"volume"`
	Profit           decimal.Decimal `json:"profit"`
	Loss             decimal.Decimal `json:"loss"`
	GasCost          decimal.Decimal `json:"gas_cost"`
	TxHashes         []string        `json:"tx_hashes"`
	RecordedAt       time.Time       `json:"recorded_at"`
	CumulativeVolume decimal.Decimal `json:"cumulative_volume"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
	CumulativeLoss   decimal.Decimal `json:"cumulative_loss"`
}

// Totals are the cumulative ledger statistics.
type Totals struct {
	CumulativeVolume decimal.Decimal `json:"cumulative_volume"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
	CumulativeLoss   decimal.Decimal `json:"cumulative_loss"`
	Entries          int64           `json:"entries"`
}

// Add folds one entry into the totals.
func (t Totals) Add(e LedgerEntry) Totals {
	return Totals{
		CumulativeVolume: t.CumulativeVolume.Add(e.Volume),
		CumulativeProfit: t.CumulativeProfit.Add(e.Profit),
		CumulativeLoss:   t.CumulativeLoss.Add(e.Loss),
		Entries:          t.Entries + 1,
	}
}

// Net is profit minus loss.
func (t Totals) Net() decimal.Decimal {
	return t.CumulativeProfit.Sub(t.CumulativeLoss)
}

// VolumeBoostState tracks progress of volume boosting for the run.
type VolumeBoostState struct {
	Enabled                 bool            `json:"enabled"`
	TargetDEX               string          `json:"target_dex"`
	CumulativeBoostedVolume decimal.Decimal `json:"cumulative_boosted_volume"`
	CumulativeLoss          decimal.Decimal `json:"cumulative_loss"`
	LossTolerance           decimal.Decimal `json:"loss_tolerance"`
	VolumeTarget            decimal.Decimal `json:"volume_target"`
}

// LossBudget is loss_tolerance applied to the volume boosted so far plus
// next, the volume of the order under consideration.
func (s VolumeBoostState) LossBudget(next decimal.Decimal) decimal.Decimal {
	return s.LossTolerance.Mul(s.CumulativeBoostedVolume.Add(next))
}

// TargetReached reports whether the configured volume target has been met.
// A zero target means unlimited.
func (s VolumeBoostState) TargetReached() bool {
	return s.VolumeTarget.IsPositive() && s.CumulativeBoostedVolume.GreaterThanOrEqual(s.VolumeTarget)
}

// BudgetExhausted reports whether realized losses leave no room for an order
// of volume next.
func (s VolumeBoostState) BudgetExhausted(next decimal.Decimal) bool {
	return s.CumulativeLoss.IsPositive() && s.CumulativeLoss.GreaterThanOrEqual(s.LossBudget(next))
}
