package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecStatus is the state of an ExecutionRecord.
type ExecStatus string

const (
	ExecPending              ExecStatus = "pending"
	ExecAwaitingConfirmation ExecStatus = "awaiting_confirmation"
	ExecConfirmed            ExecStatus = "confirmed"
	ExecFailed               ExecStatus = "failed"
	ExecReverted             ExecStatus = "reverted"
)

// IsTerminal reports whether no further transition may leave s.
func (s ExecStatus) IsTerminal() bool {
	return s == ExecConfirmed || s == ExecFailed || s == ExecReverted
}

// LegSide names a leg of a two-leg trade.
type LegSide string

const (
	LegBuy  LegSide = "buy"
	LegSell LegSide = "sell"
)

// LegAttempt tracks one on-chain swap submission.
type LegAttempt struct {
	AttemptID    string          `json:"attempt_id"`
	Side         LegSide         `json:"side"`
	DEX          string          `json:"dex"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	TxHash       string          `json:"tx_hash,omitempty"`
	Status       ExecStatus      `json:"status"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	GasUsed      uint64          `json:"gas_used"`
	GasCost      decimal.Decimal `json:"gas_cost"` // native units
	Polls        int             `json:"polls"`
	SubmittedAt  time.Time       `json:"submitted_at,omitzero"`
	ConfirmedAt  time.Time       `json:"confirmed_at,omitzero"`
	Error        string          `json:"error,omitempty"`
}

// ExecutionRecord is the engine's view of one order. It is mutated only by
// the execution engine and becomes immutable once terminal.
type ExecutionRecord struct {
	OrderID             string          `json:"order_id"`
	Kind                PlanKind        `json:"kind"`
	Key                 OrderKey        `json:"key"`
	Amount              decimal.Decimal `json:"amount"`
	MinAcceptableOutput decimal.Decimal `json:"min_acceptable_output"`
	Legs                []LegAttempt    `json:"legs"`
	TxHashes            []string        `json:"tx_hashes"`
	Status              ExecStatus      `json:"status"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	RealizedOutput      decimal.Decimal `json:"realized_output"`
	RealizedProfit      decimal.Decimal `json:"realized_profit"`
	GasUsed             uint64          `json:"gas_used"`
	GasCost             decimal.Decimal `json:"gas_cost"` // quote units
	SubmittedAt         time.Time       `json:"submitted_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	FinishedAt          time.Time       `json:"finished_at,omitzero"`
}

// NewExecutionRecord starts a pending record for order.
func NewExecutionRecord(order SizedOrder, now time.Time) ExecutionRecord {
	return ExecutionRecord{
		OrderID:             order.ID,
		Kind:                order.Plan.Kind,
		Key:                 order.Plan.Key(),
		Amount:              order.Amount,
		MinAcceptableOutput: order.MinAcceptableOutput,
		Status:              ExecPending,
		SubmittedAt:         now,
		UpdatedAt:           now,
	}
}

// IsTerminal reports whether the record has reached a final state.
func (r *ExecutionRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Transition moves the record to next. Terminal records reject every
// transition with ErrTerminalState.
func (r *ExecutionRecord) Transition(next ExecStatus, now time.Time) error {
	if r.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	if next.IsTerminal() {
		r.FinishedAt = now
	}
	return nil
}

// Fail moves the record to a failed or reverted terminal state and keeps the
// reason.
func (r *ExecutionRecord) Fail(status ExecStatus, reason error, now time.Time) error {
	if err := r.Transition(status, now); err != nil {
		return err
	}
	if reason != nil {
		r.FailureReason = reason.Error()
	}
	return nil
}

// Leg returns the attempt for side, if one was made.
func (r *ExecutionRecord) Leg(side LegSide) (LegAttempt, bool) {
	for _, l := range r.Legs {
		if l.Side == side {
			return l, true
		}
	}
	return LegAttempt{}, false
}

// SwapRequest is a single-hop exact-input swap handed to the chain layer.
type SwapRequest struct {
	AttemptID    string
	DEX          string
	TokenIn      Token
	TokenOut     Token
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
}

// ReceiptStatus is the on-chain outcome of a mined transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is the mined result of a swap.
type Receipt struct {
	TxHash    string
	Status    ReceiptStatus
	AmountOut decimal.Decimal // token-out units, from Transfer logs
	GasUsed   uint64
	GasCost   decimal.Decimal // native units
}
