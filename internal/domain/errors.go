package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	// Price feed.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	ErrInvalidPair        = errors.New("pair not listed on dex")

	// Transaction submission and confirmation.
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrNetwork            = errors.New("network error")
	ErrReceiptPending     = errors.New("receipt pending")

	// Order outcomes.
	ErrSlippageViolation   = errors.New("slippage violation")
	ErrPartialLegFailure   = errors.New("partial leg failure")
	ErrConfirmationTimeout = errors.New("confirmation attempts exhausted")
	ErrOrderInFlight       = errors.New("order already in flight for tuple")
	ErrDuplicateAttempt    = errors.New("leg attempt already submitted")
	ErrTerminalState       = errors.New("execution record is terminal")

	// Sizing.
	ErrPlanRejected         = errors.New("plan rejected")
	ErrBoostBudgetExhausted = errors.New("volume boost loss budget exhausted")
	ErrBoostTargetReached   = errors.New("volume boost target reached")
)
