// Package risk turns trade plans into sized orders under per-trade and
// per-cycle limits, and tracks volume boosting progress.
package risk

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

var one = decimal.NewFromInt(1)

// Limits are the arbitrage sizing limits. MaxSlippage is a fraction.
type Limits struct {
	MaxTradeAmount  decimal.Decimal
	MaxSlippage     decimal.Decimal
	CycleBudget     decimal.Decimal // zero means MaxTradeAmount
	AmountPrecision int32
}

// BoostLimits configure volume boosting.
type BoostLimits struct {
	TargetDEX       string
	FeeBps          int64
	LossTolerance   decimal.Decimal
	MinTradeAmount  decimal.Decimal
	MaxTradeAmount  decimal.Decimal
	VolumeTarget    decimal.Decimal
	GasUnitsPerSwap int64
	MaxGasPriceGwei decimal.Decimal
	IncludeGas      bool
	QuoteStaleness  time.Duration
}

// Sizer sizes arbitrage and boost orders. It is safe for concurrent use.
type Sizer struct {
	limits Limits
	boost  BoostLimits
	logger *slog.Logger
	float  func() float64
	newID  func() string

	mu        sync.Mutex
	remaining decimal.Decimal
	state     domain.VolumeBoostState
}

// Option customizes a Sizer.
type Option func(*Sizer)

// WithRand sets the uniform [0, 1) source used for boost sizes.
func WithRand(f func() float64) Option {
	return func(s *Sizer) { s.float = f }
}

// WithBoost enables volume boosting on the given DEX.
func WithBoost(b BoostLimits) Option {
	return func(s *Sizer) {
		s.boost = b
		s.state.Enabled = true
		s.state.TargetDEX = b.TargetDEX
		s.state.LossTolerance = b.LossTolerance
		s.state.VolumeTarget = b.VolumeTarget
	}
}

// NewSizer creates a Sizer. The per-cycle budget starts full.
func NewSizer(limits Limits, logger *slog.Logger, opts ...Option) *Sizer {
	s := &Sizer{
		limits: limits,
		logger: logger.With(slog.String("component", "risk")),
		float:  rand.Float64,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.remaining = s.cycleBudget()
	return s
}

func (s *Sizer) cycleBudget() decimal.Decimal {
	if s.limits.CycleBudget.IsPositive() {
		return s.limits.CycleBudget
	}
	return s.limits.MaxTradeAmount
}

// BeginCycle resets the remaining per-cycle budget.
func (s *Sizer) BeginCycle() {
	s.mu.Lock()
	s.remaining = s.cycleBudget()
	s.mu.Unlock()
}

// Remaining returns the unspent per-cycle budget.
func (s *Sizer) Remaining() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Size clamps plan to the trade and cycle limits and re-prices it. A plan that
// would not stay profitable at the clamped size is rejected rather than
// downsized into a loss.
func (s *Sizer) Size(plan domain.TradePlan) (domain.SizedOrder, error) {
	if plan.Kind != domain.PlanArbitrage {
		return domain.SizedOrder{}, fmt.Errorf("risk: size %s: %w: not an arbitrage plan", plan.ID, domain.ErrPlanRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	amount := decimal.Min(plan.InputAmount, s.limits.MaxTradeAmount, s.remaining).Truncate(s.limits.AmountPrecision)
	if !amount.IsPositive() {
		return domain.SizedOrder{}, fmt.Errorf("risk: size %s: %w: cycle budget exhausted", plan.ID, domain.ErrPlanRejected)
	}

	est := arbitrage.Evaluate(amount, plan.BuyPrice, plan.SellPrice, plan.BuyFeeBps, plan.SellFeeBps, plan.EstimatedGasCost)
	if !est.Profit.IsPositive() {
		return domain.SizedOrder{}, fmt.Errorf("risk: size %s: %w: profit %s at amount %s",
			plan.ID, domain.ErrPlanRejected, est.Profit.StringFixed(6), amount)
	}

	s.remaining = s.remaining.Sub(amount)
	return s.order(plan, amount, est), nil
}

func (s *Sizer) order(plan domain.TradePlan, amount decimal.Decimal, est arbitrage.Estimate) domain.SizedOrder {
	keep := one.Sub(s.limits.MaxSlippage)
	return domain.SizedOrder{
		ID:                  s.newID(),
		Plan:                plan,
		Amount:              amount,
		ExpectedBase:        est.Base,
		MinBaseOut:          est.Base.Mul(keep),
		ExpectedOutput:      est.Output,
		ExpectedProfit:      est.Profit,
		MinAcceptableOutput: est.Output.Mul(keep),
	}
}

// SizeBoost builds a round-trip order on the boost target DEX with a random
// size in [MinTradeAmount, MaxTradeAmount].
func (s *Sizer) SizeBoost(pair domain.PairSpec, quote domain.Quote, now time.Time) (domain.SizedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Enabled {
		return domain.SizedOrder{}, fmt.Errorf("risk: boost: %w: volume boost is disabled", domain.ErrPlanRejected)
	}
	if err := s.stopReason(); err != nil {
		return domain.SizedOrder{}, err
	}
	if quote.DEX != s.boost.TargetDEX || quote.Pair != pair.ID {
		return domain.SizedOrder{}, fmt.Errorf("risk: boost: %w: quote %s/%s is not for target %s",
			domain.ErrPlanRejected, quote.DEX, quote.Pair, s.boost.TargetDEX)
	}
	if !quote.Price.IsPositive() || !quote.Fresh(now, s.boost.QuoteStaleness) {
		return domain.SizedOrder{}, fmt.Errorf("risk: boost: %w: no fresh quote on %s", domain.ErrPlanRejected, quote.DEX)
	}

	size := s.boostSize()
	if quote.Liquidity.IsPositive() && quote.Liquidity.LessThan(size) {
		return domain.SizedOrder{}, fmt.Errorf("risk: boost: %w: size %s exceeds liquidity %s",
			domain.ErrPlanRejected, size, quote.Liquidity)
	}

	gas := decimal.Zero
	if s.boost.IncludeGas {
		gas = arbitrage.GasCost(2, s.boost.GasUnitsPerSwap, s.boost.MaxGasPriceGwei, pair.GasTokenPrice)
	}
	est := arbitrage.Evaluate(size, quote.Price, quote.Price, s.boost.FeeBps, s.boost.FeeBps, gas)
	expectedLoss := est.Profit.Neg()
	if allowed := s.state.LossTolerance.Mul(size); expectedLoss.GreaterThan(allowed) {
		return domain.SizedOrder{}, fmt.Errorf("risk: boost: %w: expected loss %s exceeds %s",
			domain.ErrPlanRejected, expectedLoss.StringFixed(6), allowed.StringFixed(6))
	}

	plan := domain.TradePlan{
		ID:               s.newID(),
		Kind:             domain.PlanBoost,
		Pair:             pair.ID,
		BuyDEX:           s.boost.TargetDEX,
		SellDEX:          s.boost.TargetDEX,
		BuyPrice:         quote.Price,
		SellPrice:        quote.Price,
		BuyFeeBps:        s.boost.FeeBps,
		SellFeeBps:       s.boost.FeeBps,
		SpreadPct:        decimal.Zero,
		InputAmount:      size,
		ExpectedOutput:   est.Output,
		ExpectedProfit:   est.Profit,
		EstimatedGasCost: est.Gas,
		GasTokenPrice:    pair.GasTokenPrice,
		CreatedAt:        now,
	}
	return s.order(plan, size, est), nil
}

func (s *Sizer) boostSize() decimal.Decimal {
	lo, hi := s.boost.MinTradeAmount, s.boost.MaxTradeAmount
	span := hi.Sub(lo)
	size := lo.Add(span.Mul(decimal.NewFromFloat(s.float()))).Round(2)
	return decimal.Max(lo, decimal.Min(size, hi))
}

// ApplyBoostResult folds a recorded boost entry into the boost state and
// reports whether boosting should stop.
func (s *Sizer) ApplyBoostResult(entry domain.LedgerEntry) (stop bool, reason error) {
	if entry.Kind != domain.PlanBoost {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.CumulativeBoostedVolume = s.state.CumulativeBoostedVolume.Add(entry.Volume)
	s.state.CumulativeLoss = s.state.CumulativeLoss.Add(entry.Loss)

	if err := s.stopReason(); err != nil {
		return true, err
	}
	return false, nil
}

// StopReason returns ErrBoostTargetReached or ErrBoostBudgetExhausted once
// boosting can no longer continue, and nil otherwise.
func (s *Sizer) StopReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason()
}

// stopReason checks the budget against the smallest order boosting could
// still place. Callers hold s.mu.
func (s *Sizer) stopReason() error {
	switch {
	case s.state.TargetReached():
		return fmt.Errorf("risk: boost: %w: %s of %s",
			domain.ErrBoostTargetReached, s.state.CumulativeBoostedVolume, s.state.VolumeTarget)
	case s.state.BudgetExhausted(s.boost.MinTradeAmount):
		return fmt.Errorf("risk: boost: %w: loss %s budget %s",
			domain.ErrBoostBudgetExhausted, s.state.CumulativeLoss, s.state.LossBudget(s.boost.MinTradeAmount))
	}
	return nil
}

// Seed loads boost counters from previously recorded boost totals.
func (s *Sizer) Seed(boost domain.Totals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CumulativeBoostedVolume = boost.CumulativeVolume
	s.state.CumulativeLoss = boost.CumulativeLoss
	s.logger.Info("boost state restored",
		slog.String("volume", boost.CumulativeVolume.String()),
		slog.String("loss", boost.CumulativeLoss.String()),
		slog.Int64("entries", boost.Entries),
	)
}

// State returns a copy of the boost state.
func (s *Sizer) State() domain.VolumeBoostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
