// Package executor drives sized orders through their on-chain legs and
// tracks each order in an ExecutionRecord until it is terminal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Chain submits swaps and reports their receipts.
//
// SubmitSwap returns domain.ErrSubmissionRejected when the node refused the
// transaction and domain.ErrNetwork when the outcome is unknown. Receipt
// returns domain.ErrReceiptPending until the transaction is mined.
type Chain interface {
	SubmitSwap(ctx context.Context, req domain.SwapRequest) (txHash string, err error)
	Receipt(ctx context.Context, txHash string) (domain.Receipt, error)
}

// Config controls confirmation polling and the in-flight lock.
type Config struct {
	ConfirmAttempts int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	LockTTL         time.Duration
}

// Engine executes orders. Different orders may run concurrently; the legs of
// one order run strictly in sequence.
type Engine struct {
	chain  Chain
	locks  domain.LockManager
	dedup  *Dedup
	pairs  map[string]domain.PairSpec
	cfg    Config
	logger *slog.Logger

	// inflight holds the tuples this engine is executing. It covers the
	// whole of Execute, independent of the lock TTL.
	mu       sync.Mutex
	inflight map[string]struct{}

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewEngine creates an Engine. locks guards the (buy_dex, sell_dex, pair)
// tuple across every Execute call sharing it.
func NewEngine(chain Chain, locks domain.LockManager, pairs []domain.PairSpec, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ConfirmAttempts < 1 {
		cfg.ConfirmAttempts = 1
	}
	byID := make(map[string]domain.PairSpec, len(pairs))
	for _, p := range pairs {
		byID[p.ID] = p
	}
	return &Engine{
		chain:  chain,
		locks:  locks,
		dedup:    NewDedup(24 * time.Hour),
		pairs:    byID,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		inflight: make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

// Dedup exposes the attempt id set for periodic cleanup.
func (e *Engine) Dedup() *Dedup { return e.dedup }

// Execute runs order to a terminal state. The returned record is terminal
// whenever it carries an order id; err then explains a failed or reverted
// outcome and is nil on confirmation. If another order holds the same tuple,
// Execute returns domain.ErrOrderInFlight and no record.
func (e *Engine) Execute(ctx context.Context, order domain.SizedOrder) (domain.ExecutionRecord, error) {
	key := order.Plan.Key()
	pair, ok := e.pairs[key.Pair]
	if !ok {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: order %s: %w: %s", order.ID, domain.ErrInvalidPair, key.Pair)
	}

	release, ok := e.claim(key.String())
	if !ok {
		return domain.ExecutionRecord{}, fmt.Errorf("executor: order %s: %w: %s", order.ID, domain.ErrOrderInFlight, key)
	}
	defer release()

	unlock, err := e.locks.Acquire(ctx, "order:"+key.String(), e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ExecutionRecord{}, fmt.Errorf("executor: order %s: %w: %s", order.ID, domain.ErrOrderInFlight, key)
		}
		return domain.ExecutionRecord{}, fmt.Errorf("executor: order %s: lock: %w", order.ID, err)
	}
	defer unlock()

	log := e.logger.With(
		slog.String("order_id", order.ID),
		slog.String("kind", string(order.Plan.Kind)),
		slog.String("key", key.String()),
	)
	log.InfoContext(ctx, "executing order",
		slog.String("amount", order.Amount.String()),
		slog.String("expected_profit", order.ExpectedProfit.String()),
	)

	rec := domain.NewExecutionRecord(order, e.now())
	err = e.run(ctx, &rec, order, pair)

	attrs := []any{
		slog.String("status", string(rec.Status)),
		slog.String("realized_profit", rec.RealizedProfit.String()),
		slog.String("gas_cost", rec.GasCost.String()),
		slog.Any("tx_hashes", rec.TxHashes),
	}
	if err != nil {
		log.WarnContext(ctx, "order failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		log.InfoContext(ctx, "order confirmed", attrs...)
	}
	return rec, err
}

// claim marks key as executing in this process until release is called.
func (e *Engine) claim(key string) (release func(), ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return nil, false
	}
	e.inflight[key] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}, true
}

type legSpec struct {
	side     domain.LegSide
	dex      string
	tokenIn  domain.Token
	tokenOut domain.Token
	amountIn decimal.Decimal
	minOut   decimal.Decimal
}

func (e *Engine) run(ctx context.Context, rec *domain.ExecutionRecord, order domain.SizedOrder, pair domain.PairSpec) error {
	buy, err := e.leg(ctx, rec, pair, legSpec{
		side:     domain.LegBuy,
		dex:      rec.Key.BuyDEX,
		tokenIn:  pair.Quote,
		tokenOut: pair.Base,
		amountIn: order.Amount,
		minOut:   order.MinBaseOut,
	})
	if err != nil {
		status := domain.ExecFailed
		if buy.Status == domain.ExecReverted || errors.Is(err, domain.ErrSlippageViolation) {
			status = domain.ExecReverted
		}
		return e.fail(rec, status, err)
	}

	sell, err := e.leg(ctx, rec, pair, legSpec{
		side:     domain.LegSell,
		dex:      rec.Key.SellDEX,
		tokenIn:  pair.Base,
		tokenOut: pair.Quote,
		amountIn: buy.AmountOut,
		minOut:   order.MinAcceptableOutput,
	})
	if sell.Status == domain.ExecConfirmed {
		rec.RealizedOutput = sell.AmountOut
		rec.RealizedProfit = sell.AmountOut.Sub(rec.Amount).Sub(rec.GasCost)
	}
	if err != nil && !errors.Is(err, domain.ErrSlippageViolation) {
		return e.fail(rec, domain.ExecFailed, fmt.Errorf("%w: sell leg: %w", domain.ErrPartialLegFailure, err))
	}

	if rec.RealizedOutput.LessThan(rec.MinAcceptableOutput) {
		return e.fail(rec, domain.ExecReverted, fmt.Errorf("%w: realized %s below minimum %s",
			domain.ErrSlippageViolation, rec.RealizedOutput, rec.MinAcceptableOutput))
	}
	return rec.Transition(domain.ExecConfirmed, e.now())
}

func (e *Engine) fail(rec *domain.ExecutionRecord, status domain.ExecStatus, cause error) error {
	if err := rec.Fail(status, cause, e.now()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// leg submits one swap and waits for its receipt. The attempt is appended to
// rec in every outcome. A mined swap is reported as confirmed even when its
// output falls short; the shortfall is returned as ErrSlippageViolation.
func (e *Engine) leg(ctx context.Context, rec *domain.ExecutionRecord, pair domain.PairSpec, spec legSpec) (domain.LegAttempt, error) {
	n := 1
	for _, l := range rec.Legs {
		if l.Side == spec.side {
			n++
		}
	}
	leg := domain.LegAttempt{
		AttemptID:    AttemptID(rec.OrderID, spec.side, n),
		Side:         spec.side,
		DEX:          spec.dex,
		AmountIn:     spec.amountIn,
		MinAmountOut: spec.minOut,
		Status:       domain.ExecPending,
	}
	done := func(status domain.ExecStatus, err error) (domain.LegAttempt, error) {
		leg.Status = status
		if err != nil {
			leg.Error = err.Error()
		}
		rec.Legs = append(rec.Legs, leg)
		rec.UpdatedAt = e.now()
		return leg, err
	}

	if err := e.dedup.Claim(leg.AttemptID); err != nil {
		return done(domain.ExecFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return done(domain.ExecFailed, fmt.Errorf("executor: %s leg: %w", spec.side, err))
	}

	hash, err := e.chain.SubmitSwap(ctx, domain.SwapRequest{
		AttemptID:    leg.AttemptID,
		DEX:          spec.dex,
		TokenIn:      spec.tokenIn,
		TokenOut:     spec.tokenOut,
		AmountIn:     spec.amountIn,
		MinAmountOut: spec.minOut,
	})
	if err != nil {
		return done(domain.ExecFailed, fmt.Errorf("executor: submit %s leg: %w", spec.side, err))
	}
	leg.TxHash = hash
	leg.SubmittedAt = e.now()
	rec.TxHashes = append(rec.TxHashes, hash)
	if rec.Status == domain.ExecPending {
		if err := rec.Transition(domain.ExecAwaitingConfirmation, e.now()); err != nil {
			return done(domain.ExecFailed, err)
		}
	}

	receipt, err := e.awaitReceipt(ctx, &leg)
	if err != nil {
		return done(domain.ExecFailed, fmt.Errorf("executor: confirm %s leg %s: %w", spec.side, hash, err))
	}

	leg.GasUsed = receipt.GasUsed
	leg.GasCost = receipt.GasCost
	leg.ConfirmedAt = e.now()
	rec.GasUsed += receipt.GasUsed
	rec.GasCost = rec.GasCost.Add(receipt.GasCost.Mul(pair.GasTokenPrice))

	if receipt.Status != domain.ReceiptSuccess {
		return done(domain.ExecReverted, fmt.Errorf("executor: %s leg %s reverted on chain", spec.side, hash))
	}
	leg.AmountOut = receipt.AmountOut
	if receipt.AmountOut.LessThan(spec.minOut) {
		return done(domain.ExecConfirmed, fmt.Errorf("executor: %s leg: %w: got %s, minimum %s",
			spec.side, domain.ErrSlippageViolation, receipt.AmountOut, spec.minOut))
	}
	return done(domain.ExecConfirmed, nil)
}

// awaitReceipt polls for a receipt up to ConfirmAttempts times. Pending and
// transport errors are retried; the transaction is never resubmitted.
func (e *Engine) awaitReceipt(ctx context.Context, leg *domain.LegAttempt) (domain.Receipt, error) {
	var last error
	for attempt := 0; attempt < e.cfg.ConfirmAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, Backoff(attempt-1, e.cfg.BackoffBase, e.cfg.BackoffMax)); err != nil {
				return domain.Receipt{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return domain.Receipt{}, err
		}

		leg.Polls++
		r, err := e.chain.Receipt(ctx, leg.TxHash)
		if err == nil {
			return r, nil
		}
		if ctx.Err() != nil {
			return domain.Receipt{}, ctx.Err()
		}
		last = err
		if !errors.Is(err, domain.ErrReceiptPending) {
			e.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("attempt_id", leg.AttemptID),
				slog.Int("poll", leg.Polls),
				slog.String("error", err.Error()),
			)
		}
	}
	return domain.Receipt{}, fmt.Errorf("%w after %d polls: %w", domain.ErrConfirmationTimeout, leg.Polls, last)
}
