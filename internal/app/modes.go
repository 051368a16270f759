package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
)

// driver runs one poll, detect, size and dispatch cycle per tick.
type driver struct {
	mode       string
	deps       *Dependencies
	dispatcher *executor.Dispatcher // nil in monitor mode
	logger     *slog.Logger

	pollInterval  time.Duration
	tradeInterval time.Duration
	now           func() time.Time

	lastTrade   time.Time
	boostTarget string
	boostOnce   sync.Once
	boostDone   chan struct{}
}

func newDriver(cfg *config.Config, mode string, deps *Dependencies, logger *slog.Logger) *driver {
	d := &driver{
		mode:          mode,
		deps:          deps,
		logger:        logger.With(slog.String("component", "driver")),
		pollInterval:  cfg.Arbitrage.PollInterval.Duration,
		tradeInterval: cfg.Arbitrage.TradeInterval.Duration,
		now:           func() time.Time { return time.Now().UTC() },
		boostTarget:   cfg.VolumeBoost.TargetDEX,
		boostDone:     make(chan struct{}),
	}
	if deps.Engine != nil {
		d.dispatcher = executor.NewDispatcher(executor.DispatcherConfig{
			Executor:   deps.Engine,
			Ledger:     deps.Ledger,
			Executions: deps.Executions,
			Bus:        deps.Bus,
			Notifier:   deps.Notifier,
			OnEntry:    d.onEntry,
			MaxPending: cfg.Execution.MaxPendingOrders,
			Logger:     logger,
		})
	}
	return d
}

// run ticks until ctx is done. The first cycle starts immediately.
func (d *driver) run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "driver started",
		slog.String("mode", d.mode),
		slog.Duration("poll_interval", d.pollInterval),
		slog.Duration("trade_interval", d.tradeInterval),
	)
	if d.mode == "volume" {
		if reason := d.deps.Sizer.StopReason(); reason != nil {
			d.stopBoost(ctx, reason)
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("driver stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// wait blocks until dispatched orders finish.
func (d *driver) wait() {
	if d.dispatcher != nil {
		d.dispatcher.Wait()
	}
}

func (d *driver) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	quotes := d.deps.Monitor.Poll(ctx)
	now := d.now()

	if d.deps.Engine != nil {
		if n := d.deps.Engine.Dedup().Cleanup(); n > 0 {
			d.logger.DebugContext(ctx, "expired attempt ids", slog.Int("count", n))
		}
	}

	switch d.mode {
	case "arbitrage":
		d.arbitrage(ctx, quotes, now)
	case "volume":
		d.boost(ctx, quotes, now)
	default:
		d.observe(ctx, quotes, now)
	}
}

// coolingDown reports whether the last dispatch was within trade_interval.
func (d *driver) coolingDown(now time.Time) bool {
	return !d.lastTrade.IsZero() && now.Sub(d.lastTrade) < d.tradeInterval
}

func (d *driver) observe(ctx context.Context, quotes domain.QuoteSet, now time.Time) {
	plans := d.deps.Detector.Detect(quotes, now)
	d.deps.Detector.Publish(ctx, plans)
	for _, p := range plans {
		d.logger.InfoContext(ctx, "opportunity (dry run)",
			slog.String("plan_id", p.ID),
			slog.String("pair", p.Pair),
			slog.String("buy_dex", p.BuyDEX),
			slog.String("sell_dex", p.SellDEX),
			slog.String("spread_pct", p.SpreadPct.StringFixed(4)),
			slog.String("input", p.InputAmount.String()),
			slog.String("expected_profit", p.ExpectedProfit.StringFixed(6)),
		)
	}
}

func (d *driver) arbitrage(ctx context.Context, quotes domain.QuoteSet, now time.Time) {
	plans := d.deps.Detector.Detect(quotes, now)
	d.deps.Detector.Publish(ctx, plans)
	if len(plans) == 0 || d.coolingDown(now) {
		return
	}

	d.deps.Sizer.BeginCycle()
	dispatched := 0
	for _, p := range plans {
		order, err := d.deps.Sizer.Size(p)
		if err != nil {
			d.logger.DebugContext(ctx, "plan not sized",
				slog.String("plan_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d.dispatcher.Dispatch(ctx, order) {
			dispatched++
			d.logger.InfoContext(ctx, "order dispatched",
				slog.String("order_id", order.ID),
				slog.String("key", p.Key().String()),
				slog.String("amount", order.Amount.String()),
				slog.String("expected_profit", order.ExpectedProfit.StringFixed(6)),
			)
		}
	}
	if dispatched > 0 {
		d.lastTrade = now
	}
}

func (d *driver) boost(ctx context.Context, quotes domain.QuoteSet, now time.Time) {
	select {
	case <-d.boostDone:
		return
	default:
	}
	if d.coolingDown(now) {
		return
	}

	dispatched := 0
	for _, pair := range d.deps.Pairs {
		q, ok := quotes[domain.QuoteKey{DEX: d.boostTarget, Pair: pair.ID}]
		if !ok {
			continue
		}
		order, err := d.deps.Sizer.SizeBoost(pair, q, now)
		if errors.Is(err, domain.ErrBoostTargetReached) || errors.Is(err, domain.ErrBoostBudgetExhausted) {
			d.stopBoost(ctx, err)
			return
		}
		if err != nil {
			d.logger.DebugContext(ctx, "boost order not sized",
				slog.String("pair", pair.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d.dispatcher.Dispatch(ctx, order) {
			dispatched++
			d.logger.InfoContext(ctx, "boost order dispatched",
				slog.String("order_id", order.ID),
				slog.String("pair", pair.ID),
				slog.String("amount", order.Amount.String()),
			)
		}
	}
	if dispatched > 0 {
		d.lastTrade = now
	}
}

// onEntry folds recorded boost outcomes into the boost state.
func (d *driver) onEntry(entry domain.LedgerEntry) {
	if stop, reason := d.deps.Sizer.ApplyBoostResult(entry); stop {
		d.stopBoost(context.Background(), reason)
	}
}

// stopBoost ends boosting for the run and alerts once.
func (d *driver) stopBoost(ctx context.Context, reason error) {
	d.boostOnce.Do(func() {
		close(d.boostDone)
		st := d.deps.Sizer.State()
		d.logger.InfoContext(ctx, "volume boost stopped",
			slog.String("reason", reason.Error()),
			slog.String("volume", st.CumulativeBoostedVolume.String()),
			slog.String("loss", st.CumulativeLoss.String()),
		)
		msg := fmt.Sprintf("%s: boosted %s on %s with loss %s",
			reason, st.CumulativeBoostedVolume, st.TargetDEX, st.CumulativeLoss.StringFixed(6))
		if err := d.deps.Notifier.Notify(ctx, executor.EventBoostStopped, "Volume boost stopped", msg); err != nil {
			d.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	})
}
