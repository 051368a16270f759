package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Executor runs one order to completion.
type Executor interface {
	Execute(ctx context.Context, order domain.SizedOrder) (domain.ExecutionRecord, error)
}

// Recorder appends terminal records to the ledger.
type Recorder interface {
	Record(ctx context.Context, rec domain.ExecutionRecord) (domain.LedgerEntry, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// Notification event types.
const (
	EventTradeConfirmed    = "trade_confirmed"
	EventTradeFailed       = "trade_failed"
	EventPartialLegFailure = "partial_leg_failure"
	EventBoostStopped      = "boost_stopped"
)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Executor   Executor
	Ledger     Recorder
	Executions domain.ExecutionStore // optional
	Bus        domain.SignalBus      // optional
	Notifier   Notifier              // optional
	// OnEntry is called with every ledger entry after it is recorded.
	OnEntry    func(domain.LedgerEntry)
	MaxPending int
	Logger     *slog.Logger
}

// Dispatcher runs orders concurrently up to MaxPending and records every
// terminal outcome.
type Dispatcher struct {
	exec     Executor
	ledger   Recorder
	execs    domain.ExecutionStore
	bus      domain.SignalBus
	notifier Notifier
	onEntry  func(domain.LedgerEntry)
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxPending < 1 {
		cfg.MaxPending = 1
	}
	return &Dispatcher{
		exec:     cfg.Executor,
		ledger:   cfg.Ledger,
		execs:    cfg.Executions,
		bus:      cfg.Bus,
		notifier: cfg.Notifier,
		onEntry:  cfg.OnEntry,
		sem:      make(chan struct{}, cfg.MaxPending),
		logger:   cfg.Logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch starts order in the background. It returns false without
// starting anything when MaxPending orders are already running.
func (d *Dispatcher) Dispatch(ctx context.Context, order domain.SizedOrder) bool {
	select {
	case d.sem <- struct{}{}:
	default:
		d.logger.WarnContext(ctx, "max pending orders reached, dropping order",
			slog.String("order_id", order.ID),
			slog.String("key", order.Plan.Key().String()),
		)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		d.Run(ctx, order)
	}()
	return true
}

// Run executes order synchronously and records the outcome. It returns the
// ledger entry, and false when no record was produced or the ledger could not
// persist it. OnEntry sees the entry in both recorded cases.
func (d *Dispatcher) Run(ctx context.Context, order domain.SizedOrder) (domain.LedgerEntry, bool) {
	rec, execErr := d.exec.Execute(ctx, order)
	if !rec.IsTerminal() {
		if errors.Is(execErr, domain.ErrOrderInFlight) {
			d.logger.InfoContext(ctx, "order skipped, tuple already in flight",
				slog.String("order_id", order.ID),
				slog.String("key", order.Plan.Key().String()),
			)
		} else if execErr != nil {
			d.logger.ErrorContext(ctx, "order not executed",
				slog.String("order_id", order.ID),
				slog.String("error", execErr.Error()),
			)
		}
		return domain.LedgerEntry{}, false
	}

	// Outcomes are persisted even when the run is shutting down.
	pctx := context.WithoutCancel(ctx)

	entry, err := d.ledger.Record(pctx, rec)
	if err != nil {
		d.logger.ErrorContext(ctx, "ledger record failed, outcome not persisted",
			slog.String("order_id", rec.OrderID),
			slog.String("status", string(rec.Status)),
			slog.String("volume", entry.Volume.String()),
			slog.String("loss", entry.Loss.String()),
			slog.String("error", err.Error()),
		)
	}
	if d.execs != nil {
		if err := d.execs.Save(pctx, rec); err != nil {
			d.logger.WarnContext(ctx, "execution save failed",
				slog.String("order_id", rec.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	d.publish(pctx, rec)
	d.notify(pctx, rec, execErr)

	// Run-time accounting still sees an outcome the store failed to keep.
	if d.onEntry != nil && entry.OrderID != "" {
		d.onEntry(entry)
	}
	if err != nil {
		return entry, false
	}
	return entry, true
}

// Wait blocks until every dispatched order has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// InFlight returns the number of running orders.
func (d *Dispatcher) InFlight() int {
	return len(d.sem)
}

func (d *Dispatcher) publish(ctx context.Context, rec domain.ExecutionRecord) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err == nil {
		err = d.bus.Publish(ctx, domain.ChannelExecutions, payload)
	}
	if err != nil {
		d.logger.WarnContext(ctx, "execution publish failed",
			slog.String("order_id", rec.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) notify(ctx context.Context, rec domain.ExecutionRecord, cause error) {
	if d.notifier == nil {
		return
	}
	var err error
	switch {
	case errors.Is(cause, domain.ErrPartialLegFailure):
		// Always delivered: the wallet holds the base token and needs manual unwinding.
		err = d.notifier.NotifyAll(ctx, "Partial leg failure",
			fmt.Sprintf("order %s on %s: buy leg mined, sell leg did not complete: %s",
				rec.OrderID, rec.Key, rec.FailureReason))
	case rec.Status == domain.ExecConfirmed:
		err = d.notifier.Notify(ctx, EventTradeConfirmed, "Trade confirmed",
			fmt.Sprintf("order %s on %s: amount %s, profit %s, gas %s",
				rec.OrderID, rec.Key, rec.Amount, rec.RealizedProfit.StringFixed(6), rec.GasCost.StringFixed(6)))
	default:
		err = d.notifier.Notify(ctx, EventTradeFailed, "Trade "+string(rec.Status),
			fmt.Sprintf("order %s on %s: %s", rec.OrderID, rec.Key, rec.FailureReason))
	}
	if err != nil {
		d.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}
