// Package ledger is the append-only record of every terminal execution with
// running volume, profit and loss totals.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Ledger is the single writer for ledger entries. Record is serialized so
// sequence numbers and running totals stay consistent.
type Ledger struct {
	store  domain.LedgerStore
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	seq    int64
	totals domain.Totals
	byKind map[domain.PlanKind]domain.Totals
}

// Open replays store to restore the totals and returns a ledger ready to
// append.
func Open(ctx context.Context, store domain.LedgerStore, logger *slog.Logger) (*Ledger, error) {
	entries, err := store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	l := &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
		now:    func() time.Time { return time.Now().UTC() },
		byKind: make(map[domain.PlanKind]domain.Totals),
	}
	for _, e := range entries {
		l.fold(e)
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
	l.logger.InfoContext(ctx, "ledger restored",
		slog.Int64("entries", l.totals.Entries),
		slog.String("volume", l.totals.CumulativeVolume.String()),
		slog.String("net", l.totals.Net().String()),
	)
	return l, nil
}

func (l *Ledger) fold(e domain.LedgerEntry) {
	l.totals = l.totals.Add(e)
	l.byKind[e.Kind] = l.byKind[e.Kind].Add(e)
}

// Record appends the entry for a terminal record. The totals only advance
// once the store accepted the entry; on a store error the unsequenced
// projection is returned with it.
func (l *Ledger) Record(ctx context.Context, rec domain.ExecutionRecord) (domain.LedgerEntry, error) {
	if !rec.IsTerminal() {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: record %s: status %s is not terminal", rec.OrderID, rec.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Project(rec)
	entry.Seq = l.seq + 1
	entry.RecordedAt = l.now()
	next := l.totals.Add(entry)
	entry.CumulativeVolume = next.CumulativeVolume
	entry.CumulativeProfit = next.CumulativeProfit
	entry.CumulativeLoss = next.CumulativeLoss

	if err := l.store.Append(ctx, entry); err != nil {
		return Project(rec), fmt.Errorf("ledger: append %s: %w", rec.OrderID, err)
	}
	l.seq = entry.Seq
	l.fold(entry)

	l.logger.InfoContext(ctx, "ledger entry recorded",
		slog.Int64("seq", entry.Seq),
		slog.String("order_id", entry.OrderID),
		slog.String("status", string(entry.Status)),
		slog.String("volume", entry.Volume.String()),
		slog.String("profit", entry.Profit.String()),
		slog.String("loss", entry.Loss.String()),
	)
	return entry, nil
}

// Totals returns the running totals over all entries.
func (l *Ledger) Totals() domain.Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// KindTotals returns the running totals restricted to one plan kind.
func (l *Ledger) KindTotals(kind domain.PlanKind) domain.Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byKind[kind]
}

// Project converts a terminal record to its ledger entry without sequence or
// running totals.
//
// Confirmed orders book realized profit or loss on the full amount. Failed
// and reverted orders book no profit and lose at least the gas spent; if the
// buy leg was mined but the round trip did not complete, the buy input is
// counted as spent as well.
func Project(rec domain.ExecutionRecord) domain.LedgerEntry {
	e := domain.LedgerEntry{
		OrderID:       rec.OrderID,
		Kind:          rec.Kind,
		Pair:          rec.Key.Pair,
		BuyDEX:        rec.Key.BuyDEX,
		SellDEX:       rec.Key.SellDEX,
		Status:        rec.Status,
		FailureReason: rec.FailureReason,
		Volume:        decimal.Zero,
		Profit:        decimal.Zero,
		Loss:          decimal.Zero,
		GasCost:       rec.GasCost,
		TxHashes:      append([]string(nil), rec.TxHashes...),
	}

	if rec.Status == domain.ExecConfirmed {
		e.Volume = rec.Amount
		if rec.RealizedProfit.IsPositive() {
			e.Profit = rec.RealizedProfit
		} else {
			e.Loss = rec.RealizedProfit.Neg()
		}
		return e
	}

	buy, buyOK := rec.Leg(domain.LegBuy)
	sell, sellOK := rec.Leg(domain.LegSell)
	buyMined := buyOK && buy.Status == domain.ExecConfirmed
	sellMined := sellOK && sell.Status == domain.ExecConfirmed

	switch {
	case buyMined && sellMined:
		e.Volume = rec.Amount
		e.Loss = decimal.Max(rec.RealizedProfit.Neg(), rec.GasCost)
	case buyMined:
		e.Volume = buy.AmountIn
		e.Loss = buy.AmountIn.Add(rec.GasCost)
	default:
		e.Loss = decimal.Max(rec.RealizedProfit.Neg(), rec.GasCost)
	}
	return e
}

// Fold sums entries. The result does not depend on their order.
func Fold(entries []domain.LedgerEntry) domain.Totals {
	var t domain.Totals
	for _, e := range entries {
		t = t.Add(e)
	}
	return t
}
