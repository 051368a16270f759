package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// LedgerStore implements domain.LedgerStore on the ledger_entries table.
// Rows are only ever inserted; seq is the primary key so a replayed append
// fails instead of duplicating.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Append inserts one entry.
func (s *LedgerStore) Append(ctx context.Context, e domain.LedgerEntry) error {
	hashes := e.TxHashes
	if hashes == nil {
		hashes = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries (seq, order_id, kind, pair, buy_dex, sell_dex, status, failure_reason,
			volume, profit, loss, gas_cost, tx_hashes, recorded_at,
			cumulative_volume, cumulative_profit, cumulative_loss)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.Seq, e.OrderID, string(e.Kind), e.Pair, e.BuyDEX, e.SellDEX, string(e.Status), e.FailureReason,
		e.Volume, e.Profit, e.Loss, e.GasCost, hashes, e.RecordedAt,
		e.CumulativeVolume, e.CumulativeProfit, e.CumulativeLoss,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert ledger entry %d: %w", e.Seq, err)
	}
	return nil
}

// ReadAll returns every entry in seq order.
func (s *LedgerStore) ReadAll(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, order_id, kind, pair, buy_dex, sell_dex, status, failure_reason,
			volume::text, profit::text, loss::text, gas_cost::text, tx_hashes, recorded_at,
			cumulative_volume::text, cumulative_profit::text, cumulative_loss::text
		FROM ledger_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: read ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind, status, volume, profit, loss, gas, cumVolume, cumProfit, cumLoss string
		if err := rows.Scan(&e.Seq, &e.OrderID, &kind, &e.Pair, &e.BuyDEX, &e.SellDEX, &status, &e.FailureReason,
			&volume, &profit, &loss, &gas, &e.TxHashes, &e.RecordedAt,
			&cumVolume, &cumProfit, &cumLoss,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Kind = domain.PlanKind(kind)
		e.Status = domain.ExecStatus(status)
		if err := parseDecimals(
			field{&e.Volume, volume}, field{&e.Profit, profit}, field{&e.Loss, loss}, field{&e.GasCost, gas},
			field{&e.CumulativeVolume, cumVolume}, field{&e.CumulativeProfit, cumProfit}, field{&e.CumulativeLoss, cumLoss},
		); err != nil {
			return nil, fmt.Errorf("postgres: ledger entry %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read ledger: %w", err)
	}
	return out, nil
}

type field struct {
	dst *decimal.Decimal
	raw string
}

func parseDecimals(fields ...field) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return nil
}
