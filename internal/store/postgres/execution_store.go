package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Summary columns are kept
// for querying; the full record, legs included, lives in the record column.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Save upserts rec by order id.
func (s *ExecutionStore) Save(ctx context.Context, rec domain.ExecutionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution %s: %w", rec.OrderID, err)
	}
	var finished *time.Time
	if !rec.FinishedAt.IsZero() {
		finished = &rec.FinishedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (order_id, kind, pair, buy_dex, sell_dex, status, failure_reason,
			amount, realized_output, realized_profit, gas_cost, record, submitted_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			realized_output = EXCLUDED.realized_output,
			realized_profit = EXCLUDED.realized_profit,
			gas_cost = EXCLUDED.gas_cost,
			record = EXCLUDED.record,
			finished_at = EXCLUDED.finished_at`,
		rec.OrderID, string(rec.Kind), rec.Key.Pair, rec.Key.BuyDEX, rec.Key.SellDEX,
		string(rec.Status), rec.FailureReason,
		rec.Amount, rec.RealizedOutput, rec.RealizedProfit, rec.GasCost,
		body, rec.SubmittedAt, finished,
	)
	if err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", rec.OrderID, err)
	}
	return nil
}

// ListRecent returns the most recently submitted records, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM executions ORDER BY submitted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return out, nil
}

// GetByID returns the record for orderID or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, orderID string) (domain.ExecutionRecord, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM executions WHERE order_id = $1`, orderID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", orderID, err)
	}
	return decodeRecord(body)
}

func decodeRecord(body []byte) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: decode execution: %w", err)
	}
	return rec, nil
}
