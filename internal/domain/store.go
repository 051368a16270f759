package domain

import "context"

// LedgerStore is the ledger persistence interface. Implementations only
// append; entries are never updated or deleted.
type LedgerStore interface {
	Append(ctx context.Context, entry LedgerEntry) error
	ReadAll(ctx context.Context) ([]LedgerEntry, error)
}

// ExecutionStore keeps full execution records for inspection.
type ExecutionStore interface {
	Save(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	GetByID(ctx context.Context, orderID string) (ExecutionRecord, error)
}
