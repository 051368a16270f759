package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// LedgerArchiver exports the ledger to cold storage.
type LedgerArchiver interface {
	Archive(ctx context.Context, at time.Time) (path string, entries int, err error)
}
