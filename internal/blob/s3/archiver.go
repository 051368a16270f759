package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/ledger"
)

// LedgerArchiver uploads full JSONL snapshots of the ledger. Local entries
// are never deleted; the archive is a copy.
type LedgerArchiver struct {
	writer domain.BlobWriter
	store  domain.LedgerStore
	logger *slog.Logger
}

// NewLedgerArchiver creates a LedgerArchiver reading from store.
func NewLedgerArchiver(writer domain.BlobWriter, store domain.LedgerStore, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "ledger_archiver")),
	}
}

// ArchivePath returns the object path of a snapshot taken at t.
func ArchivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("ledger/%04d/%02d/%02d/ledger-%s.jsonl",
		t.Year(), t.Month(), t.Day(), t.Format("20060102T150405Z"))
}

// Archive uploads the ledger as of at. An empty ledger uploads nothing and
// returns an empty path.
func (a *LedgerArchiver) Archive(ctx context.Context, at time.Time) (string, int, error) {
	entries, err := a.store.ReadAll(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive: read ledger: %w", err)
	}
	if len(entries) == 0 {
		return "", 0, nil
	}
	body, err := ledger.EncodeLines(entries)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive: encode: %w", err)
	}

	path := ArchivePath(at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger archived",
		slog.String("path", path),
		slog.Int("entries", len(entries)),
	)
	return path, len(entries), nil
}

// Run archives every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (a *LedgerArchiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, _, err := a.Archive(ctx, now); err != nil {
				a.logger.WarnContext(ctx, "ledger archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

var _ domain.LedgerArchiver = (*LedgerArchiver)(nil)
