package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Dedup remembers submitted attempt ids so the same swap is never broadcast
// twice within the ttl window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // attemptID -> first submit time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup that remembers attempt ids for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records attemptID and returns ErrDuplicateAttempt if it was already
// claimed within the ttl window.
func (d *Dedup) Claim(attemptID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[attemptID]; ok && now.Sub(first) < d.ttl {
		return fmt.Errorf("executor: %w: %s", domain.ErrDuplicateAttempt, attemptID)
	}
	d.seen[attemptID] = now
	return nil
}

// Cleanup removes entries older than the ttl. Call it periodically to bound
// memory.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// AttemptID formats the idempotency key of the n-th submission of one leg.
func AttemptID(orderID string, side domain.LegSide, n int) string {
	return fmt.Sprintf("%s:%s:%d", orderID, side, n)
}
