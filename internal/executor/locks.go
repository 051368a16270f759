package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// LocalLocks is an in-process domain.LockManager. Expired locks are treated
// as free so a crashed holder cannot wedge a key forever.
type LocalLocks struct {
	mu    sync.Mutex
	held  map[string]localLock
	now   func() time.Time
	token uint64
}

type localLock struct {
	token   uint64
	expires time.Time
}

// NewLocalLocks returns an empty lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]localLock), now: time.Now}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld if another holder
// owns an unexpired lock on key. A zero ttl never expires.
func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return nil, fmt.Errorf("executor: lock %s: %w", key, domain.ErrLockHeld)
	}

	l.token++
	lock := localLock{token: l.token}
	if ttl > 0 {
		lock.expires = now.Add(ttl)
	}
	l.held[key] = lock

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == lock.token {
				delete(l.held, key)
			}
		})
	}, nil
}
