package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// unlockLua deletes the lock only while it still carries the caller's token,
// so an expired holder cannot release a lock someone else has taken since.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX.
type LockManager struct {
	c      *Client
	unlock *redis.Script
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, unlock: redis.NewScript(unlockLua)}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. A zero ttl
// holds the lock until it is released. The returned func is idempotent and
// releases with its own timeout so it still works after ctx is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(uctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
