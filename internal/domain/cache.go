package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the latest quote mapping for other processes.
type QuoteCache interface {
	SetQuotes(ctx context.Context, quotes QuoteSet) error
	GetQuotes(ctx context.Context, keys []QuoteKey) (QuoteSet, error)
}

// LockManager provides mutual exclusion keyed by string. Acquire returns
// ErrLockHeld when the key is already held.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between the agent and its observers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channels.
const (
	ChannelQuotes     = "quotes"
	ChannelPlans      = "plans"
	ChannelExecutions = "executions"
)
