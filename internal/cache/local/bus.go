// Package local provides in-process stand-ins for the Redis-backed cache
// components, used when Redis is disabled.
package local

import (
	"context"
	"sync"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const subscriberBuffer = 64

// Bus is an in-memory domain.SignalBus. Publish never blocks: a subscriber
// whose buffer is full misses the message.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers a copy of payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads that is closed when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

var _ domain.SignalBus = (*Bus)(nil)

// Subscribers returns the number of live subscriptions to channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
