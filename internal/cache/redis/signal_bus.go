package redis

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// SignalBus implements domain.SignalBus over Redis Pub/Sub. Channel names are
// namespaced on the wire and exposed unprefixed to callers.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams payloads published to channel until ctx is cancelled,
// then closes the returned channel. The forwarder blocks once the buffer is
// full.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
