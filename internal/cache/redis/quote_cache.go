package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// QuoteCache implements domain.QuoteCache. Each quote is a JSON string at
// {ns}:quote:{pair}:{dex} with a TTL so a stopped agent's prices age out.
type QuoteCache struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. ttl 0 keeps entries forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{c: c, ttl: ttl}
}

func (qc *QuoteCache) quoteKey(k domain.QuoteKey) string {
	return qc.c.key("quote", k.Pair, k.DEX)
}

// SetQuotes writes every quote in one pipeline.
func (qc *QuoteCache) SetQuotes(ctx context.Context, quotes domain.QuoteSet) error {
	if len(quotes) == 0 {
		return nil
	}
	pipe := qc.c.rdb.Pipeline()
	for k, q := range quotes {
		body, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("redis: marshal quote %s/%s: %w", k.DEX, k.Pair, err)
		}
		pipe.Set(ctx, qc.quoteKey(k), body, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}
	return nil
}

// GetQuotes returns the cached quotes for keys. Missing or expired keys are
// omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, keys []domain.QuoteKey) (domain.QuoteSet, error) {
	out := make(domain.QuoteSet, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = qc.quoteKey(k)
	}

	vals, err := qc.c.rdb.MGet(ctx, names...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var q domain.Quote
		if err := json.Unmarshal([]byte(s), &q); err != nil {
			return nil, fmt.Errorf("redis: decode quote %s: %w", names[i], err)
		}
		out[keys[i]] = q
	}
	return out, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
