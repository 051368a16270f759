// Package redis backs the quote cache, the in-flight order lock and the
// signal bus with go-redis/v9. Every key and channel is namespaced so several
// agents can share one server.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes keys and channels when ClientConfig.Namespace is
// empty.
const DefaultNamespace = "dexarb"

// ClientConfig holds connection parameters.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string
}

// Client wraps a go-redis client with the agent's key namespace.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New connects and pings the server.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Client{rdb: rdb, ns: ns}, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) key(parts ...string) string {
	k := c.ns
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
