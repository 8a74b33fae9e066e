// Package redis backs the writer lease, request-replay locks, rate limiting
// and the event bus with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces keys when ClientConfig.KeyPrefix is empty.
const DefaultKeyPrefix = "bondescrow:"

// ClientConfig mirrors config.RedisConfig.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix applies to lock and rate-limit keys only. Channels and
	// streams keep their bare names so other consumers can find them.
	KeyPrefix string
}

func (cfg ClientConfig) options() *redis.Options {
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
	return opts
}

// Client is a connected go-redis client plus the node's key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New dials Redis and fails unless the first PING succeeds.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{rdb: redis.NewClient(cfg.options()), prefix: cfg.KeyPrefix}
	if c.prefix == "" {
		c.prefix = DefaultKeyPrefix
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping serves as the health probe for /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// Key namespaces name under the configured prefix.
func (c *Client) Key(name string) string { return c.prefix + name }

// Underlying exposes the driver to the lock, limiter and bus types.
func (c *Client) Underlying() *redis.Client { return c.rdb }
