// Package redis implements the quote cache, signal bus and API rate limiter
// on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// ClientConfig holds connection parameters for the Redis client.
//
// KeyPrefix namespaces the quote and rate limit keys so several deployments
// can share one Redis database. Pub/sub channels and the audit stream carry
// their own "cyclearb:" names and are not prefixed.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	KeyPrefix   string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Client owns the go-redis connection pool shared by the cache, bus and
// rate limiter.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// New dials Redis and verifies the connection with a PING before returning.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: dial,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		rdb:    redis.NewClient(opts),
		prefix: strings.TrimSuffix(cfg.KeyPrefix, ":"),
		logger: logger.With(slog.String("component", "redis")),
	}

	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	c.logger.InfoContext(ctx, "redis connected",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.String("key_prefix", c.prefix),
		slog.Duration("ping", time.Since(start)),
	)
	return c, nil
}

// Key builds a namespaced key from colon separated parts.
func (c *Client) Key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// Close logs the pool counters and closes the connection.
func (c *Client) Close() error {
	st := c.rdb.PoolStats()
	c.logger.Info("redis closing",
		slog.Uint64("hits", uint64(st.Hits)),
		slog.Uint64("misses", uint64(st.Misses)),
		slog.Uint64("timeouts", uint64(st.Timeouts)),
	)
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
