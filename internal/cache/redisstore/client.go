// Package redisstore keeps encoded per-cell entity lists in Redis so every
// server instance shares one tier.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
)

var _ cache.Store = (*Client)(nil)

var ErrInvalidTTL = errors.New("cell entries must expire")

// Config tunes the connection pool. Zero fields take the defaults below.
type Config struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 64
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 4
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	return c
}

type Client struct {
	rdb *redis.Client
}

// New connects and pings once, so a bad address fails at startup.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

// MGet returns the stored lists by key. Missing and expired keys are absent
// from the result and count as misses.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	start := time.Now()
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	if len(out) > 0 {
		observability.AddCacheHits(len(out))
	}
	if miss := len(keys) - len(out); miss > 0 {
		observability.AddCacheMisses(miss)
	}
	return out, nil
}

// Put writes every entry with its own TTL in a single pipeline. Nothing is
// sent when any entry lacks a positive TTL.
func (c *Client) Put(ctx context.Context, entries []cache.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.TTL <= 0 {
			return fmt.Errorf("%w: %q ttl=%s", ErrInvalidTTL, e.Key, e.TTL)
		}
	}

	start := time.Now()
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range entries {
			p.Set(ctx, e.Key, e.Value, e.TTL)
		}
		return nil
	})
	observability.ObserveCacheOp("put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis put %d entries: %w", len(entries), err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// Ping reports whether Redis answers; used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
