package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// KV is the subset of Redis the namespace uses
type KV interface {
	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; ttl 0 means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	// Scan returns up to limit keys matching pattern
	Scan(ctx context.Context, pattern string, limit int64) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Client is the KV backed by go-redis
type Client struct {
	rdb *goredis.Client
}

// NewClient connects to the Redis server at url (e.g. redis://localhost:6379/0)
func NewClient(ctx context.Context, url string) (*Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("Redis connection initialized: %s", opts.Addr)
	return &Client{rdb: rdb}, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}

func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Exists(ctx, keys...).Result()
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.Expire(ctx, key, ttl).Result()
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// Scan walks the keyspace with SCAN, stopping once limit keys are collected.
func (c *Client) Scan(ctx context.Context, pattern string, limit int64) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if limit > 0 && int64(len(out)) >= limit {
			return out[:limit], nil
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	logger.Info("Redis connection closed")
	return c.rdb.Close()
}
