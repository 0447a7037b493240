// Package cache provides a Dragonfly/Redis client wrapper and an in-memory
// equivalent, used for derived progress summaries, the recently-active
// learner index and the sweep lock.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

// Store is the subset of cache operations the engine uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX sets key only if it does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Touch scores member in the sorted set at the given time.
	Touch(ctx context.Context, set, member string, at time.Time) error
	// MembersSince returns members scored at or after since, oldest first.
	MembersSince(ctx context.Context, set string, since time.Time) ([]string, error)
	// PruneBefore removes members scored before the given time.
	PruneBefore(ctx context.Context, set string, before time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}

// Cache wraps a Redis/Dragonfly client.
type Cache struct {
	Client *redis.Client
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New creates a new cache client.
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Cache{Client: client}, nil
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return b, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.Client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *Cache) Touch(ctx context.Context, set, member string, at time.Time) error {
	err := c.Client.ZAdd(ctx, set, redis.Z{Score: float64(at.Unix()), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", set, err)
	}
	return nil
}

func (c *Cache) MembersSince(ctx context.Context, set string, since time.Time) ([]string, error) {
	members, err := c.Client.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", set, err)
	}
	return members, nil
}

func (c *Cache) PruneBefore(ctx context.Context, set string, before time.Time) (int64, error) {
	n, err := c.Client.ZRemRangeByScore(ctx, set, "-inf", "("+strconv.FormatInt(before.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore %s: %w", set, err)
	}
	return n, nil
}
