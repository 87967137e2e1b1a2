package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	value   string
	expires time.Time
}

// MemoryCache is an in-process Cache driven by an injected clock.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache uses now to decide expiry; nil means time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]entry), now: now}
}

func (c *MemoryCache) Put(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) TakeIfValid(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", ErrAbsent
	}
	delete(c.entries, key)
	if !c.now().Before(e.expires) {
		return "", ErrExpired
	}
	return e.value, nil
}

// RedisCache keeps codes under a prefix with a PX expiry. Redis drops
// expired keys, so an expired code reads as ErrAbsent.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "otp:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set otp: %w", err)
	}
	return nil
}

func (c *RedisCache) TakeIfValid(ctx context.Context, key string) (string, error) {
	value, err := c.client.GetDel(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAbsent
	}
	if err != nil {
		return "", fmt.Errorf("redis getdel otp: %w", err)
	}
	return value, nil
}
