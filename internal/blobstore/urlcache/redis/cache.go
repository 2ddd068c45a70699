// Package redis provides a URL cache shared between gateway instances
// through Redis. Expiry is left to Redis.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/arc-botstore/internal/blobstore/urlcache"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const (
	KeyAddr        = "addr"
	KeyPassword    = "password"
	KeyDB          = "db"
	KeyDialTimeout = "dial_timeout"
	KeyOpTimeout   = "op_timeout"
	KeyKeyPrefix   = "key_prefix"
	KeyTTL         = "ttl"

	scanBatch = 500
)

func init() {
	urlcache.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis cache.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:        "localhost:6379",
		KeyDB:          "0",
		KeyDialTimeout: "5s",
		KeyOpTimeout:   "500ms",
		KeyKeyPrefix:   "botstore:url:",
		KeyTTL:         urlcache.DefaultTTL.String(),
	}
}

// NewFactory connects to Redis and returns a cache.
func NewFactory(ctx context.Context, config map[string]string) (urlcache.Cache, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}
	db, err := storage.GetInt(config, KeyDB, 0)
	if err != nil || db < 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], "must be a non-negative integer")
	}
	dialTimeout, err := storage.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDialTimeout, config[KeyDialTimeout], err.Error())
	}
	opTimeout, err := storage.GetDuration(config, KeyOpTimeout, 500*time.Millisecond)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyOpTimeout, config[KeyOpTimeout], err.Error())
	}
	ttl, err := storage.GetDuration(config, KeyTTL, urlcache.DefaultTTL)
	if err != nil || ttl <= 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyTTL, config[KeyTTL], "must be a positive duration")
	}
	prefix := storage.GetString(config, KeyKeyPrefix, "botstore:url:")

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    storage.GetString(config, KeyPassword, ""),
		DB:          db,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis url cache initialized", "addr", addr, "db", db, "key_prefix", prefix, "ttl", ttl)
	return NewWithClient(client, prefix, ttl, opTimeout), nil
}

// Cache is a Redis implementation of urlcache.Cache.
type Cache struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	opTimeout time.Duration
	closed    atomic.Bool
	urlcache.Counters
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl, opTimeout time.Duration) *Cache {
	return &Cache{client: client, prefix: prefix, ttl: ttl, opTimeout: opTimeout}
}

func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get looks key up. Redis failures count as misses so a cache outage only
// costs an extra resolution.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.closed.Load() {
		c.Observe(false)
		return "", false
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	url, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("url cache get failed", "key", key, "error", err)
		}
		c.Observe(false)
		return "", false
	}
	c.Observe(true)
	return url, true
}

// Put stores url with a millisecond precision expiry.
func (c *Cache) Put(ctx context.Context, key, url string, ttl time.Duration) {
	if c.closed.Load() {
		return
	}
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.Set(ctx, c.prefix+key, url, ttl).Err(); err != nil {
		slog.Warn("url cache put failed", "key", key, "error", err)
	}
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.closed.Load() {
		return
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		slog.Warn("url cache delete failed", "key", key, "error", err)
	}
}

// Sweep is a no-op; Redis evicts expired keys on its own.
func (c *Cache) Sweep(context.Context) int {
	return 0
}

// Stats counts keys under the prefix with SCAN.
func (c *Cache) Stats(ctx context.Context) urlcache.Stats {
	size := 0
	if !c.closed.Load() {
		iter := c.client.Scan(ctx, 0, c.prefix+"*", scanBatch).Iterator()
		for iter.Next(ctx) {
			size++
		}
		if err := iter.Err(); err != nil {
			slog.Warn("url cache scan failed", "error", err)
		}
	}
	return c.Counters.Stats(size)
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.client.Close()
}
