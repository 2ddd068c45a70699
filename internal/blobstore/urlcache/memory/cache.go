// Package memory provides an in-process URL cache backed by ttlcache.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/gezibash/arc-botstore/internal/blobstore/urlcache"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const (
	KeyTTL        = "ttl"
	KeyMaxEntries = "max_entries"
)

func init() {
	urlcache.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory cache.
func Defaults() map[string]string {
	return map[string]string{
		KeyTTL:        urlcache.DefaultTTL.String(),
		KeyMaxEntries: "0",
	}
}

// NewFactory creates a memory cache from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (urlcache.Cache, error) {
	ttl, err := storage.GetDuration(config, KeyTTL, urlcache.DefaultTTL)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("memory", KeyTTL, config[KeyTTL], err.Error())
	}
	if ttl <= 0 {
		return nil, storage.NewConfigErrorWithValue("memory", KeyTTL, config[KeyTTL], "must be positive")
	}
	maxEntries, err := storage.GetInt64(config, KeyMaxEntries, 0)
	if err != nil || maxEntries < 0 {
		return nil, storage.NewConfigErrorWithValue("memory", KeyMaxEntries, config[KeyMaxEntries], "must be a non-negative integer")
	}

	slog.Info("memory url cache initialized", "ttl", ttl, "max_entries", maxEntries)
	return New(ttl, uint64(maxEntries), time.Now), nil
}

type entry struct {
	url     string
	expires time.Time
}

// Cache is a urlcache.Cache held in process memory.
type Cache struct {
	items *ttlcache.Cache[string, entry]
	ttl   time.Duration
	now   func() time.Time
	urlcache.Counters
}

// New creates a memory cache. A zero maxEntries means unbounded.
func New(ttl time.Duration, maxEntries uint64, now func() time.Time) *Cache {
	opts := []ttlcache.Option[string, entry]{
		ttlcache.WithTTL[string, entry](ttl),
		ttlcache.WithDisableTouchOnHit[string, entry](),
	}
	if maxEntries > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, entry](maxEntries))
	}
	return &Cache{
		items: ttlcache.New[string, entry](opts...),
		ttl:   ttl,
		now:   now,
	}
}

// Get returns the URL for key if it has not expired.
func (c *Cache) Get(_ context.Context, key string) (string, bool) {
	item := c.items.Get(key)
	if item == nil {
		c.Observe(false)
		return "", false
	}
	e := item.Value()
	if !c.now().Before(e.expires) {
		c.items.Delete(key)
		c.Observe(false)
		return "", false
	}
	c.Observe(true)
	return e.url, true
}

// Put stores url under key. A non-positive ttl uses the cache default.
func (c *Cache) Put(_ context.Context, key, url string, ttl time.Duration) {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	c.items.Set(key, entry{url: url, expires: c.now().Add(ttl)}, ttl)
}

// Delete drops key.
func (c *Cache) Delete(_ context.Context, key string) {
	c.items.Delete(key)
}

// Sweep removes every expired entry.
func (c *Cache) Sweep(_ context.Context) int {
	before := c.items.Len()
	c.items.DeleteExpired()

	now := c.now()
	var stale []string
	c.items.Range(func(item *ttlcache.Item[string, entry]) bool {
		if !now.Before(item.Value().expires) {
			stale = append(stale, item.Key())
		}
		return true
	})
	for _, key := range stale {
		c.items.Delete(key)
	}
	return before - c.items.Len()
}

// Stats returns hit and miss counts and the current entry count.
func (c *Cache) Stats(_ context.Context) urlcache.Stats {
	return c.Counters.Stats(c.items.Len())
}

// Close drops every entry.
func (c *Cache) Close() error {
	c.items.DeleteAll()
	return nil
}
