// Package urlcache caches short-lived retrieval URLs keyed by blob
// reference. Backends register themselves by name, like transports do.
package urlcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gezibash/arc-botstore/internal/storage"
)

// DefaultTTL keeps entries well inside the one hour lifetime of a Bot API
// download link.
const DefaultTTL = 50 * time.Minute

// Cache maps a reference key to a retrieval URL until the entry expires.
// Implementations must never return an entry past its expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, url string, ttl time.Duration)
	// Delete drops key so the next lookup misses.
	Delete(ctx context.Context, key string)
	// Sweep drops expired entries and returns how many it removed.
	Sweep(ctx context.Context) int
	Stats(ctx context.Context) Stats
	Close() error
}

// Stats reports cache effectiveness. The counters are informational only.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// HitRate returns hits over lookups, or zero before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Counters tracks hits and misses for a backend.
type Counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Observe counts one lookup.
func (c *Counters) Observe(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

// Stats returns the counters with the given size.
func (c *Counters) Stats(size int) Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}

// Factory creates a cache from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Cache, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc func() map[string]string

type registration struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	mu       sync.RWMutex
	backends = make(map[string]registration)
)

// Register makes a cache backend available by name. It panics on duplicates.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := backends[name]; dup {
		panic(fmt.Sprintf("urlcache: backend %q already registered", name))
	}
	backends[name] = registration{factory: factory, defaults: defaults}
}

// New creates the named cache, merging its defaults under config.
func New(ctx context.Context, name string, config map[string]string) (Cache, error) {
	mu.RLock()
	reg, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("urlcache: unknown backend %q (available: %v)", name, Backends())
	}
	if reg.defaults != nil {
		config = storage.MergeConfig(reg.defaults(), config)
	}
	return reg.factory(ctx, config)
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
