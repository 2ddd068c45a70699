// Package transport defines the driver interface for the third-party
// services that hold blob bytes, and a registry of named drivers.
package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gezibash/arc-botstore/internal/storage"
)

// Transport moves blob bytes to and from one backend account.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Upload stores data under the given storage name and returns the
	// backend-issued file identifier.
	Upload(ctx context.Context, name string, data []byte) (fileID string, err error)

	// ResolveURL returns a short-lived URL from which the raw bytes of fileID
	// can be fetched, together with the lifetime the backend grants it.
	// The URL may embed credentials and must never reach untrusted clients.
	ResolveURL(ctx context.Context, fileID string) (url string, ttl time.Duration, err error)

	Close() error
}

// Limiter is implemented by transports that enforce a per-blob size ceiling.
type Limiter interface {
	MaxUploadBytes() int64
}

// Factory creates a Transport from a driver configuration map.
type Factory func(ctx context.Context, config map[string]string) (Transport, error)

// DefaultsFunc returns the default configuration for a driver.
type DefaultsFunc func() map[string]string

type registration struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register adds a driver factory to the registry.
// Panics if a driver with the same name is already registered.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("transport: driver %q already registered", name))
	}
	registry[name] = registration{factory: factory, defaults: defaults}
}

// New creates a Transport using the named driver.
// Config values are merged over the driver's defaults.
func New(ctx context.Context, name string, config map[string]string) (Transport, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transport: unknown driver %q (registered: %v)", name, Drivers())
	}

	merged := config
	if reg.defaults != nil {
		merged = storage.MergeConfig(reg.defaults(), config)
	}
	return reg.factory(ctx, merged)
}

// Drivers returns the names of all registered drivers, sorted.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a driver with the given name exists.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
