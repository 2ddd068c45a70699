// Package quota decides whether a caller may store more bytes. Backends
// register by name and keep a running total of stored bytes per owner.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gezibash/arc-botstore/internal/storage"
)

// ErrClosed indicates the checker has been closed.
var ErrClosed = errors.New("quota checker closed")

// KeyLimitBytes is the per-owner ceiling shared by every backend.
// Zero or negative means no ceiling.
const KeyLimitBytes = "limit_bytes"

// Checker tracks per-owner storage consumption.
type Checker interface {
	// Check reports whether owner may store bytes more.
	Check(ctx context.Context, owner string, bytes int64) (bool, error)
	// Consume adds bytes to owner's total after a successful store.
	Consume(ctx context.Context, owner string, bytes int64) error
	// Used returns owner's current total.
	Used(ctx context.Context, owner string) (int64, error)
	Close() error
}

// Allowed applies a ceiling to a running total.
func Allowed(used, bytes, limit int64) bool {
	if limit <= 0 {
		return true
	}
	return used+bytes <= limit
}

// Factory creates a checker from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Checker, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc func() map[string]string

type registration struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register makes a backend available by name. It panics on duplicates.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("quota: backend %q already registered", name))
	}
	registry[name] = registration{factory: factory, defaults: defaults}
}

// New creates the named checker with config merged over its defaults.
func New(ctx context.Context, name string, config map[string]string) (Checker, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("quota: unknown backend %q (registered: %v)", name, Backends())
	}
	if reg.defaults != nil {
		config = storage.MergeConfig(reg.defaults(), config)
	}
	return reg.factory(ctx, config)
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("unlimited", func(context.Context, map[string]string) (Checker, error) {
		return Unlimited{}, nil
	}, nil)
}

// Unlimited admits everything and remembers nothing.
type Unlimited struct{}

func (Unlimited) Check(context.Context, string, int64) (bool, error) { return true, nil }
func (Unlimited) Consume(context.Context, string, int64) error       { return nil }
func (Unlimited) Used(context.Context, string) (int64, error)        { return 0, nil }
func (Unlimited) Close() error                                       { return nil }
