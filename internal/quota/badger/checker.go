// Package badger keeps per-owner quota totals in BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/arc-botstore/internal/quota"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const (
	KeyPath       = "path"
	KeySyncWrites = "sync_writes"
	KeyInMemory   = "in_memory"

	prefixUsage = "usage/"
	maxConflict = 64
)

func init() {
	quota.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB checker.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.arc-botstore/quota",
		KeySyncWrites:       "true",
		KeyInMemory:         "false",
		quota.KeyLimitBytes: "0",
	}
}

// NewFactory opens a BadgerDB checker.
func NewFactory(_ context.Context, config map[string]string) (quota.Checker, error) {
	limit, err := storage.GetInt64(config, quota.KeyLimitBytes, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", quota.KeyLimitBytes, config[quota.KeyLimitBytes], err.Error())
	}
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := storage.GetString(config, KeyPath, "")
		if path == "" {
			return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
		}
		path = storage.ExpandPath(path)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
		}
		syncWrites, err := storage.GetBool(config, KeySyncWrites, true)
		if err != nil {
			return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(syncWrites)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger quota initialized", "in_memory", inMemory, "limit_bytes", limit)
	return &Checker{db: db, limit: limit}, nil
}

// Checker is a BadgerDB implementation of quota.Checker.
type Checker struct {
	db     *badger.DB
	limit  int64
	closed atomic.Bool
}

func usageKey(owner string) []byte {
	return []byte(prefixUsage + owner)
}

func readUsed(txn *badger.Txn, owner string) (int64, error) {
	item, err := txn.Get(usageKey(owner))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var used int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt usage value for %q", owner)
		}
		used = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return used, err
}

// Check reports whether owner's total plus bytes stays within the limit.
func (c *Checker) Check(ctx context.Context, owner string, bytes int64) (bool, error) {
	if c.limit <= 0 {
		return true, nil
	}
	used, err := c.Used(ctx, owner)
	if err != nil {
		return false, err
	}
	return quota.Allowed(used, bytes, c.limit), nil
}

// Consume adds bytes to owner's total, retrying on transaction conflicts.
func (c *Checker) Consume(ctx context.Context, owner string, bytes int64) error {
	if c.closed.Load() {
		return quota.ErrClosed
	}
	for range maxConflict {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.db.Update(func(txn *badger.Txn) error {
			used, err := readUsed(txn, owner)
			if err != nil {
				return err
			}
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(used+bytes))
			return txn.Set(usageKey(owner), buf[:])
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("badger quota consume: %w", err)
		}
		return nil
	}
	return fmt.Errorf("badger quota consume: %w", badger.ErrConflict)
}

// Used returns owner's stored total.
func (c *Checker) Used(_ context.Context, owner string) (int64, error) {
	if c.closed.Load() {
		return 0, quota.ErrClosed
	}
	var used int64
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = readUsed(txn, owner)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("badger quota used: %w", err)
	}
	return used, nil
}

// Close closes the database.
func (c *Checker) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.db.Close()
}
