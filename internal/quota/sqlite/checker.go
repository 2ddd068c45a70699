// Package sqlite keeps per-owner quota totals in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gezibash/arc-botstore/internal/quota"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const (
	KeyPath        = "path"
	KeyBusyTimeout = "busy_timeout"
)

func init() {
	quota.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite checker.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.arc-botstore/quota.db",
		KeyBusyTimeout:     "5000",
		quota.KeyLimitBytes: "0",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS quota_usage (
    owner       TEXT PRIMARY KEY,
    used_bytes  INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL
);
`

// NewFactory opens or creates the quota database.
func NewFactory(ctx context.Context, config map[string]string) (quota.Checker, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("sqlite", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
	}

	limit, err := storage.GetInt64(config, quota.KeyLimitBytes, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", quota.KeyLimitBytes, config[quota.KeyLimitBytes], err.Error())
	}
	busyTimeout, err := storage.GetInt(config, KeyBusyTimeout, 5000)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyBusyTimeout, config[KeyBusyTimeout], err.Error())
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)", path, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite quota initialized", "path", path, "limit_bytes", limit)
	return &Checker{db: db, limit: limit}, nil
}

// Checker is a SQLite implementation of quota.Checker.
type Checker struct {
	db     *sql.DB
	limit  int64
	closed atomic.Bool
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

// Consume adds bytes to owner's total.
func (c *Checker) Consume(ctx context.Context, owner string, bytes int64) error {
	if c.closed.Load() {
		return quota.ErrClosed
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO quota_usage (owner, used_bytes, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			used_bytes = used_bytes + excluded.used_bytes,
			updated_at = excluded.updated_at`,
		owner, bytes, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite quota consume: %w", err)
	}
	return nil
}

// Used returns owner's stored total.
func (c *Checker) Used(ctx context.Context, owner string) (int64, error) {
	if c.closed.Load() {
		return 0, quota.ErrClosed
	}
	var used int64
	err := c.db.QueryRowContext(ctx, `SELECT used_bytes FROM quota_usage WHERE owner = ?`, owner).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite quota used: %w", err)
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
