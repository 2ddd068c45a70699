package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gezibash/arc-botstore/internal/config"
	"github.com/gezibash/arc-botstore/internal/observability"
	"github.com/gezibash/arc-botstore/pkg/client"
	"github.com/spf13/viper"
)

// CommandConfig configures a client command.
type CommandConfig struct {
	// Name identifies this command in logs.
	Name string

	// Viper holds the command's flags. ConfigFile, when set, is read on top.
	Viper      *viper.Viper
	ConfigFile string

	// Timeout for the whole command. Zero means no timeout.
	Timeout time.Duration

	// Out receives rendered results. Defaults to stdout.
	Out io.Writer

	// Run is the command's business logic.
	Run func(ctx context.Context, c *client.Client, out *Output) error
}

// RunCommand loads config, sets up file logging, dials the gateway and runs
// the command under its timeout.
func RunCommand(ctx context.Context, cfg CommandConfig) error {
	if cfg.Name == "" {
		return errors.New("command name required")
	}
	if cfg.Viper == nil {
		return errors.New("viper required")
	}
	if cfg.Run == nil {
		return errors.New("run function required")
	}

	var base config.BaseConfig
	if err := config.LoadInto(cfg.Viper, cfg.ConfigFile, &base, config.DefaultDataDir()); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	closeLog := setupFileLogging(base)
	defer closeLog()

	server := base.ResolvedServer()
	c, err := client.New(server,
		client.WithOwner(base.ResolvedOwner()),
		client.WithServiceToken(base.ServiceToken),
	)
	if err != nil {
		return err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	slog.DebugContext(ctx, "command started", "command", cfg.Name, "server", server)
	out := NewOutputFromViper(cfg.Viper).WithServer(server)
	if cfg.Out != nil {
		out.w = cfg.Out
	}
	err = cfg.Run(ctx, c, out)
	slog.DebugContext(ctx, "command finished", "command", cfg.Name, "error", err)
	return err
}

// setupFileLogging sends client logs to {data_dir}/log/cli.log so they never
// mix with command output. Logging stays on stderr if the file can't be opened.
func setupFileLogging(base config.BaseConfig) func() {
	level := base.Observability.LogLevel
	logDir := filepath.Join(base.ResolvedDataDir(), "log")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		observability.SetupLogger(level, "pretty", os.Stderr)
		return func() {}
	}
	f, err := os.OpenFile(filepath.Join(logDir, "cli.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is built from the data dir
	if err != nil {
		observability.SetupLogger(level, "pretty", os.Stderr)
		return func() {}
	}
	observability.SetupLogger(level, "json", f)
	return func() { _ = f.Close() }
}
