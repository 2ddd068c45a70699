package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gezibash/arc-botstore/internal/blobstore"
	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/retry"
	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/blobstore/urlcache"
	"github.com/gezibash/arc-botstore/internal/config"
	"github.com/gezibash/arc-botstore/internal/httpapi"
	"github.com/gezibash/arc-botstore/internal/monitor"
	"github.com/gezibash/arc-botstore/internal/observability"
	"github.com/gezibash/arc-botstore/internal/quota"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 15 * time.Second

func newStartCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway",
		Long: `Start the blob storage gateway.

Bots come from the config file's bots list, or from ARC_BOTSTORE_BOT_TOKENS
(comma separated) together with ARC_BOTSTORE_BOT_CHANNEL.

Examples:
  arc-botstore start --config /etc/arc-botstore/botstore.yaml
  ARC_BOTSTORE_BOT_TOKENS=111:AAA,222:BBB ARC_BOTSTORE_BOT_CHANNEL=-1001 arc-botstore start
  arc-botstore start --cache redis --quota sqlite --addr :8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, v, os.Stderr)
		},
	}
	config.BindServeFlags(cmd, v)
	return cmd
}

func runStart(cmd *cobra.Command, v *viper.Viper, logOut io.Writer) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServer(v, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.Config{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		SampleRatio:    cfg.Observability.TraceSampleRatio,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, logOut)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obs.Close(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	store, err := buildStore(ctx, cfg, obs.Metrics)
	if err != nil {
		shutdown()
		return err
	}
	if cfg.Observability.MetricsAddr != "" {
		obs.ServeMetrics(cfg.Observability.MetricsAddr, func() error {
			if st := store.Monitor().Status(store.Pool().Snapshot()); st == monitor.StatusCritical {
				return fmt.Errorf("gateway is %s", st)
			}
			return nil
		})
	}
	obs.Shutdown.Register("blobstore", func(context.Context) error {
		return store.Close()
	})
	if err := store.Start(ctx); err != nil {
		shutdown()
		return fmt.Errorf("start blobstore: %w", err)
	}

	srv, err := httpapi.New(cfg.HTTP.Addr, store, httpapi.Options{
		ServiceToken: cfg.ServiceToken,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	})
	if err != nil {
		shutdown()
		return fmt.Errorf("create http server: %w", err)
	}
	obs.Shutdown.Register("http-server", srv.Stop)

	slog.Info("serving",
		"addr", srv.Addr(),
		"metrics", cfg.Observability.MetricsAddr,
		"backends", len(cfg.Bots),
		"max_blob_size", humanize.IBytes(uint64(store.MaxBlobSize())),
	)
	if len(cfg.Bots) == 0 {
		slog.Warn("no bots configured, every upload will fail until one is added")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdown()
		return <-errCh
	case err := <-errCh:
		shutdown()
		return err
	}
}

// buildStore wires transports, url cache, quota and monitor into a store.
func buildStore(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (_ *blobstore.BlobStore, err error) {
	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
		}
	}()

	backends := make([]blobstore.Backend, 0, len(cfg.Bots))
	for _, bot := range cfg.Bots {
		t, err := transport.New(ctx, bot.Driver, bot.DriverConfig())
		if err != nil {
			return nil, fmt.Errorf("bot %s: %w", bot.ID, err)
		}
		closers = append(closers, t)
		backends = append(backends, blobstore.Backend{
			Spec:      pool.Spec{ID: bot.ID, Label: bot.Label, Driver: bot.Driver},
			Transport: t,
		})
	}

	cacheCfg := maps.Clone(cfg.Cache.Config)
	if cacheCfg == nil {
		cacheCfg = make(map[string]string)
	}
	if cacheCfg["ttl"] == "" {
		cacheCfg["ttl"] = cfg.Cache.TTL.String()
	}
	cache, err := urlcache.New(ctx, cfg.Cache.Backend, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("url cache: %w", err)
	}
	closers = append(closers, cache)

	quotaCfg := maps.Clone(cfg.Quota.Config)
	if quotaCfg == nil {
		quotaCfg = make(map[string]string)
	}
	if quotaCfg["path"] == "" {
		switch cfg.Quota.Backend {
		case "sqlite":
			quotaCfg["path"] = filepath.Join(cfg.ResolvedDataDir(), "quota.db")
		case "badger":
			quotaCfg["path"] = filepath.Join(cfg.ResolvedDataDir(), "quota")
		}
	}
	q, err := quota.New(ctx, cfg.Quota.Backend, quotaCfg)
	if err != nil {
		return nil, fmt.Errorf("quota: %w", err)
	}
	closers = append(closers, q)

	mon := monitor.New(
		monitor.WithMaxAlerts(cfg.Monitor.MaxAlerts),
		monitor.WithFailureThreshold(cfg.Monitor.FailureThreshold),
	)

	store, err := blobstore.New(backends, blobstore.Deps{
		Cache:   cache,
		Monitor: mon,
		Quota:   q,
		Metrics: metrics,
	}, blobstore.Config{
		MaxBlobSize:    cfg.MaxBlobSize,
		UploadTimeout:  cfg.Timeouts.Upload,
		ResolveTimeout: cfg.Timeouts.Resolve,
		FetchTimeout:   cfg.Timeouts.Fetch,
		CacheTTL:       cfg.Cache.TTL,
		SweepInterval:  cfg.Cache.SweepInterval,
		ReviveInterval: cfg.Pool.ReviveInterval,
		PoolOptions: []pool.Option{
			pool.WithDeactivateAfter(cfg.Pool.DeactivateAfter),
			pool.WithCooldown(cfg.Pool.Cooldown),
			pool.WithReviveAfter(cfg.Pool.ReviveAfter),
		},
		RetryOptions: []retry.Option{
			retry.WithPolicy(retry.Policy{
				MaxRetries:   cfg.Retry.MaxRetries,
				InitialDelay: cfg.Retry.InitialDelay,
				Multiplier:   cfg.Retry.Multiplier,
				MaxDelay:     cfg.Retry.MaxDelay,
				Jitter:       cfg.Retry.Jitter,
			}),
			retry.WithShortCircuitPayload(cfg.Retry.ShortCircuitPayload),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create blobstore: %w", err)
	}
	return store, nil
}
