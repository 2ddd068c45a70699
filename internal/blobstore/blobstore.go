package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/retry"
	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/blobstore/urlcache"
	"github.com/gezibash/arc-botstore/internal/blobstore/urlcache/memory"
	"github.com/gezibash/arc-botstore/internal/monitor"
	"github.com/gezibash/arc-botstore/internal/observability"
	"github.com/gezibash/arc-botstore/internal/quota"
	"github.com/gezibash/arc-botstore/internal/scheduler"
)

const (
	// DefaultMaxBlobSize matches the largest document a local Bot API
	// server accepts.
	DefaultMaxBlobSize int64 = 2 << 30

	// urlMargin is kept between a cached URL's expiry and the lifetime the
	// backend granted it.
	urlMargin = 10 * time.Minute
)

// Config tunes the store. Zero values fall back to DefaultConfig.
type Config struct {
	MaxBlobSize    int64
	UploadTimeout  time.Duration
	ResolveTimeout time.Duration
	FetchTimeout   time.Duration
	CacheTTL       time.Duration
	// SweepInterval and ReviveInterval disable their job when negative.
	SweepInterval  time.Duration
	ReviveInterval time.Duration

	PoolOptions  []pool.Option
	RetryOptions []retry.Option
}

// DefaultConfig returns the stock timeouts and intervals.
func DefaultConfig() Config {
	return Config{
		MaxBlobSize:    DefaultMaxBlobSize,
		UploadTimeout:  30 * time.Second,
		ResolveTimeout: 15 * time.Second,
		FetchTimeout:   30 * time.Second,
		CacheTTL:       urlcache.DefaultTTL,
		SweepInterval:  10 * time.Minute,
		ReviveInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBlobSize <= 0 {
		c.MaxBlobSize = d.MaxBlobSize
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = d.UploadTimeout
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ReviveInterval == 0 {
		c.ReviveInterval = d.ReviveInterval
	}
	return c
}

// Backend pairs a pool entry with the driver that talks to it.
type Backend struct {
	Spec      pool.Spec
	Transport transport.Transport
}

// Deps are the collaborators of a BlobStore. Nil fields get in-process
// defaults: a memory URL cache, a fresh monitor, unlimited quota and a
// private metrics registry.
type Deps struct {
	Cache      urlcache.Cache
	Monitor    *monitor.Monitor
	Quota      quota.Checker
	Metrics    *observability.Metrics
	HTTPClient *http.Client
}

// Content is a proxied blob.
type Content struct {
	Data        []byte
	ContentType string
}

// Health is a point-in-time view of the store.
type Health struct {
	Status     monitor.Status           `json:"status"`
	Backends   []pool.Backend           `json:"backends"`
	Cache      urlcache.Stats           `json:"cache"`
	Alerts     []monitor.Alert          `json:"alerts"`
	Usage      map[string]monitor.Usage `json:"usage"`
	UsageSince time.Time                `json:"usage_since"`
	CheckedAt  time.Time                `json:"checked_at"`
}

// BlobStore stores blobs across a pool of backends.
type BlobStore struct {
	cfg        Config
	transports map[string]transport.Transport
	pool       *pool.Pool
	engine     *retry.Engine
	cache      urlcache.Cache
	monitor    *monitor.Monitor
	quota      quota.Checker
	metrics    *observability.Metrics
	client     *http.Client
	sched      *scheduler.Scheduler
	unsub      func()
}

// New assembles a store over backends. An empty backend list is valid; every
// upload then fails with ErrNoBackendAvailable.
func New(backends []Backend, deps Deps, cfg Config) (*BlobStore, error) {
	cfg = cfg.withDefaults()

	s := &BlobStore{
		cfg:        cfg,
		transports: make(map[string]transport.Transport, len(backends)),
		cache:      deps.Cache,
		monitor:    deps.Monitor,
		quota:      deps.Quota,
		metrics:    deps.Metrics,
		client:     deps.HTTPClient,
		sched:      scheduler.New(),
	}
	if s.cache == nil {
		s.cache = memory.New(cfg.CacheTTL, 0, time.Now)
	}
	if s.monitor == nil {
		s.monitor = monitor.New()
	}
	if s.quota == nil {
		s.quota = quota.Unlimited{}
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics()
	}
	if s.client == nil {
		s.client = &http.Client{}
	}

	specs := make([]pool.Spec, 0, len(backends))
	for _, b := range backends {
		if b.Transport == nil {
			return nil, fmt.Errorf("blobstore: backend %q has no transport", b.Spec.ID)
		}
		specs = append(specs, b.Spec)
		s.transports[b.Spec.ID] = b.Transport
		if l, ok := b.Transport.(transport.Limiter); ok && l.MaxUploadBytes() > 0 && l.MaxUploadBytes() < cfg.MaxBlobSize {
			s.cfg.MaxBlobSize = l.MaxUploadBytes()
		}
	}

	popts := append([]pool.Option{
		pool.WithObserver(s.monitor),
		pool.WithObserver(gaugeObserver{s.metrics}),
	}, cfg.PoolOptions...)
	p, err := pool.New(specs, popts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	s.pool = p
	for _, spec := range specs {
		s.metrics.BackendActive.WithLabelValues(spec.ID).Set(1)
	}

	ropts := append([]retry.Option{retry.WithAttemptHook(s.observeAttempt)}, cfg.RetryOptions...)
	s.engine = retry.NewEngine(p, ropts...)
	s.unsub = s.monitor.Subscribe(func(a monitor.Alert) {
		s.metrics.AlertsTotal.WithLabelValues(string(a.Severity), string(a.Category)).Inc()
	})

	slog.Info("blobstore initialized",
		"backends", len(specs),
		"max_blob_size", humanize.IBytes(uint64(s.cfg.MaxBlobSize)),
		"cache_ttl", cfg.CacheTTL,
	)
	return s, nil
}

// Pool returns the backend pool.
func (s *BlobStore) Pool() *pool.Pool { return s.pool }

// Monitor returns the monitor receiving pool events.
func (s *BlobStore) Monitor() *monitor.Monitor { return s.monitor }

// MaxBlobSize is the effective per-blob ceiling.
func (s *BlobStore) MaxBlobSize() int64 { return s.cfg.MaxBlobSize }

// Store uploads data under an obfuscated name and returns the reference of
// the backend that accepted it. Nothing is returned or counted unless an
// upload succeeded.
func (s *BlobStore) Store(ctx context.Context, owner, filename string, data []byte) (ref Reference, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "blobstore.store",
		attribute.String("owner", owner),
		attribute.Int("size_bytes", len(data)),
	)
	defer func() { op.End(err) }()

	size := int64(len(data))
	switch {
	case size == 0:
		s.countError("store", "empty")
		return Reference{}, ErrEmptyPayload
	case size > s.cfg.MaxBlobSize:
		s.countError("store", "too_large")
		return Reference{}, fmt.Errorf("%w: %s exceeds %s", ErrPayloadTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.cfg.MaxBlobSize)))
	}

	ok, err := s.quota.Check(ctx, owner, size)
	if err != nil {
		s.countError("store", "quota")
		return Reference{}, fmt.Errorf("quota check: %w", err)
	}
	if !ok {
		s.countError("store", "quota")
		s.monitor.Raise(monitor.SeverityWarning, monitor.CategoryCapacity,
			fmt.Sprintf("upload of %s refused for %s: quota exhausted", humanize.IBytes(uint64(size)), owner),
			map[string]string{"owner": owner, "size_bytes": fmt.Sprint(size)})
		return Reference{}, ErrQuotaExceeded
	}

	name := ObfuscatedName(filename)
	ref, err = retry.Execute(ctx, s.engine, retry.Op{Name: "upload", Timeout: s.cfg.UploadTimeout},
		func(ctx context.Context, b pool.Backend) (Reference, error) {
			fileID, err := s.transports[b.ID].Upload(ctx, name, data)
			if err != nil {
				return Reference{}, err
			}
			if fileID == "" {
				return Reference{}, &transport.Error{Kind: transport.KindTransient, Description: "backend returned no file id"}
			}
			return Reference{BackendID: b.ID, FileID: fileID}, nil
		})
	if err != nil {
		s.countError("store", errorType(err))
		return Reference{}, fmt.Errorf("store blob: %w", err)
	}
	op.Annotate("backend", ref.BackendID)

	if err := s.quota.Consume(ctx, owner, size); err != nil {
		slog.WarnContext(ctx, "quota consume failed", "owner", owner, "error", err)
	}
	s.monitor.RecordUpload(owner, size)
	s.metrics.BytesProcessed.WithLabelValues("in").Add(float64(size))

	slog.InfoContext(ctx, "blob stored", "ref", ref.Key(), "size", humanize.IBytes(uint64(size)))
	return ref, nil
}

type resolved struct {
	url string
	ttl time.Duration
}

// ResolveURL returns a retrieval URL for ref, from the cache when a fresh
// entry exists. The URL may carry backend credentials and must stay
// internal.
func (s *BlobStore) ResolveURL(ctx context.Context, ref Reference) (string, error) {
	if err := ref.validate(); err != nil {
		return "", err
	}
	if _, ok := s.transports[ref.BackendID]; !ok {
		return "", fmt.Errorf("%w: unknown backend %q", ErrNotFound, ref.BackendID)
	}

	key := ref.Key()
	if u, ok := s.cache.Get(ctx, key); ok {
		s.metrics.URLCacheRequests.WithLabelValues("hit").Inc()
		return u, nil
	}
	s.metrics.URLCacheRequests.WithLabelValues("miss").Inc()

	r, err := retry.Execute(ctx, s.engine, retry.Op{Name: "resolve", Timeout: s.cfg.ResolveTimeout, Backend: ref.BackendID},
		func(ctx context.Context, b pool.Backend) (resolved, error) {
			u, ttl, err := s.transports[b.ID].ResolveURL(ctx, ref.FileID)
			return resolved{url: u, ttl: ttl}, err
		})
	if err != nil {
		s.countError("resolve", errorType(err))
		if transport.Classify(err) == transport.KindClientPayload {
			return "", fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return "", fmt.Errorf("resolve url: %w", err)
	}

	if ttl := s.cacheTTL(r.ttl); ttl > 0 {
		s.cache.Put(ctx, key, r.url, ttl)
	}
	return r.url, nil
}

// lookup returns the cached URL for ref or asks its driver once.
func (s *BlobStore) lookup(ctx context.Context, ref Reference) (string, error) {
	key := ref.Key()
	if u, ok := s.cache.Get(ctx, key); ok {
		s.metrics.URLCacheRequests.WithLabelValues("hit").Inc()
		return u, nil
	}
	s.metrics.URLCacheRequests.WithLabelValues("miss").Inc()

	u, granted, err := s.transports[ref.BackendID].ResolveURL(ctx, ref.FileID)
	if err != nil {
		return "", err
	}
	if ttl := s.cacheTTL(granted); ttl > 0 {
		s.cache.Put(ctx, key, u, ttl)
	}
	return u, nil
}

// cacheTTL keeps a cached URL well inside the lifetime granted for it.
func (s *BlobStore) cacheTTL(granted time.Duration) time.Duration {
	ttl := s.cfg.CacheTTL
	if granted > 0 && granted-urlMargin < ttl {
		ttl = granted - urlMargin
	}
	return ttl
}

// Proxy fetches the bytes of ref on behalf of owner.
func (s *BlobStore) Proxy(ctx context.Context, owner string, ref Reference) (c *Content, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "blobstore.proxy",
		attribute.String("owner", owner),
		attribute.String("ref", ref.Key()),
	)
	defer func() { op.End(err) }()

	u, err := s.ResolveURL(ctx, ref)
	if err != nil {
		return nil, err
	}

	// A failed fetch evicts the URL so the next attempt resolves a new one.
	key := ref.Key()
	c, err = retry.Execute(ctx, s.engine, retry.Op{Name: "fetch", Timeout: s.cfg.FetchTimeout, Backend: ref.BackendID},
		func(ctx context.Context, _ pool.Backend) (*Content, error) {
			if u == "" {
				fresh, err := s.lookup(ctx, ref)
				if err != nil {
					return nil, err
				}
				u = fresh
			}
			c, err := s.fetch(ctx, u)
			if err != nil {
				s.cache.Delete(context.WithoutCancel(ctx), key)
				u = ""
			}
			return c, err
		})
	if err != nil {
		s.countError("fetch", errorType(err))
		if transport.Classify(err) == transport.KindClientPayload {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("proxy blob: %w", err)
	}

	size := int64(len(c.Data))
	s.monitor.RecordDownload(owner, size)
	s.metrics.BytesProcessed.WithLabelValues("out").Add(float64(size))
	return c, nil
}

func (s *BlobStore) fetch(ctx context.Context, rawURL string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, transport.FromStatus(resp.StatusCode, "fetch: "+http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBlobSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.cfg.MaxBlobSize {
		return nil, &transport.Error{Kind: transport.KindClientPayload, Code: http.StatusRequestEntityTooLarge, Description: "fetched blob exceeds size ceiling"}
	}
	return &Content{Data: data, ContentType: contentType(rawURL, resp.Header.Get("Content-Type"), data)}, nil
}

// contentType prefers the stored extension, then a specific header value,
// then sniffing.
func contentType(rawURL, header string, data []byte) string {
	if u, err := url.Parse(rawURL); err == nil {
		if t := mime.TypeByExtension(path.Ext(u.Path)); t != "" {
			return t
		}
	}
	if header != "" && !strings.HasPrefix(header, "application/octet-stream") {
		return header
	}
	return http.DetectContentType(data)
}

// Delete is a no-op. Backends keep uploaded bytes for good; the caller
// drops its own record of the reference.
func (s *BlobStore) Delete(ctx context.Context, ref Reference) error {
	slog.InfoContext(ctx, "delete requested, backend storage is append-only", "ref", ref.Key())
	return nil
}

// Health reports status, backend snapshots, cache stats, open alerts and
// today's usage.
func (s *BlobStore) Health(ctx context.Context) Health {
	backends := s.pool.Snapshot()
	usage, since := s.monitor.UsageAll()
	return Health{
		Status:     s.monitor.Status(backends),
		Backends:   backends,
		Cache:      s.cache.Stats(ctx),
		Alerts:     s.monitor.Alerts(monitor.Filter{Unresolved: true}),
		Usage:      usage,
		UsageSince: since,
		CheckedAt:  time.Now(),
	}
}

// RetryAfter estimates when a backend should accept work again.
func (s *BlobStore) RetryAfter() time.Duration {
	wait := s.pool.Cooldown(1)
	now := time.Now()
	for _, b := range s.pool.Snapshot() {
		if !b.Active {
			continue
		}
		if b.ConsecutiveFailures == 0 {
			return time.Second
		}
		if left := b.LastFailure.Add(s.pool.Cooldown(b.ConsecutiveFailures)).Sub(now); left < wait {
			wait = left
		}
	}
	return max(wait, time.Second)
}

// Start launches the cache sweep, backend revival and the daily usage reset.
func (s *BlobStore) Start(ctx context.Context) error {
	err := errors.Join(
		s.sched.Every("urlcache-sweep", s.cfg.SweepInterval, func(ctx context.Context) {
			if n := s.cache.Sweep(ctx); n > 0 {
				slog.Debug("url cache swept", "removed", n)
			}
		}),
		s.sched.Every("pool-revive", s.cfg.ReviveInterval, func(context.Context) {
			s.pool.Revive()
		}),
	)
	if err != nil {
		return err
	}
	s.monitor.Start()
	s.sched.Start(ctx)
	return nil
}

// Close stops background jobs and releases every driver, the cache and the
// quota checker.
func (s *BlobStore) Close() error {
	slog.Info("closing blobstore")
	s.sched.Stop()
	s.monitor.Stop()
	s.unsub()

	var errs []error
	for id, t := range s.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %s: %w", id, err))
		}
	}
	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close url cache: %w", err))
	}
	if err := s.quota.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close quota: %w", err))
	}
	return errors.Join(errs...)
}

func (s *BlobStore) countError(op, typ string) {
	s.metrics.ErrorsTotal.WithLabelValues(op, typ).Inc()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNoBackendAvailable):
		return "no_backend"
	case errors.Is(err, ErrRetryExhausted):
		return "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return transport.Classify(err).String()
	}
}
