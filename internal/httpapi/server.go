// Package httpapi exposes the blob store over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gezibash/arc-botstore/internal/blobstore"
	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/middleware"
	"github.com/gezibash/arc-botstore/internal/monitor"
)

// Store is the part of *blobstore.BlobStore the API serves.
type Store interface {
	Store(ctx context.Context, owner, filename string, data []byte) (blobstore.Reference, error)
	Proxy(ctx context.Context, owner string, ref blobstore.Reference) (*blobstore.Content, error)
	Delete(ctx context.Context, ref blobstore.Reference) error
	Health(ctx context.Context) blobstore.Health
	RetryAfter() time.Duration
	MaxBlobSize() int64
	Monitor() *monitor.Monitor
	Pool() *pool.Pool
}

var _ Store = (*blobstore.BlobStore)(nil)

// Options tunes the server.
type Options struct {
	// ServiceToken, when set, must accompany every call in X-Service-Token.
	ServiceToken      string
	ReadHeaderTimeout time.Duration
	// WriteTimeout bounds a whole response, including a full retry cycle.
	WriteTimeout time.Duration
}

// Server is a listening HTTP API server.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// New binds addr and prepares the API. Serve starts accepting.
func New(addr string, store Store, opts Options) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Minute
	}

	return &Server{
		srv: &http.Server{
			Handler:           Handler(store, opts),
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		listener: lis,
	}, nil
}

// Serve blocks until the server stops. A graceful stop returns nil.
func (s *Server) Serve() error {
	slog.Info("http api listening", "addr", s.Addr())
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler builds the routed handler. Blob routes require X-Owner-ID.
func Handler(store Store, opts Options) http.Handler {
	h := &handlers{store: store}

	base := &middleware.Chain{
		Pre:  []middleware.Hook{middleware.RequestID(), middleware.ServiceToken(opts.ServiceToken)},
		Post: []middleware.Hook{middleware.AccessLog()},
	}
	owned := base.With(middleware.RequireOwner())

	mux := http.NewServeMux()
	mux.Handle("POST /v1/blobs", owned.Handler(http.HandlerFunc(h.upload)))
	mux.Handle("GET /v1/blobs/{backend}/{file...}", owned.Handler(http.HandlerFunc(h.download)))
	mux.Handle("DELETE /v1/blobs/{backend}/{file...}", owned.Handler(http.HandlerFunc(h.delete)))

	mux.Handle("GET /v1/health", base.Handler(http.HandlerFunc(h.health)))
	mux.Handle("GET /v1/alerts", base.Handler(http.HandlerFunc(h.alerts)))
	mux.Handle("POST /v1/alerts/{id}/resolve", base.Handler(http.HandlerFunc(h.resolveAlert)))
	mux.Handle("POST /v1/backends/{id}/activate", base.Handler(h.setActive(true)))
	mux.Handle("POST /v1/backends/{id}/deactivate", base.Handler(h.setActive(false)))
	return mux
}
