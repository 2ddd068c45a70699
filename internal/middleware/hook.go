// Package middleware runs ordered pre and post hooks around HTTP handlers.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request describes the HTTP call for hook processing. Status, Bytes and
// Duration are filled in before post hooks run.
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	RemoteAddr string
	RequestID  string
	Owner      string

	Status   int
	Bytes    int64
	Duration time.Duration
}

// Hook processes a call. Return a *Rejection to answer with a specific
// status; any other error answers 500.
type Hook func(ctx context.Context, req *Request) (context.Context, error)

// Rejection stops a request with an HTTP status.
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// Chain holds ordered pre and post hooks.
type Chain struct {
	Pre  []Hook
	Post []Hook
}

// RunPre executes pre-hooks in order. Stops on first error.
func (c *Chain) RunPre(ctx context.Context, req *Request) (context.Context, error) {
	return run(ctx, c.Pre, req)
}

// RunPost executes post-hooks in order. Stops on first error.
func (c *Chain) RunPost(ctx context.Context, req *Request) (context.Context, error) {
	return run(ctx, c.Post, req)
}

func run(ctx context.Context, hooks []Hook, req *Request) (context.Context, error) {
	for _, h := range hooks {
		var err error
		ctx, err = h(ctx, req)
		if err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// With returns a copy of c with extra pre-hooks appended.
func (c *Chain) With(pre ...Hook) *Chain {
	return &Chain{
		Pre:  append(append([]Hook(nil), c.Pre...), pre...),
		Post: c.Post,
	}
}

type recorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Handler wraps next with the chain.
func (c *Chain) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req := &Request{
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header,
			RemoteAddr: r.RemoteAddr,
		}
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}

		ctx, err := c.RunPre(r.Context(), req)
		if req.RequestID != "" {
			rec.Header().Set(HeaderRequestID, req.RequestID)
		}
		if err != nil {
			reject(rec, err)
		} else {
			next.ServeHTTP(rec, r.WithContext(ctx))
		}

		req.Status, req.Bytes, req.Duration = rec.status, rec.written, time.Since(start)
		if _, err := c.RunPost(ctx, req); err != nil {
			slog.WarnContext(ctx, "post hook failed", "path", req.Path, "error", err)
		}
	})
}

func reject(w http.ResponseWriter, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	var rj *Rejection
	if errors.As(err, &rj) {
		status, msg = rj.Status, rj.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Header names read or written by the stock hooks.
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderOwner        = "X-Owner-ID"
	HeaderServiceToken = "X-Service-Token"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	ownerKey
)

// RequestIDFrom returns the request id stored by RequestID.
func RequestIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

// OwnerFrom returns the caller stored by RequireOwner.
func OwnerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey).(string)
	return s
}

// RequestID keeps a caller-supplied X-Request-ID or mints a new one.
func RequestID() Hook {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		id := req.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		req.RequestID = id
		return context.WithValue(ctx, requestIDKey, id), nil
	}
}

// ServiceToken rejects calls whose X-Service-Token does not match token.
// An empty token disables the check.
func ServiceToken(token string) Hook {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		if token == "" {
			return ctx, nil
		}
		if subtle.ConstantTimeCompare([]byte(req.Header.Get(HeaderServiceToken)), []byte(token)) != 1 {
			return ctx, &Rejection{Status: http.StatusUnauthorized, Message: "unauthorized"}
		}
		return ctx, nil
	}
}

// RequireOwner rejects calls without an X-Owner-ID header.
func RequireOwner() Hook {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		owner := req.Header.Get(HeaderOwner)
		if owner == "" {
			return ctx, &Rejection{Status: http.StatusBadRequest, Message: "missing " + HeaderOwner + " header"}
		}
		req.Owner = owner
		return context.WithValue(ctx, ownerKey, owner), nil
	}
}

// AccessLog emits one line per finished request.
func AccessLog() Hook {
	return func(ctx context.Context, req *Request) (context.Context, error) {
		level := slog.LevelInfo
		if req.Status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "http",
			"method", req.Method,
			"path", req.Path,
			"status", req.Status,
			"duration_ms", req.Duration.Milliseconds(),
			"response_bytes", req.Bytes,
			"request_id", req.RequestID,
			"owner", req.Owner,
			"remote_addr", req.RemoteAddr,
		)
		return ctx, nil
	}
}
