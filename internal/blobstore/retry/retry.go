// Package retry runs backend operations with bounded exponential backoff,
// choosing a backend from the pool for every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
)

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       float64
}

// DefaultPolicy returns six attempts with 1s, 2s, 4s, 8s, 10s waits plus up
// to 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		Jitter:       0.1,
	}
}

// Delay returns the wait before retry number attempt (zero based), with r
// in [0,1) selecting the jitter.
func (p Policy) Delay(attempt int, r float64) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if ceiling := float64(p.MaxDelay); p.MaxDelay > 0 && base > ceiling {
		base = ceiling
	}
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	return time.Duration(base + r*p.Jitter*base)
}

// Op describes one logical operation.
type Op struct {
	Name string
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Backend pins every attempt to one backend instead of rotating. Used
	// when the data only exists on that backend.
	Backend string
}

// Attempt is the record of a single try.
type Attempt struct {
	Number   int
	Backend  pool.Backend
	Degraded bool
	Delay    time.Duration
	Latency  time.Duration
	Err      error
}

// Engine executes operations against a pool.
type Engine struct {
	pool         *pool.Pool
	policy       Policy
	shortCircuit bool
	sleep        func(context.Context, time.Duration) error
	random       func() float64
	onAttempt    []func(op string, a Attempt)
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the default backoff policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithShortCircuitPayload stops retrying when a backend rejects the payload
// itself, since another backend would reject it too.
func WithShortCircuitPayload(on bool) Option {
	return func(e *Engine) { e.shortCircuit = on }
}

// WithSleep overrides the wait between attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithRandom overrides the jitter source.
func WithRandom(fn func() float64) Option {
	return func(e *Engine) { e.random = fn }
}

// WithAttemptHook registers a callback invoked after every attempt.
func WithAttemptHook(fn func(op string, a Attempt)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onAttempt = append(e.onAttempt, fn)
		}
	}
}

// NewEngine creates an engine over p.
func NewEngine(p *pool.Pool, opts ...Option) *Engine {
	e := &Engine{
		pool:   p,
		policy: DefaultPolicy(),
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.MaxRetries < 0 {
		e.policy.MaxRetries = 0
	}
	return e
}

// Policy returns the engine's backoff policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) pick(op Op) (pool.Backend, pool.Selection, error) {
	if op.Backend == "" {
		return e.pool.Select()
	}
	b, ok := e.pool.Get(op.Backend)
	if !ok {
		return pool.Backend{}, pool.Selection{}, fmt.Errorf("%w: %s", pool.ErrUnknownBackend, op.Backend)
	}
	return b, pool.Selection{Degraded: !b.Active}, nil
}

// terminal reports whether err should end the operation without another
// attempt. A pinned operation would repeat the same request against the
// same backend, so a payload rejection is final there.
func (e *Engine) terminal(op Op, err error) bool {
	if transport.Classify(err) != transport.KindClientPayload {
		return false
	}
	return e.shortCircuit || op.Backend != ""
}

// Execute runs fn until it succeeds or the policy's attempts are used up.
// Every attempt gets a freshly selected backend and its outcome is recorded
// in the pool. A caller cancellation is returned as is and is not counted
// against the backend.
func Execute[T any](ctx context.Context, e *Engine, op Op, fn func(ctx context.Context, b pool.Backend) (T, error)) (T, error) {
	var zero T
	var (
		lastErr     error
		lastBackend string
		delay       time.Duration
	)

	attempts := e.policy.MaxRetries + 1
	for n := range attempts {
		if n > 0 {
			delay = e.policy.Delay(n-1, e.random())
			if err := e.sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("%s: %w", op.Name, err)
			}
		}

		b, sel, err := e.pick(op)
		if err != nil {
			return zero, fmt.Errorf("%s: %w", op.Name, err)
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if op.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, op.Timeout)
		}
		start := time.Now()
		v, err := fn(actx, b)
		latency := time.Since(start)
		cancel()

		if err != nil && ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op.Name, errors.Join(ctx.Err(), err))
		}

		_ = e.pool.RecordOutcome(b.ID, pool.Outcome{Err: err, Latency: latency})
		a := Attempt{Number: n + 1, Backend: b, Degraded: sel.Degraded, Delay: delay, Latency: latency, Err: err}
		for _, hook := range e.onAttempt {
			hook(op.Name, a)
		}

		if err == nil {
			if n > 0 {
				slog.Info("operation succeeded after retry", "op", op.Name, "attempt", n+1, "backend", b.ID)
			}
			return v, nil
		}

		lastErr, lastBackend = err, b.ID
		kind := transport.Classify(err)
		if e.terminal(op, err) {
			slog.Warn("operation failed permanently", "op", op.Name, "attempt", n+1, "backend", b.ID, "kind", kind, "error", err)
			return zero, fmt.Errorf("%s: %w", op.Name, err)
		}
		slog.Warn("operation attempt failed", "op", op.Name, "attempt", n+1, "of", attempts, "backend", b.ID, "kind", kind, "error", err)
	}

	return zero, &ExhaustedError{Op: op.Name, Attempts: attempts, LastBackend: lastBackend, Cause: lastErr}
}
