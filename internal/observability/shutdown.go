package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator stops gateway components in reverse start order, so
// the HTTP server drains before the store and the store before the tracer.
type ShutdownCoordinator struct {
	mu    sync.Mutex
	steps []shutdownStep
	done  bool
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

// Register appends a step. Steps registered after Shutdown has run are
// ignored.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		slog.Warn("shutdown step registered too late", "component", name)
		return
	}
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown runs every step once, newest first, and joins their errors.
// Later calls return nil.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		start := time.Now()
		if err := step.fn(ctx); err != nil {
			slog.Error("component stop failed", "component", step.name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", step.name, err))
			continue
		}
		slog.Debug("component stopped", "component", step.name, "elapsed", time.Since(start))
	}
	return errors.Join(errs...)
}
