// Package pool tracks the health of every configured backend account and
// decides which one the next operation should use.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
)

var (
	// ErrNoBackendAvailable indicates the pool holds no backends at all.
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrUnknownBackend indicates a backend id that is not part of the pool.
	ErrUnknownBackend = errors.New("unknown backend")
)

const (
	// DefaultDeactivateAfter is the failure streak that switches a backend off.
	DefaultDeactivateAfter = 5
	// DefaultCooldown is multiplied by the failure streak to get the
	// exclusion window after the most recent failure.
	DefaultCooldown = 60 * time.Second
	// latencyAlpha is the smoothing factor of the rolling latency average.
	latencyAlpha = 0.1
)

// Spec identifies a backend at construction time.
type Spec struct {
	ID     string
	Label  string
	Driver string
}

// Backend is a point-in-time view of one backend's identity and health.
// It never carries the credential secret.
type Backend struct {
	ID                  string        `json:"id"`
	Label               string        `json:"label"`
	Driver              string        `json:"driver"`
	Active              bool          `json:"active"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       int64         `json:"total_failures"`
	TotalRequests       int64         `json:"total_requests"`
	LastFailure         time.Time     `json:"last_failure,omitzero"`
	LastFailureReason   string        `json:"last_failure_reason,omitempty"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	AvgLatency          time.Duration `json:"avg_latency"`
	RateLimitHits       int64         `json:"rate_limit_hits"`
	// DeactivatedAt is when the backend last left rotation.
	DeactivatedAt time.Time `json:"deactivated_at,omitzero"`
	// SwitchedOff marks an operator switch-off. Neither Revive nor a
	// degraded-mode success brings such a backend back.
	SwitchedOff bool `json:"switched_off,omitempty"`
}

// Outcome is the result of one attempt against a backend.
// A nil Err means success.
type Outcome struct {
	Err     error
	Latency time.Duration
}

// Selection describes how a backend was chosen.
type Selection struct {
	// Degraded is set when no backend was eligible and the pick came from
	// the unfiltered pool.
	Degraded bool
	// Probation is set when the backend just left its cooldown window.
	Probation bool
}

// Observer receives health events. Calls happen outside the pool lock and
// may call back into the pool.
type Observer interface {
	OutcomeRecorded(b Backend, o Outcome)
	RateLimited(b Backend, err error)
	Deactivated(b Backend)
	Revived(b Backend)
	Degraded(b Backend)
}

// Pool is the shared, concurrency-safe set of backends.
type Pool struct {
	mu       sync.Mutex
	backends []*Backend
	index    map[string]*Backend
	cursor   uint64

	deactivateAfter int
	cooldown        time.Duration
	reviveAfter     time.Duration
	observers       []Observer
	now             func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithDeactivateAfter sets the failure streak that deactivates a backend.
func WithDeactivateAfter(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.deactivateAfter = n
		}
	}
}

// WithCooldown sets the per-failure cooldown unit.
func WithCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.cooldown = d
		}
	}
}

// WithReviveAfter sets how long an inactive backend stays off before Revive
// reinstates it. Zero disables revival.
func WithReviveAfter(d time.Duration) Option {
	return func(p *Pool) { p.reviveAfter = d }
}

// WithObserver adds an observer for health events.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New builds a pool with every backend active and a clean history.
func New(specs []Spec, opts ...Option) (*Pool, error) {
	p := &Pool{
		index:           make(map[string]*Backend, len(specs)),
		deactivateAfter: DefaultDeactivateAfter,
		cooldown:        DefaultCooldown,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("pool: backend with empty id")
		}
		if _, dup := p.index[s.ID]; dup {
			return nil, fmt.Errorf("pool: duplicate backend id %q", s.ID)
		}
		b := &Backend{ID: s.ID, Label: s.Label, Driver: s.Driver, Active: true}
		if b.Label == "" {
			b.Label = s.ID
		}
		p.backends = append(p.backends, b)
		p.index[s.ID] = b
	}
	return p, nil
}

// Observe adds an observer after construction.
func (p *Pool) Observe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Len returns the number of configured backends.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backends)
}

// Snapshot returns copies of every backend in configuration order.
func (p *Pool) Snapshot() []Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Backend, len(p.backends))
	for i, b := range p.backends {
		out[i] = *b
	}
	return out
}

// Get returns a copy of one backend.
func (p *Pool) Get(id string) (Backend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.index[id]
	if !ok {
		return Backend{}, false
	}
	return *b, true
}

// Select picks the backend for the next attempt.
//
// Eligible backends are active and either have no failure streak or have
// waited cooldown*streak since their last failure; the latter get their
// streak cleared on the way in. Eligible backends are served round-robin.
// With nothing eligible the whole pool is served round-robin instead and
// the selection is flagged degraded.
func (p *Pool) Select() (Backend, Selection, error) {
	p.mu.Lock()

	if len(p.backends) == 0 {
		p.mu.Unlock()
		return Backend{}, Selection{}, ErrNoBackendAvailable
	}

	now := p.now()
	eligible := make([]*Backend, 0, len(p.backends))
	probation := make(map[*Backend]bool)
	for _, b := range p.backends {
		if !b.Active {
			continue
		}
		if b.ConsecutiveFailures == 0 {
			eligible = append(eligible, b)
			continue
		}
		if now.Sub(b.LastFailure) >= p.cooldown*time.Duration(b.ConsecutiveFailures) {
			b.ConsecutiveFailures = 0
			probation[b] = true
			eligible = append(eligible, b)
		}
	}

	var sel Selection
	candidates := eligible
	if len(candidates) == 0 {
		candidates = p.backends
		sel.Degraded = true
	}

	picked := candidates[p.cursor%uint64(len(candidates))]
	p.cursor++
	sel.Probation = probation[picked]
	snap := *picked
	observers := p.observers
	p.mu.Unlock()

	if sel.Degraded {
		for _, o := range observers {
			o.Degraded(snap)
		}
	}
	return snap, sel, nil
}

// RecordOutcome applies the result of one attempt to the backend's health.
func (p *Pool) RecordOutcome(id string, o Outcome) error {
	p.mu.Lock()

	b, ok := p.index[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}

	now := p.now()
	b.TotalRequests++

	var rateLimited, deactivated bool
	if o.Err == nil {
		b.ConsecutiveFailures = 0
		b.LastSuccess = now
		if !b.SwitchedOff {
			b.Active = true
			b.DeactivatedAt = time.Time{}
		}
		b.AvgLatency = time.Duration(float64(b.AvgLatency)*(1-latencyAlpha) + float64(o.Latency)*latencyAlpha)
	} else {
		b.ConsecutiveFailures++
		b.TotalFailures++
		b.LastFailure = now
		b.LastFailureReason = o.Err.Error()

		if transport.Classify(o.Err) == transport.KindRateLimited {
			b.RateLimitHits++
			rateLimited = true
		}
		if b.Active && b.ConsecutiveFailures >= p.deactivateAfter {
			b.Active = false
			b.DeactivatedAt = now
			deactivated = true
		}
	}

	snap := *b
	observers := p.observers
	p.mu.Unlock()

	for _, obs := range observers {
		obs.OutcomeRecorded(snap, o)
		if rateLimited {
			obs.RateLimited(snap, o.Err)
		}
		if deactivated {
			obs.Deactivated(snap)
		}
	}
	return nil
}

// SetActive switches a backend on or off by hand. Switching on clears the
// failure streak; switching off holds until the next switch on.
func (p *Pool) SetActive(id string, active bool) error {
	p.mu.Lock()
	b, ok := p.index[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	was := b.Active
	b.Active = active
	b.SwitchedOff = !active
	if active {
		b.ConsecutiveFailures = 0
		b.DeactivatedAt = time.Time{}
	} else if was {
		b.DeactivatedAt = p.now()
	}
	snap := *b
	observers := p.observers
	p.mu.Unlock()

	for _, o := range observers {
		switch {
		case active && !was:
			o.Revived(snap)
		case !active && was:
			o.Deactivated(snap)
		}
	}
	return nil
}

// Revive reactivates backends that were taken out by their failure streak
// and have been out, with no further failure, for at least the revive
// window. Operator switch-offs are left alone. It returns the ids it
// reinstated.
func (p *Pool) Revive() []string {
	if p.reviveAfter <= 0 {
		return nil
	}

	p.mu.Lock()
	now := p.now()
	var revived []Backend
	for _, b := range p.backends {
		if b.Active || b.SwitchedOff {
			continue
		}
		since := b.DeactivatedAt
		if b.LastFailure.After(since) {
			since = b.LastFailure
		}
		if now.Sub(since) < p.reviveAfter {
			continue
		}
		b.Active = true
		b.ConsecutiveFailures = 0
		b.DeactivatedAt = time.Time{}
		revived = append(revived, *b)
	}
	observers := p.observers
	p.mu.Unlock()

	ids := make([]string, 0, len(revived))
	for _, b := range revived {
		ids = append(ids, b.ID)
		for _, o := range observers {
			o.Revived(b)
		}
	}
	return ids
}

// Cooldown returns the exclusion window for a failure streak of n.
func (p *Pool) Cooldown(n int) time.Duration {
	return p.cooldown * time.Duration(n)
}
