// Package monitor keeps the alert history, derives overall system status
// from backend health and tracks daily per-caller usage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
)

// ErrAlertNotFound indicates an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

const (
	// DefaultMaxAlerts bounds the alert history.
	DefaultMaxAlerts = 500
	// DefaultFailureThreshold is the failure streak that raises a critical
	// backend-health alert.
	DefaultFailureThreshold = 3
	// degradedQuiet suppresses repeated degraded-selection alerts.
	degradedQuiet = time.Minute
)

// Status is the coarse health of the whole gateway.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Monitor is safe for concurrent use.
type Monitor struct {
	mu          sync.Mutex
	alerts      []Alert
	maxAlerts   int
	threshold   int
	failing     map[string]string    // backend id -> open failure alert id
	inactive    map[string]string    // backend id -> open deactivation alert id
	lastDegrade map[string]time.Time // backend id -> last degraded alert
	subscribers map[int]func(Alert)
	nextSub     int
	now         func() time.Time

	usage usageTracker
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMaxAlerts bounds the alert history.
func WithMaxAlerts(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxAlerts = n
		}
	}
}

// WithFailureThreshold sets the streak that raises a backend-health alert.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		maxAlerts:   DefaultMaxAlerts,
		threshold:   DefaultFailureThreshold,
		failing:     make(map[string]string),
		inactive:    make(map[string]string),
		lastDegrade: make(map[string]time.Time),
		subscribers: make(map[int]func(Alert)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.usage.init(m.now)
	return m
}

// Raise records a new alert and notifies subscribers.
func (m *Monitor) Raise(severity Severity, category Category, message string, metadata map[string]string) Alert {
	a := Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Category:  category,
		Message:   message,
		Timestamp: m.now(),
		Metadata:  maps.Clone(metadata),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.prune()
	subs := slices.Collect(maps.Values(m.subscribers))
	m.mu.Unlock()

	attrs := []any{"alert_id", a.ID, "severity", a.Severity, "category", a.Category}
	for k, v := range a.Metadata {
		attrs = append(attrs, k, v)
	}
	slog.Log(context.Background(), severity.level(), message, attrs...)

	for _, fn := range subs {
		fn(a)
	}
	return a
}

// prune drops the oldest resolved alerts, then the oldest non-critical
// ones, until the history fits. Unresolved critical alerts always stay.
// Caller holds m.mu.
func (m *Monitor) prune() {
	excess := len(m.alerts) - m.maxAlerts
	if excess <= 0 {
		return
	}
	drop := func(keep func(Alert) bool) {
		out := m.alerts[:0]
		for _, a := range m.alerts {
			if excess > 0 && !keep(a) {
				excess--
				continue
			}
			out = append(out, a)
		}
		clear(m.alerts[len(out):])
		m.alerts = out
	}
	drop(func(a Alert) bool { return !a.Resolved })
	if excess > 0 {
		drop(func(a Alert) bool { return a.Severity == SeverityCritical })
	}
}

// Resolve marks an alert resolved. Resolving twice is not an error.
func (m *Monitor) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(id)
}

func (m *Monitor) resolveLocked(id string) error {
	for i := range m.alerts {
		if m.alerts[i].ID != id {
			continue
		}
		if !m.alerts[i].Resolved {
			m.alerts[i].Resolved = true
			m.alerts[i].ResolvedAt = m.now()
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// Alerts returns matching alerts, oldest first.
func (m *Monitor) Alerts(f Filter) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.alerts {
		if f.match(a) {
			a.Metadata = maps.Clone(a.Metadata)
			out = append(out, a)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Subscribe registers fn for every new alert. Call the returned function
// to unsubscribe.
func (m *Monitor) Subscribe(fn func(Alert)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Status derives system status from backend snapshots and open alerts.
func (m *Monitor) Status(backends []pool.Backend) Status {
	active := 0
	for _, b := range backends {
		if b.Active {
			active++
		}
	}
	if len(backends) == 0 || active == 0 {
		return StatusCritical
	}
	if active*2 < len(backends) || m.hasOpenCritical() {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *Monitor) hasOpenCritical() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.Severity == SeverityCritical && !a.Resolved {
			return true
		}
	}
	return false
}

func backendMeta(b pool.Backend) map[string]string {
	return map[string]string{
		"backend":              b.ID,
		"label":                b.Label,
		"consecutive_failures": fmt.Sprint(b.ConsecutiveFailures),
	}
}

// OutcomeRecorded implements pool.Observer. A backend that reaches the
// failure threshold raises one critical alert per streak; the next
// success resolves it.
func (m *Monitor) OutcomeRecorded(b pool.Backend, o pool.Outcome) {
	if o.Err == nil {
		m.mu.Lock()
		recovered := false
		for _, open := range []map[string]string{m.failing, m.inactive} {
			if id, ok := open[b.ID]; ok {
				delete(open, b.ID)
				if id != "" {
					_ = m.resolveLocked(id)
				}
				recovered = true
			}
		}
		m.mu.Unlock()
		if recovered {
			slog.Info("backend recovered", "backend", b.ID)
		}
		return
	}

	if b.ConsecutiveFailures < m.threshold {
		return
	}
	m.mu.Lock()
	if _, open := m.failing[b.ID]; open {
		m.mu.Unlock()
		return
	}
	m.failing[b.ID] = ""
	m.mu.Unlock()

	meta := backendMeta(b)
	meta["reason"] = b.LastFailureReason
	a := m.Raise(SeverityCritical, CategoryBackendHealth,
		fmt.Sprintf("backend %s failing: %d consecutive failures", b.Label, b.ConsecutiveFailures), meta)

	m.mu.Lock()
	if _, still := m.failing[b.ID]; still {
		m.failing[b.ID] = a.ID
	} else {
		_ = m.resolveLocked(a.ID)
	}
	m.mu.Unlock()
}

// RateLimited implements pool.Observer.
func (m *Monitor) RateLimited(b pool.Backend, err error) {
	meta := backendMeta(b)
	meta["error"] = err.Error()
	m.Raise(SeverityWarning, CategoryRateLimit, fmt.Sprintf("backend %s rate limited", b.Label), meta)
}

// Deactivated implements pool.Observer.
func (m *Monitor) Deactivated(b pool.Backend) {
	a := m.Raise(SeverityCritical, CategoryBackendHealth,
		fmt.Sprintf("backend %s deactivated after %d consecutive failures", b.Label, b.ConsecutiveFailures), backendMeta(b))
	m.mu.Lock()
	m.inactive[b.ID] = a.ID
	m.mu.Unlock()
}

// Revived implements pool.Observer.
func (m *Monitor) Revived(b pool.Backend) {
	m.mu.Lock()
	if id, ok := m.inactive[b.ID]; ok {
		_ = m.resolveLocked(id)
		delete(m.inactive, b.ID)
	}
	m.mu.Unlock()
	m.Raise(SeverityInfo, CategoryBackendHealth, fmt.Sprintf("backend %s reactivated", b.Label), backendMeta(b))
}

// Degraded implements pool.Observer. Repeats for the same backend within a
// minute are dropped.
func (m *Monitor) Degraded(b pool.Backend) {
	m.mu.Lock()
	now := m.now()
	last, seen := m.lastDegrade[b.ID]
	quiet := seen && now.Sub(last) < degradedQuiet
	if !quiet {
		m.lastDegrade[b.ID] = now
	}
	m.mu.Unlock()
	if quiet {
		return
	}
	m.Raise(SeverityWarning, CategorySystem,
		fmt.Sprintf("no healthy backend available, using %s in degraded mode", b.Label), map[string]string{"backend": b.ID})
}

var _ pool.Observer = (*Monitor)(nil)
