package blobstore

import (
	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/retry"
	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/observability"
)

func (s *BlobStore) observeAttempt(op string, a retry.Attempt) {
	result := "ok"
	if a.Err != nil {
		result = transport.Classify(a.Err).String()
	}
	s.metrics.BackendAttempts.WithLabelValues(a.Backend.ID, result).Inc()
	s.metrics.BackendLatency.WithLabelValues(a.Backend.ID).Observe(a.Latency.Seconds())
	if a.Number > 1 {
		s.metrics.RetryAttempts.WithLabelValues(op).Inc()
	}
}

// gaugeObserver mirrors each backend's active flag into a gauge.
type gaugeObserver struct {
	m *observability.Metrics
}

func (g gaugeObserver) set(b pool.Backend) {
	v := 0.0
	if b.Active {
		v = 1
	}
	g.m.BackendActive.WithLabelValues(b.ID).Set(v)
}

func (g gaugeObserver) OutcomeRecorded(b pool.Backend, _ pool.Outcome) { g.set(b) }
func (g gaugeObserver) RateLimited(pool.Backend, error)                {}
func (g gaugeObserver) Deactivated(b pool.Backend)                     { g.set(b) }
func (g gaugeObserver) Revived(b pool.Backend)                         { g.set(b) }
func (g gaugeObserver) Degraded(pool.Backend)                          {}
