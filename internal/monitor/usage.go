package monitor

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Usage is one caller's activity since the last daily reset.
type Usage struct {
	Uploads       int64 `json:"uploads"`
	UploadBytes   int64 `json:"upload_bytes"`
	Downloads     int64 `json:"downloads"`
	DownloadBytes int64 `json:"download_bytes"`
}

type usageTracker struct {
	mu      sync.Mutex
	counts  map[string]Usage
	since   time.Time
	timer   *time.Timer
	running bool
	now     func() time.Time
}

func (u *usageTracker) init(now func() time.Time) {
	u.counts = make(map[string]Usage)
	u.now = now
	u.since = now()
}

// nextMidnight returns the start of the local day after t.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// RecordUpload counts a stored blob for owner.
func (m *Monitor) RecordUpload(owner string, bytes int64) {
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	c := m.usage.counts[owner]
	c.Uploads++
	c.UploadBytes += bytes
	m.usage.counts[owner] = c
}

// RecordDownload counts a proxied blob for owner.
func (m *Monitor) RecordDownload(owner string, bytes int64) {
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	c := m.usage.counts[owner]
	c.Downloads++
	c.DownloadBytes += bytes
	m.usage.counts[owner] = c
}

// Usage returns today's counters for owner.
func (m *Monitor) Usage(owner string) Usage {
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	return m.usage.counts[owner]
}

// UsageAll returns today's counters for every caller and the time they
// started accumulating.
func (m *Monitor) UsageAll() (map[string]Usage, time.Time) {
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	return maps.Clone(m.usage.counts), m.usage.since
}

// ResetUsage clears every counter.
func (m *Monitor) ResetUsage() {
	m.usage.mu.Lock()
	n := len(m.usage.counts)
	m.usage.counts = make(map[string]Usage)
	m.usage.since = m.usage.now()
	m.usage.mu.Unlock()
	slog.Info("daily usage counters reset", "callers", n)
}

// Start schedules the daily reset at each local midnight.
func (m *Monitor) Start() {
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	if m.usage.running {
		return
	}
	m.usage.running = true
	m.scheduleResetLocked()
}

func (m *Monitor) scheduleResetLocked() {
	now := m.usage.now()
	m.usage.timer = time.AfterFunc(nextMidnight(now).Sub(now), func() {
		m.ResetUsage()
		m.usage.mu.Lock()
		defer m.usage.mu.Unlock()
		if m.usage.running {
			m.scheduleResetLocked()
		}
	})
}

// Stop cancels the daily reset.
func (m *Monitor) Stop() {
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	m.usage.running = false
	if m.usage.timer != nil {
		m.usage.timer.Stop()
		m.usage.timer = nil
	}
}
