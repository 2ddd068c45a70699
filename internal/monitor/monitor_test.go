package monitor

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(opts ...Option) (*Monitor, *clock) {
	clk := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	return New(append([]Option{WithClock(clk.Now)}, opts...)...), clk
}

func TestRaiseAndResolve(t *testing.T) {
	m, _ := newTestMonitor()
	meta := map[string]string{"k": "v"}
	a := m.Raise(SeverityWarning, CategorySystem, "something odd", meta)
	meta["k"] = "changed"

	if a.ID == "" || a.Resolved {
		t.Fatalf("alert = %+v", a)
	}
	got := m.Alerts(Filter{})
	if len(got) != 1 || got[0].Metadata["k"] != "v" {
		t.Fatalf("alerts = %+v", got)
	}

	if err := m.Resolve(a.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Resolve(a.ID); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if got := m.Alerts(Filter{Unresolved: true}); len(got) != 0 {
		t.Errorf("unresolved = %d, want 0", len(got))
	}
	if got := m.Alerts(Filter{}); !got[0].Resolved || got[0].ResolvedAt.IsZero() {
		t.Errorf("alert not marked resolved: %+v", got[0])
	}
	if err := m.Resolve("nope"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestFilter(t *testing.T) {
	m, _ := newTestMonitor()
	m.Raise(SeverityInfo, CategorySystem, "a", nil)
	m.Raise(SeverityCritical, CategoryBackendHealth, "b", nil)
	m.Raise(SeverityWarning, CategoryRateLimit, "c", nil)
	m.Raise(SeverityCritical, CategoryCapacity, "d", nil)

	if got := m.Alerts(Filter{Severity: SeverityCritical}); len(got) != 2 {
		t.Errorf("critical = %d, want 2", len(got))
	}
	if got := m.Alerts(Filter{Category: CategoryRateLimit}); len(got) != 1 || got[0].Message != "c" {
		t.Errorf("rate-limit = %+v", got)
	}
	got := m.Alerts(Filter{Limit: 2})
	if len(got) != 2 || got[0].Message != "c" || got[1].Message != "d" {
		t.Errorf("limit kept %+v, want newest two", got)
	}
}

func TestPruning(t *testing.T) {
	m, _ := newTestMonitor(WithMaxAlerts(4))

	crit := m.Raise(SeverityCritical, CategoryBackendHealth, "crit", nil)
	resolved := m.Raise(SeverityWarning, CategorySystem, "resolved", nil)
	_ = m.Resolve(resolved.ID)
	m.Raise(SeverityWarning, CategorySystem, "warn-1", nil)
	m.Raise(SeverityInfo, CategorySystem, "info-1", nil)

	// Resolved goes first.
	m.Raise(SeverityInfo, CategorySystem, "info-2", nil)
	assertMessages(t, m, "crit", "warn-1", "info-1", "info-2")

	// Then the oldest non-critical.
	m.Raise(SeverityInfo, CategorySystem, "info-3", nil)
	assertMessages(t, m, "crit", "info-1", "info-2", "info-3")

	// Unresolved critical alerts are never dropped.
	for i := range 6 {
		m.Raise(SeverityCritical, CategoryBackendHealth, fmt.Sprintf("crit-%d", i), nil)
	}
	got := m.Alerts(Filter{})
	if got[0].ID != crit.ID {
		t.Errorf("oldest critical alert was pruned")
	}
	if len(got) != 7 {
		t.Errorf("len = %d, want 7 unresolved critical alerts", len(got))
	}
}

func assertMessages(t *testing.T, m *Monitor, want ...string) {
	t.Helper()
	got := m.Alerts(Filter{})
	if len(got) != len(want) {
		t.Fatalf("alerts = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Errorf("alert %d = %q, want %q", i, got[i].Message, want[i])
		}
	}
}

func backends(active ...bool) []pool.Backend {
	out := make([]pool.Backend, len(active))
	for i, a := range active {
		out[i] = pool.Backend{ID: fmt.Sprintf("bot-%d", i+1), Active: a}
	}
	return out
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		backends []pool.Backend
		want     Status
	}{
		{"none configured", nil, StatusCritical},
		{"none active", backends(false, false), StatusCritical},
		{"minority active", backends(true, false, false), StatusDegraded},
		{"half active", backends(true, false), StatusHealthy},
		{"all active", backends(true, true, true), StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMonitor()
			if got := m.Status(tt.backends); got != tt.want {
				t.Errorf("Status = %s, want %s", got, tt.want)
			}
		})
	}

	m, _ := newTestMonitor()
	a := m.Raise(SeverityCritical, CategorySystem, "disk on fire", nil)
	if got := m.Status(backends(true, true)); got != StatusDegraded {
		t.Errorf("with open critical alert Status = %s, want degraded", got)
	}
	_ = m.Resolve(a.ID)
	if got := m.Status(backends(true, true)); got != StatusHealthy {
		t.Errorf("after resolve Status = %s, want healthy", got)
	}
}

func TestFailureThresholdAlert(t *testing.T) {
	m, _ := newTestMonitor()
	p, err := pool.New([]pool.Spec{{ID: "bot-1", Label: "primary"}}, pool.WithObserver(m))
	if err != nil {
		t.Fatal(err)
	}
	fail := pool.Outcome{Err: errors.New("connection reset")}

	for range 2 {
		_ = p.RecordOutcome("bot-1", fail)
	}
	if got := m.Alerts(Filter{Category: CategoryBackendHealth}); len(got) != 0 {
		t.Fatalf("alert raised below threshold: %+v", got)
	}

	_ = p.RecordOutcome("bot-1", fail)
	_ = p.RecordOutcome("bot-1", fail)
	got := m.Alerts(Filter{Category: CategoryBackendHealth, Unresolved: true})
	if len(got) != 1 || got[0].Severity != SeverityCritical {
		t.Fatalf("alerts = %+v, want one critical", got)
	}
	if got[0].Metadata["backend"] != "bot-1" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}

	_ = p.RecordOutcome("bot-1", pool.Outcome{})
	if got := m.Alerts(Filter{Unresolved: true}); len(got) != 0 {
		t.Errorf("success left %d alerts open", len(got))
	}
}

func TestRateLimitAlert(t *testing.T) {
	m, _ := newTestMonitor()
	p, _ := pool.New([]pool.Spec{{ID: "bot-1"}}, pool.WithObserver(m))
	_ = p.RecordOutcome("bot-1", pool.Outcome{Err: &transport.Error{Kind: transport.KindRateLimited, Code: 429}})

	got := m.Alerts(Filter{Category: CategoryRateLimit})
	if len(got) != 1 || got[0].Severity != SeverityWarning {
		t.Fatalf("alerts = %+v, want one rate-limit warning", got)
	}
}

func TestDeactivationAndRevival(t *testing.T) {
	m, _ := newTestMonitor()
	p, _ := pool.New([]pool.Spec{{ID: "bot-1"}, {ID: "bot-2"}}, pool.WithObserver(m))
	for range pool.DefaultDeactivateAfter {
		_ = p.RecordOutcome("bot-1", pool.Outcome{Err: errors.New("forbidden")})
	}

	crit := m.Alerts(Filter{Severity: SeverityCritical, Unresolved: true})
	if len(crit) != 2 {
		t.Fatalf("critical alerts = %d, want threshold and deactivation", len(crit))
	}
	if got := m.Status(p.Snapshot()); got != StatusDegraded {
		t.Errorf("Status = %s, want degraded", got)
	}

	_ = p.SetActive("bot-1", true)
	open := m.Alerts(Filter{Severity: SeverityCritical, Unresolved: true})
	if len(open) != 1 {
		t.Errorf("after revive %d critical alerts open, want 1 (failure streak)", len(open))
	}
	if info := m.Alerts(Filter{Severity: SeverityInfo}); len(info) != 1 {
		t.Errorf("revival info alerts = %d, want 1", len(info))
	}
}

func TestDegradedAlert(t *testing.T) {
	m, clk := newTestMonitor()
	p, _ := pool.New([]pool.Spec{{ID: "bot-1"}}, pool.WithObserver(m))
	_ = p.SetActive("bot-1", false)

	b, sel, err := p.Select()
	if err != nil {
		t.Fatalf("degraded selection failed: %v", err)
	}
	if !sel.Degraded || b.ID == "" {
		t.Fatalf("selection = %+v %+v", b, sel)
	}
	for range 5 {
		_, _, _ = p.Select()
	}
	warn := m.Alerts(Filter{Severity: SeverityWarning, Category: CategorySystem})
	if len(warn) != 1 {
		t.Fatalf("degraded warnings = %d, want 1", len(warn))
	}

	clk.Advance(degradedQuiet)
	_, _, _ = p.Select()
	if warn := m.Alerts(Filter{Severity: SeverityWarning, Category: CategorySystem}); len(warn) != 2 {
		t.Errorf("degraded warnings after quiet period = %d, want 2", len(warn))
	}
}

func TestDegradedAlertPerBackend(t *testing.T) {
	m, clk := newTestMonitor()
	bot1 := pool.Backend{ID: "bot-1", Label: "bot-1"}
	bot2 := pool.Backend{ID: "bot-2", Label: "bot-2"}
	warnings := func() []Alert {
		return m.Alerts(Filter{Severity: SeverityWarning, Category: CategorySystem})
	}

	m.Degraded(bot1)
	m.Degraded(bot2)
	m.Degraded(bot1)
	m.Degraded(bot2)
	warn := warnings()
	if len(warn) != 2 {
		t.Fatalf("degraded warnings = %d, want one per backend", len(warn))
	}
	if warn[0].Metadata["backend"] != "bot-1" || warn[1].Metadata["backend"] != "bot-2" {
		t.Errorf("warning backends = %q, %q", warn[0].Metadata["backend"], warn[1].Metadata["backend"])
	}

	clk.Advance(degradedQuiet / 2)
	m.Degraded(bot2)
	if n := len(warnings()); n != 2 {
		t.Errorf("warnings inside quiet period = %d, want 2", n)
	}

	clk.Advance(degradedQuiet / 2)
	m.Degraded(bot1)
	if n := len(warnings()); n != 3 {
		t.Errorf("warnings after quiet period = %d, want 3", n)
	}
}

func TestSubscribe(t *testing.T) {
	m, _ := newTestMonitor()
	var got []Alert
	unsubscribe := m.Subscribe(func(a Alert) { got = append(got, a) })

	m.Raise(SeverityInfo, CategorySystem, "one", nil)
	unsubscribe()
	m.Raise(SeverityInfo, CategorySystem, "two", nil)

	if len(got) != 1 || got[0].Message != "one" {
		t.Errorf("received %+v", got)
	}
}

func TestUsageCounters(t *testing.T) {
	m, clk := newTestMonitor()
	m.RecordUpload("alice", 100)
	m.RecordUpload("alice", 50)
	m.RecordDownload("alice", 150)
	m.RecordDownload("bob", 10)

	if u := m.Usage("alice"); u != (Usage{Uploads: 2, UploadBytes: 150, Downloads: 1, DownloadBytes: 150}) {
		t.Errorf("alice usage = %+v", u)
	}
	all, since := m.UsageAll()
	if len(all) != 2 || !since.Equal(clk.Now()) {
		t.Errorf("UsageAll = %v since %v", all, since)
	}

	clk.Advance(time.Hour)
	m.ResetUsage()
	if u := m.Usage("alice"); u != (Usage{}) {
		t.Errorf("usage after reset = %+v", u)
	}
	if _, since := m.UsageAll(); !since.Equal(clk.Now()) {
		t.Errorf("since = %v, want %v", since, clk.Now())
	}
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	tests := []struct {
		in, want time.Time
	}{
		{time.Date(2026, 5, 4, 10, 0, 0, 0, loc), time.Date(2026, 5, 5, 0, 0, 0, 0, loc)},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, loc), time.Date(2027, 1, 1, 0, 0, 0, 0, loc)},
		{time.Date(2026, 5, 4, 0, 0, 0, 0, loc), time.Date(2026, 5, 5, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := nextMidnight(tt.in); !got.Equal(tt.want) {
			t.Errorf("nextMidnight(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	m := New()
	m.Start()
	m.Start()
	m.usage.mu.Lock()
	armed := m.usage.timer != nil
	m.usage.mu.Unlock()
	if !armed {
		t.Fatal("reset timer not armed")
	}
	m.Stop()
	m.Stop()
	m.usage.mu.Lock()
	defer m.usage.mu.Unlock()
	if m.usage.timer != nil || m.usage.running {
		t.Error("reset timer still armed after Stop")
	}
}
