package cel

import (
	"testing"
	"time"

	"github.com/gezibash/arc-botstore/internal/monitor"
)

func alertAt(ts time.Time) monitor.Alert {
	return monitor.Alert{
		ID:        "a-1",
		Severity:  monitor.SeverityWarning,
		Category:  monitor.CategoryBackendHealth,
		Message:   "backend bot-2 failing",
		Timestamp: ts,
		Metadata:  map[string]string{"backend": "bot-2"},
	}
}

func TestStringEquality(t *testing.T) {
	f, err := Compile(`severity == "warning"`)
	if err != nil {
		t.Fatal(err)
	}

	a := alertAt(time.Now())
	if !f.Match(a) {
		t.Error("expected match")
	}
	a.Severity = monitor.SeverityCritical
	if f.Match(a) {
		t.Error("expected no match")
	}
}

func TestMetadataLookup(t *testing.T) {
	f, err := Compile(`metadata.backend == "bot-2" && category == "backend-health"`)
	if err != nil {
		t.Fatal(err)
	}

	if !f.Match(alertAt(time.Now())) {
		t.Error("expected match")
	}
}

func TestMissingMetadataKeyNoMatch(t *testing.T) {
	f, err := Compile(`metadata.owner == "alice"`)
	if err != nil {
		t.Fatal(err)
	}

	a := alertAt(time.Now())
	if f.Match(a) {
		t.Error("missing key should not match")
	}
	a.Metadata = nil
	if f.Match(a) {
		t.Error("nil metadata should not match")
	}
}

func TestAgeComparison(t *testing.T) {
	f, err := Compile(`age < duration("1h")`)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	if !f.Match(alertAt(now.Add(-10 * time.Minute))) {
		t.Error("recent alert should match")
	}
	if f.Match(alertAt(now.Add(-2 * time.Hour))) {
		t.Error("old alert should not match")
	}
}

func TestResolvedAndStringFunctions(t *testing.T) {
	f, err := Compile(`!resolved && message.contains("failing")`)
	if err != nil {
		t.Fatal(err)
	}

	a := alertAt(time.Now())
	if !f.Match(a) {
		t.Error("expected match")
	}
	a.Resolved = true
	if f.Match(a) {
		t.Error("resolved alert should not match")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax", `severity ==`},
		{"unknown variable", `backend == "bot-2"`},
		{"non-bool", `severity`},
		{"type mismatch", `resolved == "yes"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.expr); err == nil {
				t.Errorf("Compile(%q) succeeded", tt.expr)
			}
		})
	}
}
