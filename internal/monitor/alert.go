package monitor

import (
	"log/slog"
	"time"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) level() slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Category groups alerts by subsystem.
type Category string

const (
	CategoryBackendHealth Category = "backend-health"
	CategoryRateLimit     Category = "rate-limit"
	CategoryCapacity      Category = "capacity"
	CategorySystem        Category = "system"
)

// Alert is an operator-facing event.
type Alert struct {
	ID         string            `json:"id"`
	Severity   Severity          `json:"severity"`
	Category   Category          `json:"category"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt time.Time         `json:"resolved_at,omitzero"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Filter selects alerts. Zero fields match everything.
type Filter struct {
	Severity   Severity
	Category   Category
	Unresolved bool
	// Match, when set, must also accept the alert.
	Match func(Alert) bool
	// Limit keeps only the newest matches when positive.
	Limit int
}

func (f Filter) match(a Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Unresolved && a.Resolved {
		return false
	}
	return f.Match == nil || f.Match(a)
}
