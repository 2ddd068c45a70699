package client

import "time"

// Health mirrors the gateway's /v1/health report.
type Health struct {
	Status     string           `json:"status"`
	Backends   []Backend        `json:"backends"`
	Cache      CacheStats       `json:"cache"`
	Alerts     []Alert          `json:"alerts"`
	Usage      map[string]Usage `json:"usage"`
	UsageSince time.Time        `json:"usage_since"`
	CheckedAt  time.Time        `json:"checked_at"`
}

// Backend is the health of one storage account.
type Backend struct {
	ID                  string        `json:"id"`
	Label               string        `json:"label"`
	Driver              string        `json:"driver"`
	Active              bool          `json:"active"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       int64         `json:"total_failures"`
	TotalRequests       int64         `json:"total_requests"`
	LastFailure         time.Time     `json:"last_failure"`
	LastFailureReason   string        `json:"last_failure_reason"`
	LastSuccess         time.Time     `json:"last_success"`
	AvgLatency          time.Duration `json:"avg_latency"`
	RateLimitHits       int64         `json:"rate_limit_hits"`
	DeactivatedAt       time.Time     `json:"deactivated_at"`
	SwitchedOff         bool          `json:"switched_off"`
}

// SuccessRate is the share of requests that did not fail.
func (b Backend) SuccessRate() float64 {
	if b.TotalRequests == 0 {
		return 1
	}
	return 1 - float64(b.TotalFailures)/float64(b.TotalRequests)
}

type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

type Alert struct {
	ID         string            `json:"id"`
	Severity   string            `json:"severity"`
	Category   string            `json:"category"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt time.Time         `json:"resolved_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Usage struct {
	Uploads       int64 `json:"uploads"`
	UploadBytes   int64 `json:"upload_bytes"`
	Downloads     int64 `json:"downloads"`
	DownloadBytes int64 `json:"download_bytes"`
}
