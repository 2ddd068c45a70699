// Package config provides shared configuration patterns and defaults for
// arc-botstore commands.
package config

import (
	"os"
	"path/filepath"
)

// EnvPrefix prefixes every environment variable, e.g. ARC_BOTSTORE_HTTP_ADDR.
const EnvPrefix = "ARC_BOTSTORE"

// Common contains default values shared across commands.
var Common = struct {
	ServerURL string
	LogLevel  string
	LogFormat string
	DataDir   string
}{
	ServerURL: "http://localhost:8080",
	LogLevel:  "info",
	LogFormat: "auto",
	DataDir:   DefaultDataDir(),
}

// DefaultDataDir returns the default data directory (~/.arc-botstore).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arc-botstore"
	}
	return filepath.Join(home, ".arc-botstore")
}

// ServerDefaults contains default values for the gateway server.
var ServerDefaults = struct {
	HTTPAddr         string
	MetricsAddr      string
	MaxBlobSize      int64
	Driver           string
	CacheBackend     string
	QuotaBackend     string
	FailureThreshold int
	MaxAlerts        int
	ServiceName      string
}{
	HTTPAddr:         ":8080",
	MetricsAddr:      ":9090",
	MaxBlobSize:      2 << 30, // 2GiB
	Driver:           "telegram",
	CacheBackend:     "memory",
	QuotaBackend:     "unlimited",
	FailureThreshold: 3,
	MaxAlerts:        500,
	ServiceName:      "arc-botstore",
}
