package config

import "os"

// BaseConfig contains fields shared by every command. Command configs embed
// it with mapstructure:",squash".
type BaseConfig struct {
	DataDir       string              `mapstructure:"data_dir"`
	Server        string              `mapstructure:"server"`
	ServiceToken  string              `mapstructure:"service_token"`
	Owner         string              `mapstructure:"owner"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPProtocol string `mapstructure:"otlp_protocol"`
	// TraceSampleRatio is the fraction of requests traced; 1 keeps all.
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`
	ServiceName      string  `mapstructure:"service_name"`
	ServiceVersion   string  `mapstructure:"service_version"`
}

// ResolvedServer returns the gateway URL, checking config > ARC_BOTSTORE_SERVER env > default.
func (c BaseConfig) ResolvedServer() string {
	if c.Server != "" {
		return c.Server
	}
	if s := os.Getenv(EnvPrefix + "_SERVER"); s != "" {
		return s
	}
	return Common.ServerURL
}

// ResolvedOwner returns the caller id sent as X-Owner-ID, defaulting to the
// local user name.
func (c BaseConfig) ResolvedOwner() string {
	if c.Owner != "" {
		return c.Owner
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}

// ResolvedDataDir returns the data directory from config, or the default.
func (c BaseConfig) ResolvedDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DefaultDataDir()
}
