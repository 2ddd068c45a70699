package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the gateway server configuration.
type Config struct {
	BaseConfig  `mapstructure:",squash"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	MaxBlobSize int64         `mapstructure:"max_blob_size"`
	Bots        []BotConfig   `mapstructure:"bots"`
	Retry       RetryConfig   `mapstructure:"retry"`
	Timeouts    TimeoutConfig `mapstructure:"timeouts"`
	Pool        PoolConfig    `mapstructure:"pool"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Monitor     MonitorConfig `mapstructure:"monitor"`
	Quota       BackendConfig `mapstructure:"quota"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BotConfig is one backend account. Token and Channel are shorthands for
// the telegram driver's token and chat_id keys.
type BotConfig struct {
	ID      string            `mapstructure:"id"`
	Label   string            `mapstructure:"label"`
	Driver  string            `mapstructure:"driver"`
	Token   string            `mapstructure:"token"`
	Channel string            `mapstructure:"channel"`
	Config  map[string]string `mapstructure:"config"`
}

// DriverConfig returns the map handed to the transport driver.
func (b BotConfig) DriverConfig() map[string]string {
	out := maps.Clone(b.Config)
	if out == nil {
		out = make(map[string]string)
	}
	if b.Token != "" {
		out["token"] = b.Token
	}
	if b.Channel != "" {
		out["chat_id"] = b.Channel
	}
	return out
}

type RetryConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	InitialDelay        time.Duration `mapstructure:"initial_delay"`
	Multiplier          float64       `mapstructure:"multiplier"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	Jitter              float64       `mapstructure:"jitter"`
	ShortCircuitPayload bool          `mapstructure:"short_circuit_payload"`
}

type TimeoutConfig struct {
	Upload  time.Duration `mapstructure:"upload"`
	Resolve time.Duration `mapstructure:"resolve"`
	Fetch   time.Duration `mapstructure:"fetch"`
}

type PoolConfig struct {
	DeactivateAfter int           `mapstructure:"deactivate_after"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	ReviveAfter     time.Duration `mapstructure:"revive_after"`
	ReviveInterval  time.Duration `mapstructure:"revive_interval"`
}

type CacheConfig struct {
	Backend       string            `mapstructure:"backend"`
	TTL           time.Duration     `mapstructure:"ttl"`
	SweepInterval time.Duration     `mapstructure:"sweep_interval"`
	Config        map[string]string `mapstructure:"config"`
}

type MonitorConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	MaxAlerts        int `mapstructure:"max_alerts"`
}

type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

func setDefaults(v *viper.Viper) {
	SetCommonDefaults(v)

	v.SetDefault("http.addr", ServerDefaults.HTTPAddr)
	v.SetDefault("http.write_timeout", "5m")
	v.SetDefault("max_blob_size", ServerDefaults.MaxBlobSize)

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.jitter", 0.1)
	v.SetDefault("retry.short_circuit_payload", false)

	v.SetDefault("timeouts.upload", "30s")
	v.SetDefault("timeouts.resolve", "15s")
	v.SetDefault("timeouts.fetch", "30s")

	v.SetDefault("pool.deactivate_after", 5)
	v.SetDefault("pool.cooldown", "60s")
	v.SetDefault("pool.revive_after", "15m")
	v.SetDefault("pool.revive_interval", "1m")

	v.SetDefault("cache.backend", ServerDefaults.CacheBackend)
	v.SetDefault("cache.ttl", "50m")
	v.SetDefault("cache.sweep_interval", "10m")

	v.SetDefault("monitor.failure_threshold", ServerDefaults.FailureThreshold)
	v.SetDefault("monitor.max_alerts", ServerDefaults.MaxAlerts)

	v.SetDefault("quota.backend", ServerDefaults.QuotaBackend)

	v.SetDefault("observability.metrics_addr", ServerDefaults.MetricsAddr)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.service_name", ServerDefaults.ServiceName)
	v.SetDefault("observability.service_version", "dev")
}

// BindServeFlags binds cobra flags to viper for the start command.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("config", "", "config file path")
	f.String("addr", "", "HTTP listen address")
	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.String("service-token", "", "require this X-Service-Token on every call")
	f.String("cache", "", "url cache backend (memory, redis)")
	f.String("quota", "", "quota backend (unlimited, sqlite, badger)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (auto, json, pretty)")
	f.String("data-dir", "", "data directory (default ~/.arc-botstore)")

	_ = v.BindPFlag("http.addr", f.Lookup("addr"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("service_token", f.Lookup("service-token"))
	_ = v.BindPFlag("cache.backend", f.Lookup("cache"))
	_ = v.BindPFlag("quota.backend", f.Lookup("quota"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
}

// LoadServer reads the server config from flags, env, and file. Bots may
// come from the file or from ARC_BOTSTORE_BOT_TOKENS (comma separated) with
// ARC_BOTSTORE_BOT_CHANNEL.
func LoadServer(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)
	if err := Load(v, EnvPrefix, configFile, "$HOME/.arc-botstore", "/etc/arc-botstore"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Bots) == 0 {
		cfg.Bots = botsFromTokens(v.GetString("bot_tokens"), v.GetString("bot_channel"))
	}
	for i := range cfg.Bots {
		if cfg.Bots[i].ID == "" {
			cfg.Bots[i].ID = fmt.Sprintf("bot-%d", i+1)
		}
		if cfg.Bots[i].Driver == "" {
			cfg.Bots[i].Driver = ServerDefaults.Driver
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func botsFromTokens(tokens, channel string) []BotConfig {
	var bots []BotConfig
	for tok := range strings.SplitSeq(tokens, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		bots = append(bots, BotConfig{Token: tok, Channel: channel})
	}
	return bots
}

// Validate checks cross-field rules the decoder cannot.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Bots))
	for i, b := range c.Bots {
		if seen[b.ID] {
			errs = append(errs, fmt.Errorf("bots[%d]: duplicate id %q", i, b.ID))
		}
		seen[b.ID] = true
		if b.Driver == "telegram" && (b.Token == "" && b.Config["token"] == "") {
			errs = append(errs, fmt.Errorf("bots[%d] (%s): token is required", i, b.ID))
		}
		if b.Driver == "telegram" && (b.Channel == "" && b.Config["chat_id"] == "") {
			errs = append(errs, fmt.Errorf("bots[%d] (%s): channel is required", i, b.ID))
		}
	}
	if c.MaxBlobSize <= 0 {
		errs = append(errs, errors.New("max_blob_size must be positive"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
