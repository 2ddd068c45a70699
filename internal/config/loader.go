package config

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SetCommonDefaults configures standard defaults on a Viper instance.
func SetCommonDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", Common.DataDir)
	v.SetDefault("server", Common.ServerURL)
	v.SetDefault("service_token", "")
	v.SetDefault("owner", "")
	v.SetDefault("observability.log_level", Common.LogLevel)
	v.SetDefault("observability.log_format", Common.LogFormat)
}

// BindCommonFlags binds the flags every command accepts.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("data-dir", "", "data directory (default ~/.arc-botstore)")
	f.String("server", "", "gateway URL (default http://localhost:8080)")
	f.String("token", "", "service token sent as X-Service-Token")
	f.String("owner", "", "caller id sent as X-Owner-ID (default $USER)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (auto, json, pretty)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("server", f.Lookup("server"))
	_ = v.BindPFlag("service_token", f.Lookup("token"))
	_ = v.BindPFlag("owner", f.Lookup("owner"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// Load reads config from flags, env, and file.
// The envPrefix is used for environment variable lookups (e.g., "ARC_BOTSTORE").
// The configPaths are directories to search for config files.
func Load(v *viper.Viper, envPrefix string, configFile string, configPaths ...string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("botstore")
		v.AddConfigPath(".")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) && configFile != "" {
			return err
		}
		// Config file not found is OK if not explicitly specified
	}

	return nil
}

// LoadInto applies common defaults, loads config from flags/env/file, and
// unmarshals into the provided struct.
func LoadInto(v *viper.Viper, configFile string, cfg any, paths ...string) error {
	SetCommonDefaults(v)
	if err := Load(v, EnvPrefix, configFile, paths...); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}
