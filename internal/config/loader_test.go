package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestBindCommonFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()

	BindCommonFlags(cmd, v)

	err := cmd.Flags().Parse([]string{
		"--data-dir", "/custom/dir",
		"--server", "http://gw.example:8080",
		"--token", "s3cret",
		"--owner", "alice",
		"--log-level", "debug",
		"--log-format", "json",
	})
	if err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"data_dir", "/custom/dir"},
		{"server", "http://gw.example:8080"},
		{"service_token", "s3cret"},
		{"owner", "alice"},
		{"observability.log_level", "debug"},
		{"observability.log_format", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := v.GetString(tt.key); got != tt.want {
				t.Errorf("v.GetString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadIntoClientConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "botstore.yaml")
	if err := os.WriteFile(path, []byte("server: http://file.example\nowner: bob\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARC_BOTSTORE_SERVICE_TOKEN", "from-env")

	var cfg BaseConfig
	if err := LoadInto(viper.New(), path, &cfg); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if cfg.Server != "http://file.example" || cfg.Owner != "bob" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ServiceToken != "from-env" {
		t.Errorf("ServiceToken = %q, want from-env", cfg.ServiceToken)
	}
	if cfg.Observability.LogFormat != "auto" {
		t.Errorf("LogFormat = %q", cfg.Observability.LogFormat)
	}
}

func TestLoadSearchPaths(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "botstore.yaml"), []byte("owner: carol\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	if err := Load(v, EnvPrefix, "", dir); err != nil {
		t.Fatal(err)
	}
	if got := v.GetString("owner"); got != "carol" {
		t.Errorf("owner = %q", got)
	}
}

func TestResolvedValues(t *testing.T) {
	t.Setenv("ARC_BOTSTORE_SERVER", "")
	t.Setenv("USER", "dave")

	var c BaseConfig
	if got := c.ResolvedServer(); got != Common.ServerURL {
		t.Errorf("ResolvedServer() = %q", got)
	}
	if got := c.ResolvedOwner(); got != "dave" {
		t.Errorf("ResolvedOwner() = %q", got)
	}
	if got := c.ResolvedDataDir(); got != DefaultDataDir() {
		t.Errorf("ResolvedDataDir() = %q", got)
	}

	t.Setenv("ARC_BOTSTORE_SERVER", "http://env.example")
	if got := c.ResolvedServer(); got != "http://env.example" {
		t.Errorf("ResolvedServer() from env = %q", got)
	}

	c = BaseConfig{Server: "http://cfg.example", Owner: "erin", DataDir: "/data"}
	if c.ResolvedServer() != "http://cfg.example" || c.ResolvedOwner() != "erin" || c.ResolvedDataDir() != "/data" {
		t.Errorf("explicit values not preferred: %+v", c)
	}
}
