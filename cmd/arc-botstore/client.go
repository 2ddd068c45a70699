package main

import (
	"context"
	"time"

	"github.com/gezibash/arc-botstore/internal/cli"
	"github.com/gezibash/arc-botstore/internal/config"
	"github.com/gezibash/arc-botstore/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// clientCmd holds the per-command viper and flags shared by client commands.
type clientCmd struct {
	v          *viper.Viper
	configFile string
	timeout    time.Duration
}

func newClientCmd(cmd *cobra.Command, timeout time.Duration) *clientCmd {
	c := &clientCmd{v: viper.New()}
	config.BindCommonFlags(cmd, c.v)

	f := cmd.Flags()
	f.StringVar(&c.configFile, "config", "", "config file path")
	f.DurationVar(&c.timeout, "timeout", timeout, "timeout")
	f.StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = c.v.BindPFlag("output", f.Lookup("output"))
	return c
}

func (c *clientCmd) run(cmd *cobra.Command, name string, fn func(ctx context.Context, gw *client.Client, out *cli.Output) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return cli.RunCommand(ctx, cli.CommandConfig{
		Name:       name,
		Viper:      c.v,
		ConfigFile: c.configFile,
		Timeout:    c.timeout,
		Out:        cmd.OutOrStdout(),
		Run:        fn,
	})
}
