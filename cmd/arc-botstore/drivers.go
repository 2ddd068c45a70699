package main

import (
	"fmt"
	"runtime"

	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/blobstore/urlcache"
	"github.com/gezibash/arc-botstore/internal/cli"
	"github.com/gezibash/arc-botstore/internal/quota"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newDriversCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "List compiled-in transports, url caches and quota backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cli.NewOutput(cli.ParseFormat(v.GetString("output")), cmd.OutOrStdout())
			list := out.StringList("drivers")
			for _, name := range transport.Drivers() {
				list.Add("transport/" + name)
			}
			for _, name := range urlcache.Backends() {
				list.Add("urlcache/" + name)
			}
			for _, name := range quota.Backends() {
				list.Add("quota/" + name)
			}
			return list.Render()
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", cmd.Flags().Lookup("output"))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "arc-botstore %s\n", version)
			fmt.Fprintf(w, "  commit:  %s\n", commit)
			fmt.Fprintf(w, "  built:   %s\n", buildDate)
			fmt.Fprintf(w, "  go:      %s\n", runtime.Version())
		},
	}
}
