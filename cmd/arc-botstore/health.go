package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gezibash/arc-botstore/internal/cli"
	"github.com/gezibash/arc-botstore/pkg/client"
	"github.com/spf13/cobra"
)

// errCritical makes "health" exit non-zero when the gateway cannot store.
var errCritical = errors.New("gateway is critical")

func newHealthCmd() *cobra.Command {
	var backendsOnly bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show pool and cache health",
		Long: `Show the gateway status, per-backend health, URL cache statistics and
today's usage. Exits non-zero when the gateway is critical.`,
		Args: cobra.NoArgs,
	}
	cc := newClientCmd(cmd, 10*time.Second)
	cmd.Flags().BoolVar(&backendsOnly, "backends", false, "only print the backend table")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cc.run(cmd, "health", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			h, err := gw.Health(ctx)
			if err != nil {
				return out.Error("health", err).Render()
			}

			if !backendsOnly {
				cacheRate := "n/a"
				if lookups := h.Cache.Hits + h.Cache.Misses; lookups > 0 {
					cacheRate = fmt.Sprintf("%.1f%%", 100*float64(h.Cache.Hits)/float64(lookups))
				}
				var up, down int64
				for _, u := range h.Usage {
					up += u.UploadBytes
					down += u.DownloadBytes
				}
				kv := out.KV("health").
					Set("status", statusText(out, h.Status)).
					Set("backends", len(h.Backends)).
					Set("open alerts", len(h.Alerts)).
					Set("cached urls", h.Cache.Size).
					Set("cache hit rate", cacheRate).
					Set("uploaded today", humanize.IBytes(uint64(up))).
					Set("downloaded today", humanize.IBytes(uint64(down))).
					Set("checked", humanize.Time(h.CheckedAt))
				if err := kv.Render(); err != nil {
					return err
				}
			}

			tbl := out.Table("backends", "ID", "Driver", "State", "Streak", "Requests", "Success", "Avg Latency", "Last Failure")
			for _, b := range h.Backends {
				lastFailure := "-"
				if !b.LastFailure.IsZero() {
					lastFailure = humanize.Time(b.LastFailure)
					if b.LastFailureReason != "" {
						lastFailure += " (" + b.LastFailureReason + ")"
					}
				}
				tbl.AddRow(
					b.ID,
					b.Driver,
					statusText(out, backendState(b)),
					strconv.Itoa(b.ConsecutiveFailures),
					humanize.Comma(b.TotalRequests),
					fmt.Sprintf("%.1f%%", 100*b.SuccessRate()),
					b.AvgLatency.Round(time.Millisecond).String(),
					lastFailure,
				)
			}
			if err := tbl.Render(); err != nil {
				return err
			}

			if h.Status == "critical" {
				return errCritical
			}
			return nil
		})
	}
	return cmd
}

func backendState(b client.Backend) string {
	switch {
	case b.SwitchedOff:
		return "off"
	case !b.Active:
		return "inactive"
	case b.ConsecutiveFailures > 0:
		return "cooling"
	default:
		return "active"
	}
}

// statusText colors s for terminals only.
func statusText(out *cli.Output, s string) string {
	if out.Format() != cli.FormatText {
		return s
	}
	return cli.Colorize(s)
}
