package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gezibash/arc-botstore/internal/cli"
	"github.com/gezibash/arc-botstore/pkg/client"
	"github.com/spf13/cobra"
)

func newAlertsCmd() *cobra.Command {
	var f client.AlertFilter
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recent alerts",
		Long: `List alerts raised by the gateway, oldest first.

Examples:
  arc-botstore alerts --unresolved
  arc-botstore alerts --severity critical --limit 5
  arc-botstore alerts --expr 'metadata.backend == "bot-2" && age < duration("1h")'
  arc-botstore alerts resolve <id>`,
		Args: cobra.NoArgs,
	}
	cc := newClientCmd(cmd, 10*time.Second)
	fl := cmd.Flags()
	fl.StringVar(&f.Severity, "severity", "", "only this severity (info, warning, critical)")
	fl.StringVar(&f.Category, "category", "", "only this category (backend-health, rate-limit, capacity, system)")
	fl.BoolVar(&f.Unresolved, "unresolved", false, "hide resolved alerts")
	fl.StringVar(&f.Expr, "expr", "", "CEL expression over id, severity, category, message, resolved, age, metadata")
	fl.IntVar(&f.Limit, "limit", 20, "maximum alerts to show (0 for all)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cc.run(cmd, "alerts", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			alerts, err := gw.Alerts(ctx, f)
			if err != nil {
				return out.Error("alerts", err).Render()
			}
			tbl := out.Table("alerts", "ID", "Severity", "Category", "Message", "Raised", "Resolved")
			for _, a := range alerts {
				resolved := "no"
				if a.Resolved {
					resolved = humanize.Time(a.ResolvedAt)
				}
				tbl.AddRow(a.ID, statusText(out, a.Severity), a.Category, a.Message, humanize.Time(a.Timestamp), resolved)
			}
			return tbl.Render()
		})
	}
	cmd.AddCommand(newAlertResolveCmd())
	return cmd
}

func newAlertResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
	}
	cc := newClientCmd(cmd, 10*time.Second)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return cc.run(cmd, "alert-resolve", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			if err := gw.ResolveAlert(ctx, id); err != nil {
				return out.Error("alert-resolve", err).Render()
			}
			return out.Result("alert-resolved", fmt.Sprintf("alert %s resolved", id)).Render()
		})
	}
	return cmd
}

func newBackendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend <id> on|off",
		Short: "Put a backend in or out of rotation",
		Long: `Switch a backend on or off by hand. Switching on clears its failure
streak; switching off keeps it out of selection until it is switched on again
or the revive job brings it back.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
	}
	cc := newClientCmd(cmd, 10*time.Second)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		id, state := args[0], args[1]
		var active bool
		switch state {
		case "on":
			active = true
		case "off":
		default:
			return fmt.Errorf("state must be on or off, got %q", state)
		}
		return cc.run(cmd, "backend-switch", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			if err := gw.SetBackendActive(ctx, id, active); err != nil {
				return out.Error("backend-switch", err).Render()
			}
			return out.Result("backend-switched", fmt.Sprintf("backend %s switched %s", id, state)).Render()
		})
	}
	return cmd
}
