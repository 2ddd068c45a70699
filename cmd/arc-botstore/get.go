package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gezibash/arc-botstore/internal/cli"
	"github.com/gezibash/arc-botstore/pkg/client"
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "get <reference>",
		Short: "Retrieve a blob",
		Long: `Retrieve a blob by the reference "put" printed.

Examples:
  arc-botstore get bot-1:BQACAgIAAxkDAAIB > photo.jpg
  arc-botstore get bot-1:BQACAgIAAxkDAAIB -f photo.jpg`,
		Args: cobra.ExactArgs(1),
	}
	cc := newClientCmd(cmd, 2*time.Minute)
	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "output file (default: stdout)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ref := args[0]
		return cc.run(cmd, "blob-get", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			blob, err := gw.Get(ctx, ref)
			if err != nil {
				return out.Error("blob-get", err).Render()
			}
			if outputFile == "" {
				// Raw bytes, no envelope.
				_, err = out.Writer().Write(blob.Data)
				return err
			}
			if err := os.WriteFile(outputFile, blob.Data, 0o600); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
			return out.KV("blob-retrieved").
				Set("reference", ref).
				Set("size", humanize.IBytes(uint64(len(blob.Data)))).
				Set("content type", blob.ContentType).
				Set("output", outputFile).
				Render()
		})
	}
	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <reference>",
		Short: "Forget a blob",
		Long: `Ask the gateway to delete a blob.

Backends are append-only, so the bytes stay where they are and the gateway
always reports success.`,
		Args: cobra.ExactArgs(1),
	}
	cc := newClientCmd(cmd, 30*time.Second)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ref := args[0]
		return cc.run(cmd, "blob-rm", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			if err := gw.Delete(ctx, ref); err != nil {
				return out.Error("blob-rm", err).Render()
			}
			return out.Result("blob-removed", "delete accepted").With("reference", ref).Render()
		})
	}
	return cmd
}
