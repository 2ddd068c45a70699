package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gezibash/arc-botstore/internal/cli"
	"github.com/gezibash/arc-botstore/pkg/client"
	"github.com/spf13/cobra"
)

func newPutCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a blob",
		Long: `Store a blob through the gateway and print its reference.

The reference is "<backend>:<file id>" and is all you need to fetch the blob
again. Use "-" to read from stdin.

Examples:
  arc-botstore put photo.jpg
  cat notes.txt | arc-botstore put - --name notes.txt
  arc-botstore put big.zip --timeout 10m -o json`,
		Args: cobra.ExactArgs(1),
	}
	cc := newClientCmd(cmd, 5*time.Minute)
	cmd.Flags().StringVar(&name, "name", "", "filename to store under (default: base name of <file>)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		data, filename, err := readInput(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if name != "" {
			filename = name
		}

		return cc.run(cmd, "blob-put", func(ctx context.Context, gw *client.Client, out *cli.Output) error {
			res, err := gw.Put(ctx, filename, data)
			if err != nil {
				return out.Error("blob-put", err).Render()
			}
			return out.KV("blob-stored").
				Set("reference", res.Reference).
				Set("backend", res.BackendID).
				Set("size", humanize.IBytes(uint64(res.Size))).
				Render()
		})
	}
	return cmd
}

func readInput(arg string, stdin io.Reader) ([]byte, string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("read stdin: %w", err)
		}
		return data, "", nil
	}
	data, err := os.ReadFile(arg) //nolint:gosec // G304: intentional CLI file read
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return data, filepath.Base(arg), nil
}
