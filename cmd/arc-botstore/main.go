package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register transports, url caches and quota backends.
	_ "github.com/gezibash/arc-botstore/internal/blobstore/transport/s3"
	_ "github.com/gezibash/arc-botstore/internal/blobstore/transport/telegram"
	_ "github.com/gezibash/arc-botstore/internal/blobstore/urlcache/memory"
	_ "github.com/gezibash/arc-botstore/internal/blobstore/urlcache/redis"
	_ "github.com/gezibash/arc-botstore/internal/quota/badger"
	_ "github.com/gezibash/arc-botstore/internal/quota/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "arc-botstore",
		Short: "Blob storage gateway over chat bot accounts",
		Long: `arc-botstore stores blobs in a pool of bot accounts and serves them back
through a proxy that never exposes backend URLs.

Server commands:
  arc-botstore start              Run the gateway

Client commands:
  arc-botstore put <file>         Store a blob
  arc-botstore get <reference>    Retrieve a blob
  arc-botstore rm <reference>     Forget a blob
  arc-botstore health             Show pool and cache health
  arc-botstore alerts             List recent alerts
  arc-botstore backend <id> on|off
  arc-botstore drivers            List compiled-in drivers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStartCmd(),
		newPutCmd(),
		newGetCmd(),
		newRmCmd(),
		newHealthCmd(),
		newAlertsCmd(),
		newBackendCmd(),
		newDriversCmd(),
		newVersionCmd(),
	)
	return root
}
