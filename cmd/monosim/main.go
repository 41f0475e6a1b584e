package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A local .env may carry AWS credentials and the archive DSN.
	_ = godotenv.Load(".env")

	ctx, stop := signalContext()
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "monosim",
		Short: "Monosomy fluctuation simulator",
		Long: `monosim grows replicate cultures from single founders, tracking cells that
lose a chromosome copy (monosomes) and those that regain it (revertants),
and estimates mutation rates from the resulting fluctuation assay with the
Luria-Delbruck and Mandelbrot-Koch models.

Batches are archived (SQLite or Postgres) and every replicate is written as
a checksummed snapshot to a blob store (filesystem or S3).`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.monosim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newFitCmd(),
		newRunsCmd(),
		newSnapshotCmd(),
		newNgenCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// signalContext returns a context cancelled on the first interrupt.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	notifySignals(ch)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
