// Command fscrawl crawls directory trees and keeps Elasticsearch indices in
// sync with them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/fscrawl/fscrawl/internal/config"
)

const (
	flagConfig = "config"

	defaultConfigPath = "fscrawl.yaml"
)

func main() {
	_, _ = maxprocs.Set()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:   "fscrawl",
		Short: "Crawl file systems into Elasticsearch",
		Long: `fscrawl walks the directory trees of its configured jobs, detects added,
changed and removed files and mirrors them into Elasticsearch.

Process settings may also be set with FSCRAWL_* environment variables,
e.g. FSCRAWL_CHECKPOINT_BACKEND=postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP(flagConfig, "c", defaultConfigPath, "path to the configuration file")
	flags.String(config.KeyCheckpointBackend, "", "checkpoint backend: file, postgres or memory")
	flags.String(config.KeyCheckpointDir, "", "directory of file checkpoints")
	flags.String(config.KeyCheckpointDSN, "", "postgres connection string for checkpoints")
	flags.String(config.KeyMetricsAddr, "", "serve Prometheus metrics on this address")
	flags.String(config.KeyLogLevel, "", "log level: debug, info, warn or error")
	flags.String(config.KeyLogFile, "", "write logs to this rotated file instead of stdout")
	// Unset flags fall through to the FSCRAWL_* environment.
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newRunCommand(v),
		newStatusCommand(v),
		newCheckpointCommand(v),
	)
	return rootCmd
}
