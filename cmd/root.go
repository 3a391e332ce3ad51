// Package cmd defines and implements the CLI commands for the frontier executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-frontier/internal/config"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Crawl frontier: admission, queueing, and job leasing for distributed crawlers.",
		Long: `frontier owns the crawl frontier for a fleet of stateless crawler workers.
Clients submit crawls; workers lease jobs, report crawled pages with their
outgoing links, and acknowledge jobs once done. Every crawl gets its own
queue and dead-letter queue, and its page budget is enforced atomically.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars use the FRONTIER_ prefix)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return &cfg, nil
	}
	cmd.AddCommand(newServeCmd(load))
	cmd.AddCommand(newMigrateCmd(load))
	return cmd
}

type configLoader func() (*config.Config, error)

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "frontier: %v\n", err)
		os.Exit(1)
	}
}
