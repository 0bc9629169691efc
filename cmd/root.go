// Package cmd defines the CLI commands for the stockwatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stockwatch",
		Short: "Continuously monitors storefront product pages for stock and price changes.",
		Long: `stockwatch watches a catalog of product pages across online storefronts,
determines whether each item is in stock and at what price, and raises
notifications when availability or price changes. It runs unattended against
uncontrolled third-party pages, splitting work between a fast HTTP cohort and
a slower automated-browser cohort.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults and MONITOR_* env vars apply)")
	cmd.AddCommand(newWatchCmd())
	return cmd
}

// Execute is the main entry point. It exits non-zero when startup
// preconditions fail or the monitor aborts.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
