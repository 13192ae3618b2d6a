package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meterlink",
	Short: "Usage-based billing integration service",
	Long: `Meterlink provisions billing objects (customers, metrics, products,
rate cards, contracts) on a usage-based billing vendor, ingests metered
usage events with deterministic idempotency keys, and reports aggregated
usage and cost estimates.

Quick start:
  meterlink validate   # Check the configuration
  meterlink serve      # Start the API server

Tools:
  meterlink send       # Generate and send usage events in bulk
  meterlink rates      # Import tier rates from a CSV file`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meterlink.yaml", "config file path")
}
