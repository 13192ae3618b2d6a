package main

import (
	"github.com/spf13/cobra"

	"github.com/novalabs/meterlink/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the meterlink API server",
	Long: `Start the HTTP API server.

The server exposes provisioning endpoints (/api/customers, /api/metrics,
/api/pricing, /api/contract), usage ingestion (/api/ingest), and reporting
(/api/usage, /api/balance, /api/status). The config file is watched for
changes and reloaded on SIGHUP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return err
	}
	return app.Run()
}
