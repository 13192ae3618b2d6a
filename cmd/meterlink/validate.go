package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/novalabs/meterlink/adapters/sqlite"
	"github.com/novalabs/meterlink/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the meterlink configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Tier definitions form a valid catalog
  - Vendor API is reachable (optional)
  - State store is writable (optional)

Examples:
  meterlink validate
  meterlink validate --config /etc/meterlink/config.yaml`,
	RunE: runValidate,
}

var (
	validateCheckVendor bool
	validateCheckState  bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckVendor, "check-vendor", false, "check if the vendor API is reachable")
	validateCmd.Flags().BoolVar(&validateCheckState, "check-state", false, "check if the state store is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	catalog, err := cfg.Catalog()
	if err != nil {
		fmt.Printf("  %s Tier catalog valid\n", crossMark)
		return fmt.Errorf("tier catalog: %w", err)
	}
	fmt.Printf("  %s Tier catalog valid (%d tiers)\n", checkMark, len(catalog.Keys()))

	fmt.Printf("  %s Vendor: %s\n", checkMark, cfg.Vendor.BaseURL)
	fmt.Printf("  %s State: %s (%s)\n", checkMark, cfg.State.Path, cfg.State.Driver)
	fmt.Printf("  %s Namespace: %s\n", checkMark, cfg.Billing.Namespace)

	if validateCheckVendor {
		if err := checkVendorReachable(cfg.Vendor.BaseURL); err != nil {
			fmt.Printf("  %s Vendor reachable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Vendor reachable\n", checkMark)
		}
	}

	if validateCheckState {
		if err := checkStateWritable(cfg.State); err != nil {
			fmt.Printf("  %s State store writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s State store writable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkVendorReachable(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkStateWritable(cfg config.StateConfig) error {
	if cfg.Driver == "sqlite" {
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Migrate()
	}

	f, err := os.OpenFile(cfg.Path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
