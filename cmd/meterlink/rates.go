package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/novalabs/meterlink/adapters/metronome"
	"github.com/novalabs/meterlink/bootstrap"
	"github.com/novalabs/meterlink/config"
	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/ports"
)

var ratesCmd = &cobra.Command{
	Use:   "rates <file.csv>",
	Short: "Import tier rates from a CSV file",
	Long: `Add FLAT rates to the provisioned rate card from a CSV file with a
"tier,price_cents" header. Rows with unknown tiers or unparsable prices
are skipped with a warning. The local price cache is updated to match.

Example:
  meterlink rates rates.csv --effective-at 2026-09-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runRates,
}

var ratesEffectiveAt string

func init() {
	rootCmd.AddCommand(ratesCmd)

	ratesCmd.Flags().StringVar(&ratesEffectiveAt, "effective-at", "", "RFC3339 instant the rates start at (default: next UTC midnight)")
}

func runRates(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}
	logger := bootstrap.SetupLogger(&cfg.Logging)

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	startingAt := ratesEffectiveAt
	if startingAt == "" {
		midnight := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		startingAt = midnight.Format("2006-01-02T15:04:05Z")
	} else if _, err := time.Parse(time.RFC3339, startingAt); err != nil {
		return fmt.Errorf("invalid --effective-at: %w", err)
	}

	prices, err := readRatesCSV(args[0], func(line int, reason string) {
		logger.Warn().Int("line", line).Str("reason", reason).Msg("skipping rate row")
	})
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		return fmt.Errorf("no usable rate rows in %s", args[0])
	}

	store, closeStore, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	doc, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if doc.RateCardID == "" || doc.ProductID == "" {
		return fmt.Errorf("no rate card in state: run the server and POST /api/pricing first")
	}

	client := metronome.NewClient(metronome.Config{
		BaseURL:      cfg.Vendor.BaseURL,
		BearerToken:  cfg.Vendor.BearerToken,
		Timeout:      cfg.Vendor.Timeout,
		MaxAttempts:  cfg.Vendor.MaxAttempts,
		RetryBackoff: cfg.Vendor.RetryBackoff,
	}, logger)
	vendor := metronome.NewVendor(client)

	added := 0
	for key, cents := range prices {
		if !catalog.Contains(key) {
			logger.Warn().Str("tier", key).Msg("tier not in catalog, skipping")
			continue
		}
		_, err := vendor.AddFlatRate(ctx, ports.RateSpec{
			RateCardID: doc.RateCardID,
			ProductID:  doc.ProductID,
			PriceCents: cents,
			StartingAt: startingAt,
			PricingGroupValues: map[string]string{
				cfg.Billing.GroupKey: key,
			},
		})
		if err != nil {
			return fmt.Errorf("add rate for %s: %w", key, err)
		}
		added++
	}

	_, err = store.Update(ctx, func(doc *state.Document) error {
		if doc.PricesByTier == nil {
			doc.PricesByTier = make(map[string]int64, len(prices))
		}
		for key, cents := range prices {
			if catalog.Contains(key) {
				doc.PricesByTier[key] = cents
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update price cache: %w", err)
	}

	fmt.Printf("Added %d rates effective %s\n", added, startingAt)
	return nil
}

// readRatesCSV parses a tier,price_cents CSV. A header row is required;
// column order is taken from it. Bad rows are reported and skipped.
func readRatesCSV(path string, skip func(line int, reason string)) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	tierCol, priceCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "tier":
			tierCol = i
		case "price_cents":
			priceCol = i
		}
	}
	if tierCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("header must name tier and price_cents columns, got %v", header)
	}

	prices := make(map[string]int64)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skip(line, err.Error())
			continue
		}
		if tierCol >= len(row) || priceCol >= len(row) {
			skip(line, "missing columns")
			continue
		}
		key := strings.TrimSpace(row[tierCol])
		if key == "" {
			skip(line, "empty tier")
			continue
		}
		cents, err := strconv.ParseInt(strings.TrimSpace(row[priceCol]), 10, 64)
		if err != nil || cents < 0 {
			skip(line, "bad price_cents")
			continue
		}
		prices[key] = cents
	}
	return prices, nil
}
