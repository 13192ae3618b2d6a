package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/novalabs/meterlink/adapters/metronome"
	"github.com/novalabs/meterlink/adapters/sqlite"
	"github.com/novalabs/meterlink/adapters/statefile"
	"github.com/novalabs/meterlink/bootstrap"
	"github.com/novalabs/meterlink/config"
	"github.com/novalabs/meterlink/ports"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Generate and send usage events in bulk",
	Long: `Send a batch of synthetic usage events straight to the billing
vendor, bypassing the API server. Each event gets a random UUID
transaction ID, so the server-side allocator is not involved and the
local sequence counters do not advance.

Examples:
  meterlink send --count 25
  meterlink send --count 100 --tier small-aws --spread 24h`,
	RunE: runSend,
}

var (
	sendCount    int
	sendTier     string
	sendQuantity int64
	sendSpread   time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().IntVar(&sendCount, "count", 10, "number of events to send")
	sendCmd.Flags().StringVar(&sendTier, "tier", "", "tier key for all events (default: random per event)")
	sendCmd.Flags().Int64Var(&sendQuantity, "quantity", 1, "metered quantity per event")
	sendCmd.Flags().DurationVar(&sendSpread, "spread", time.Hour, "spread event timestamps over this past window")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}
	logger := bootstrap.SetupLogger(&cfg.Logging)

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	keys := catalog.Keys()
	if sendTier != "" && !catalog.Contains(sendTier) {
		return fmt.Errorf("unknown tier %q (allowed: %v)", sendTier, keys)
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
	customer := doc.CustomerIdentifier()
	if customer == "" {
		return fmt.Errorf("no customer in state: run the server and POST /api/customers first")
	}

	client := metronome.NewClient(metronome.Config{
		BaseURL:      cfg.Vendor.BaseURL,
		BearerToken:  cfg.Vendor.BearerToken,
		Timeout:      cfg.Vendor.Timeout,
		MaxAttempts:  cfg.Vendor.MaxAttempts,
		RetryBackoff: cfg.Vendor.RetryBackoff,
	}, logger)
	vendor := metronome.NewVendor(client)

	now := time.Now().UTC()
	sent := 0
	for i := 0; i < sendCount; i++ {
		key := sendTier
		if key == "" {
			key = keys[rand.Intn(len(keys))]
		}
		entry, _ := catalog.Entry(key)

		props := make(map[string]string, len(entry.Values)+2)
		for k, v := range entry.Values {
			props[k] = v
		}
		props[cfg.Billing.GroupKey] = key
		props[cfg.Billing.AggregationKey] = fmt.Sprintf("%d", sendQuantity)

		ts := now
		if sendSpread > 0 {
			ts = now.Add(-time.Duration(rand.Int63n(int64(sendSpread))))
		}
		ev := ports.UsageEvent{
			CustomerID:    customer,
			EventType:     cfg.Billing.EventType,
			TransactionID: uuid.NewString(),
			Timestamp:     ts,
			Properties:    props,
		}
		if err := vendor.IngestEvent(ctx, ev); err != nil {
			return fmt.Errorf("event %d/%d: %w", i+1, sendCount, err)
		}
		sent++
	}

	fmt.Printf("Sent %d events for customer %s\n", sent, customer)
	return nil
}

// openStateStore opens the configured state store for CLI use.
func openStateStore(cfg *config.Config) (ports.StateStore, func(), error) {
	if cfg.State.Driver == "sqlite" {
		db, err := sqlite.Open(cfg.State.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return sqlite.NewStateStore(db), func() { db.Close() }, nil
	}
	return statefile.New(cfg.State.Path), func() {}, nil
}
