package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/domain/tier"
	"github.com/novalabs/meterlink/domain/usage"
	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// UsageService aggregates vendor usage into per-tier counts and
// advisory dollar amounts.
type UsageService struct {
	vendor   ports.UsageReader
	store    ports.StateStore
	catalog  tier.Catalog
	groupKey string
	clock    ports.Clock
	logger   zerolog.Logger
}

// NewUsageService creates a usage aggregation service.
func NewUsageService(vendor ports.UsageReader, store ports.StateStore, catalog tier.Catalog, groupKey string, clk ports.Clock, logger zerolog.Logger) *UsageService {
	return &UsageService{
		vendor:   vendor,
		store:    store,
		catalog:  catalog,
		groupKey: groupKey,
		clock:    clk,
		logger:   logger.With().Str("component", "usage").Logger(),
	}
}

// Today returns the current UTC instant, for callers defaulting the
// usage day.
func (s *UsageService) Today() time.Time {
	return s.clock.Now().UTC()
}

// Usage returns per-tier usage for the UTC day containing the given
// instant: the window is midnight to midnight. Every configured tier
// appears in the result. Amounts use cached prices; a tier with no
// cached price reports its count with amount 0.
func (s *UsageService) Usage(ctx context.Context, day time.Time) (map[string]usage.TierUsage, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if doc.MetricID == "" {
		return nil, apperr.Configuration("no billable metric provisioned", "create the billable metric first (POST /api/metrics)")
	}
	customerID := doc.CustomerID
	if customerID == "" {
		return nil, apperr.Configuration("no customer provisioned", "create a customer first (POST /api/customers)")
	}

	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := s.vendor.GroupedUsage(ctx, ports.GroupedUsageQuery{
		CustomerID: customerID,
		MetricID:   doc.MetricID,
		Start:      start,
		End:        end,
		GroupKey:   s.groupKey,
		WindowSize: "DAY",
	})
	if err != nil {
		return nil, apperr.Upstream("query grouped usage", err)
	}

	// Only prices cached from the vendor rate card are used; configured
	// tier prices never stand in for them. With no cache every tier
	// reports its count with amount 0.
	return usage.Summarize(rows, doc.PricesByTier, s.catalog.Keys()), nil
}
