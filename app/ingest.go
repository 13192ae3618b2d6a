package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/domain/tier"
	"github.com/novalabs/meterlink/domain/usage"
	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// IngestRequest is one metered usage submission.
type IngestRequest struct {
	// CustomerID overrides the customer recorded in state. Empty uses
	// the stored customer ID (falling back to the ingest alias).
	CustomerID string

	// TierKey selects the pricing tier, e.g. "small-aws".
	TierKey string

	// Quantity is the metered amount; zero or negative defaults to 1.
	Quantity int64

	// Timestamp of the usage. Zero means now.
	Timestamp time.Time

	// TransactionID, when set, is used verbatim as the idempotency key
	// and the allocator is not consulted.
	TransactionID string

	// Properties are extra event properties. Computed properties
	// (dimensions, tier key, quantity) win on collision.
	Properties map[string]string
}

// Receipt reports what was sent to the vendor.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	CustomerID    string `json:"customer_id"`
	TierKey       string `json:"tier"`
	Quantity      int64  `json:"quantity"`
	Timestamp     string `json:"timestamp"`
}

// BalanceGate optionally declines ingestion that would exceed the
// customer's remaining prepaid balance.
type BalanceGate struct {
	Enabled bool
}

// Ingestor validates usage events, assigns idempotency keys, and
// forwards exactly one vendor event per call.
type Ingestor struct {
	vendor    ports.UsageIngestor
	balances  ports.BalanceReader
	store     ports.StateStore
	clock     ports.Clock
	allocator *Allocator
	catalog   tier.Catalog
	eventType string
	groupKey  string
	countKey  string
	gate      BalanceGate
	inst      Instrumentation
	logger    zerolog.Logger
}

// IngestorDeps contains dependencies for Ingestor.
type IngestorDeps struct {
	Vendor    ports.UsageIngestor
	Balances  ports.BalanceReader
	Store     ports.StateStore
	Clock     ports.Clock
	Allocator *Allocator
	Catalog   tier.Catalog
	Inst      Instrumentation
}

// NewIngestor creates a usage ingestion service. eventType, groupKey,
// and countKey come from the billing metric configuration.
func NewIngestor(deps IngestorDeps, eventType, groupKey, countKey string, gate BalanceGate, logger zerolog.Logger) *Ingestor {
	inst := deps.Inst
	if inst == nil {
		inst = NopInstrumentation{}
	}
	return &Ingestor{
		vendor:    deps.Vendor,
		balances:  deps.Balances,
		store:     deps.Store,
		clock:     deps.Clock,
		allocator: deps.Allocator,
		catalog:   deps.Catalog,
		eventType: eventType,
		groupKey:  groupKey,
		countKey:  countKey,
		gate:      gate,
		inst:      inst,
		logger:    logger.With().Str("component", "ingestor").Logger(),
	}
}

// Ingest sends one usage event. Unknown tiers are rejected before any
// state mutation or vendor call. The vendor deduplicates on (customer,
// transaction ID), so resubmitting the same transaction ID cannot
// double-bill.
func (s *Ingestor) Ingest(ctx context.Context, req IngestRequest) (Receipt, error) {
	if !s.catalog.Contains(req.TierKey) {
		s.inst.EventRejected("unknown_tier")
		return Receipt{}, apperr.Validation(
			fmt.Sprintf("unknown tier %q", req.TierKey),
			s.catalog.Keys()...,
		)
	}

	customerID := req.CustomerID
	if customerID == "" {
		doc, err := s.store.Load(ctx)
		if err != nil {
			return Receipt{}, err
		}
		customerID = doc.CustomerIdentifier()
	}
	if customerID == "" {
		s.inst.EventRejected("no_customer")
		return Receipt{}, apperr.Configuration("no customer provisioned", "create a customer first (POST /api/customers) or pass customer_id")
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	if s.gate.Enabled && s.balances != nil {
		if err := s.checkBalance(ctx, customerID, req.TierKey, quantity); err != nil {
			return Receipt{}, err
		}
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	ts = ts.UTC().Truncate(time.Second)

	txID := req.TransactionID
	if txID == "" {
		var err error
		txID, err = s.allocator.Allocate(ctx, customerID, req.TierKey)
		if err != nil {
			return Receipt{}, err
		}
	}

	entry, _ := s.catalog.Entry(req.TierKey)
	props := make(map[string]string, len(req.Properties)+len(entry.Values)+2)
	for k, v := range req.Properties {
		props[k] = v
	}
	for k, v := range entry.Values {
		props[k] = v
	}
	props[s.groupKey] = req.TierKey
	props[s.countKey] = strconv.FormatInt(quantity, 10)

	err := s.vendor.IngestEvent(ctx, ports.UsageEvent{
		CustomerID:    customerID,
		EventType:     s.eventType,
		TransactionID: txID,
		Timestamp:     ts,
		Properties:    props,
	})
	if err != nil {
		s.inst.EventRejected("vendor_error")
		return Receipt{}, apperr.Upstream("ingest event", err)
	}

	s.inst.EventIngested(req.TierKey)
	s.logger.Info().
		Str("transaction_id", txID).
		Str("customer", customerID).
		Str("tier", req.TierKey).
		Int64("quantity", quantity).
		Msg("event ingested")

	return Receipt{
		TransactionID: txID,
		CustomerID:    customerID,
		TierKey:       req.TierKey,
		Quantity:      quantity,
		Timestamp:     ts.Format("2006-01-02T15:04:05Z"),
	}, nil
}

// checkBalance declines events whose estimated cost exceeds the
// remaining prepaid balance. Advisory: usage not yet rated by the
// vendor is invisible here.
func (s *Ingestor) checkBalance(ctx context.Context, customerID, tierKey string, quantity int64) error {
	bal, err := s.balances.PrepaidBalance(ctx, customerID)
	if err != nil {
		return apperr.Upstream("check prepaid balance", err)
	}

	unitCents, _ := s.catalog.PriceCents(tierKey)
	estimate := usage.Amount(quantity, unitCents)
	remaining := usage.Amount(1, bal.RemainingCents)
	if estimate > remaining {
		s.inst.EventRejected("insufficient_balance")
		return apperr.Validation(
			fmt.Sprintf("estimated cost %.2f exceeds remaining prepaid balance %.2f", estimate, remaining),
		)
	}
	return nil
}
