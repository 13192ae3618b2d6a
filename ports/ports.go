// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// -----------------------------------------------------------------------------
// State Store Port
// -----------------------------------------------------------------------------

// StateStore persists the state document wholesale.
//
// Load returns a zero document (not an error) when no prior state
// exists; a non-nil error always means a real I/O failure. Update
// serializes the whole read-modify-write cycle, which is what keeps
// transaction sequence numbers unique under concurrent requests.
type StateStore interface {
	// Load returns a copy of the current document.
	Load(ctx context.Context) (state.Document, error)

	// Update applies fn to the document under the store's write lock
	// and persists the result. The updated document is returned.
	// When fn fails, nothing is persisted and its error is returned.
	Update(ctx context.Context, fn func(doc *state.Document) error) (state.Document, error)
}

// -----------------------------------------------------------------------------
// Vendor Billing API Ports
// -----------------------------------------------------------------------------

// PropertyFilter requires an event property to exist before the vendor
// counts the event toward a metric.
type PropertyFilter struct {
	Name   string
	Exists bool
}

// MetricSpec describes a billable metric to create.
type MetricSpec struct {
	Name            string
	EventType       string
	AggregationType string
	AggregationKey  string
	GroupKeys       [][]string
	PropertyFilters []PropertyFilter
}

// Metric is a vendor billable metric.
type Metric struct {
	ID              string
	Name            string
	EventType       string
	AggregationType string
	AggregationKey  string
	GroupKeys       [][]string
}

// Customer is a vendor customer record.
type Customer struct {
	ID            string
	Name          string
	IngestAliases []string
}

// ProductSpec describes a USAGE product tied to a billable metric.
type ProductSpec struct {
	Name                 string
	BillableMetricID     string
	PricingGroupKey      []string
	PresentationGroupKey []string
}

// RateSpec describes a FLAT rate to add to a rate card, optionally
// scoped to one pricing dimension combination.
type RateSpec struct {
	RateCardID         string
	ProductID          string
	PriceCents         int64
	StartingAt         string
	PricingGroupValues map[string]string
}

// Rate is one priced rate on a rate card.
type Rate struct {
	ID                 string
	PriceCents         int64
	Entitled           bool
	PricingGroupValues map[string]string
}

// UsageEvent is a single metered event. The vendor deduplicates on
// (customer identifier, transaction ID). Property values are strings
// per the vendor ingestion contract, numeric ones included.
type UsageEvent struct {
	CustomerID    string
	EventType     string
	TransactionID string
	Timestamp     time.Time
	Properties    map[string]string
}

// GroupedUsageQuery selects grouped usage rows for one metric,
// customer, dimension key, and half-open time window [Start, End).
type GroupedUsageQuery struct {
	CustomerID string
	MetricID   string
	Start      time.Time
	End        time.Time
	GroupKey   string
	WindowSize string
}

// PrepaidBalance is the remaining prepaid commit for a customer.
type PrepaidBalance struct {
	TotalCents     int64
	RemainingCents int64
}

// MetricCatalog manages billable metrics on the vendor.
type MetricCatalog interface {
	// CreateMetric creates a new billable metric.
	CreateMetric(ctx context.Context, spec MetricSpec) (Metric, error)

	// ListMetrics returns all non-archived billable metrics.
	ListMetrics(ctx context.Context) ([]Metric, error)

	// GetMetric retrieves a metric by ID; found=false when the vendor
	// does not know the ID.
	GetMetric(ctx context.Context, id string) (m Metric, found bool, err error)
}

// CustomerDirectory manages vendor customers.
type CustomerDirectory interface {
	// CreateCustomer creates a customer, attaching the ingest alias
	// when non-empty.
	CreateCustomer(ctx context.Context, name, ingestAlias string) (Customer, error)

	// CustomerByAlias looks a customer up by ingest alias.
	CustomerByAlias(ctx context.Context, ingestAlias string) (c Customer, found bool, err error)
}

// PricingAdmin manages products, rate cards, and rates.
type PricingAdmin interface {
	// CreateProduct creates a USAGE product and returns its ID.
	CreateProduct(ctx context.Context, spec ProductSpec) (string, error)

	// CreateRateCard creates a rate card and returns its ID.
	CreateRateCard(ctx context.Context, name, description string) (string, error)

	// AddFlatRate adds one FLAT rate and returns its ID.
	AddFlatRate(ctx context.Context, spec RateSpec) (string, error)

	// ListRates returns the entitled rates on a rate card for a
	// product, effective at the given RFC3339 instant.
	ListRates(ctx context.Context, rateCardID, productID, at string) ([]Rate, error)
}

// ContractAdmin creates contracts binding customers to rate cards.
type ContractAdmin interface {
	// CreateContract creates a contract and returns its ID.
	CreateContract(ctx context.Context, customerID, rateCardID, startingAt string) (string, error)
}

// UsageIngestor sends metered usage to the vendor.
type UsageIngestor interface {
	// IngestEvent sends exactly one usage event. Safe to retry: the
	// vendor deduplicates on (customer, transaction ID).
	IngestEvent(ctx context.Context, ev UsageEvent) error
}

// UsageReader queries vendor-aggregated usage.
type UsageReader interface {
	// GroupedUsage returns grouped usage rows for the query window.
	GroupedUsage(ctx context.Context, q GroupedUsageQuery) ([]usage.GroupedRow, error)
}

// BalanceReader reads prepaid commit balances.
type BalanceReader interface {
	// PrepaidBalance returns the customer's remaining prepaid balance.
	PrepaidBalance(ctx context.Context, customerID string) (PrepaidBalance, error)
}

// DashboardLinker mints embeddable vendor dashboard URLs.
type DashboardLinker interface {
	// EmbeddableDashboardURL returns a short-lived embeddable URL for
	// the named vendor dashboard.
	EmbeddableDashboardURL(ctx context.Context, customerID, dashboard string) (string, error)
}

// BillingVendor is the full vendor API surface the service consumes.
type BillingVendor interface {
	MetricCatalog
	CustomerDirectory
	PricingAdmin
	ContractAdmin
	UsageIngestor
	UsageReader
	BalanceReader
	DashboardLinker
}
