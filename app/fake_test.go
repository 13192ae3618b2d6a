package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/novalabs/meterlink/domain/tier"
	"github.com/novalabs/meterlink/domain/usage"
	"github.com/novalabs/meterlink/ports"
)

// fakeVendor is a scriptable in-memory ports.BillingVendor that records
// calls for assertion.
type fakeVendor struct {
	mu sync.Mutex

	metrics   []ports.Metric
	customers []ports.Customer
	rates     []ports.Rate
	rows      []usage.GroupedRow
	balance   ports.PrepaidBalance

	nextID int

	createMetricCalls   int
	createProductCalls  int
	createRateCardCalls int
	addRateCalls        []ports.RateSpec
	createContractCalls int
	ingested            []ports.UsageEvent
	lastUsageQuery      ports.GroupedUsageQuery

	ingestErr error
}

var _ ports.BillingVendor = (*fakeVendor)(nil)

func (f *fakeVendor) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeVendor) CreateMetric(ctx context.Context, spec ports.MetricSpec) (ports.Metric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createMetricCalls++
	m := ports.Metric{
		ID:              f.id("met"),
		Name:            spec.Name,
		EventType:       spec.EventType,
		AggregationType: spec.AggregationType,
		AggregationKey:  spec.AggregationKey,
		GroupKeys:       spec.GroupKeys,
	}
	f.metrics = append(f.metrics, m)
	return m, nil
}

func (f *fakeVendor) ListMetrics(ctx context.Context) ([]ports.Metric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.Metric(nil), f.metrics...), nil
}

func (f *fakeVendor) GetMetric(ctx context.Context, id string) (ports.Metric, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.metrics {
		if m.ID == id {
			return m, true, nil
		}
	}
	return ports.Metric{}, false, nil
}

func (f *fakeVendor) CreateCustomer(ctx context.Context, name, ingestAlias string) (ports.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := ports.Customer{ID: f.id("cus"), Name: name}
	if ingestAlias != "" {
		c.IngestAliases = []string{ingestAlias}
	}
	f.customers = append(f.customers, c)
	return c, nil
}

func (f *fakeVendor) CustomerByAlias(ctx context.Context, ingestAlias string) (ports.Customer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		for _, a := range c.IngestAliases {
			if a == ingestAlias {
				return c, true, nil
			}
		}
	}
	return ports.Customer{}, false, nil
}

func (f *fakeVendor) CreateProduct(ctx context.Context, spec ports.ProductSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createProductCalls++
	return f.id("prod"), nil
}

func (f *fakeVendor) CreateRateCard(ctx context.Context, name, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createRateCardCalls++
	return f.id("rc"), nil
}

func (f *fakeVendor) AddFlatRate(ctx context.Context, spec ports.RateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addRateCalls = append(f.addRateCalls, spec)
	return f.id("rate"), nil
}

func (f *fakeVendor) ListRates(ctx context.Context, rateCardID, productID, at string) ([]ports.Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.Rate(nil), f.rates...), nil
}

func (f *fakeVendor) CreateContract(ctx context.Context, customerID, rateCardID, startingAt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createContractCalls++
	return f.id("con"), nil
}

func (f *fakeVendor) IngestEvent(ctx context.Context, ev ports.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return f.ingestErr
	}
	f.ingested = append(f.ingested, ev)
	return nil
}

func (f *fakeVendor) GroupedUsage(ctx context.Context, q ports.GroupedUsageQuery) ([]usage.GroupedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUsageQuery = q
	return append([]usage.GroupedRow(nil), f.rows...), nil
}

func (f *fakeVendor) PrepaidBalance(ctx context.Context, customerID string) (ports.PrepaidBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeVendor) EmbeddableDashboardURL(ctx context.Context, customerID, dashboard string) (string, error) {
	return "https://vendor.example/embed/" + dashboard, nil
}

// recordingInst counts instrumentation callbacks.
type recordingInst struct {
	mu         sync.Mutex
	ingested   int
	rejected   map[string]int
	allocated  int
	saveErrors int
}

func newRecordingInst() *recordingInst {
	return &recordingInst{rejected: map[string]int{}}
}

func (r *recordingInst) EventIngested(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested++
}

func (r *recordingInst) EventRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[reason]++
}

func (r *recordingInst) TxIDAllocated(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocated++
}

func (r *recordingInst) StateSaveError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErrors++
}

func newTestCatalog(t *testing.T) tier.Catalog {
	t.Helper()
	catalog, err := tier.NewCatalog([]string{"size", "warehouse"}, []tier.Definition{
		{Values: map[string]string{"size": "small", "warehouse": "aws"}, PriceCents: 54},
		{Values: map[string]string{"size": "large", "warehouse": "aws"}, PriceCents: 216},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}
