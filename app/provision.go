package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/domain/tier"
	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// MetricConfig describes the billable metric the service provisions.
type MetricConfig struct {
	Name            string
	EventType       string
	AggregationType string
	AggregationKey  string

	// GroupKey is the event property carrying the tier key, used both
	// for vendor-side grouping and per-tier pricing.
	GroupKey string
}

// PricingConfig describes the product and rate card the service
// provisions.
type PricingConfig struct {
	ProductName         string
	RateCardName        string
	RateCardDescription string

	// EffectiveAt is the RFC3339 instant rates and contracts start at.
	// Empty means the current UTC midnight.
	EffectiveAt string

	// Reuse keeps product and rate card IDs found in state instead of
	// creating fresh objects.
	Reuse bool
}

// Provisioner creates and reuses billing objects on the vendor and
// records their IDs in the local state document.
type Provisioner struct {
	vendor  ports.BillingVendor
	store   ports.StateStore
	clock   ports.Clock
	catalog tier.Catalog
	metric  MetricConfig
	pricing PricingConfig
	logger  zerolog.Logger
}

// ProvisionerDeps contains dependencies for Provisioner.
type ProvisionerDeps struct {
	Vendor  ports.BillingVendor
	Store   ports.StateStore
	Clock   ports.Clock
	Catalog tier.Catalog
}

// NewProvisioner creates a billing object provisioner.
func NewProvisioner(deps ProvisionerDeps, metric MetricConfig, pricing PricingConfig, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		vendor:  deps.Vendor,
		store:   deps.Store,
		clock:   deps.Clock,
		catalog: deps.Catalog,
		metric:  metric,
		pricing: pricing,
		logger:  logger.With().Str("component", "provisioner").Logger(),
	}
}

func (p *Provisioner) effectiveAt() string {
	if p.pricing.EffectiveAt != "" {
		return p.pricing.EffectiveAt
	}
	now := p.clock.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Format("2006-01-02T15:04:05Z")
}

func (p *Provisioner) metricSpec() ports.MetricSpec {
	return ports.MetricSpec{
		Name:            p.metric.Name,
		EventType:       p.metric.EventType,
		AggregationType: p.metric.AggregationType,
		AggregationKey:  p.metric.AggregationKey,
		GroupKeys:       [][]string{{p.metric.GroupKey}},
		PropertyFilters: []ports.PropertyFilter{
			{Name: p.metric.GroupKey, Exists: true},
			{Name: p.metric.AggregationKey, Exists: true},
		},
	}
}

// EnsureMetric returns the billable metric the service bills against,
// reusing the stored ID, then a vendor metric with the configured name,
// and creating one only when neither exists.
func (p *Provisioner) EnsureMetric(ctx context.Context) (ports.Metric, error) {
	doc, err := p.store.Load(ctx)
	if err != nil {
		return ports.Metric{}, err
	}

	if doc.MetricID != "" {
		m, found, err := p.vendor.GetMetric(ctx, doc.MetricID)
		if err != nil {
			return ports.Metric{}, apperr.Upstream("retrieve billable metric", err)
		}
		if found {
			return m, nil
		}
		p.logger.Warn().Str("metric_id", doc.MetricID).Msg("stored metric id unknown to vendor; re-resolving")
	}

	metrics, err := p.vendor.ListMetrics(ctx)
	if err != nil {
		return ports.Metric{}, apperr.Upstream("list billable metrics", err)
	}
	for _, m := range metrics {
		if m.Name != p.metric.Name {
			continue
		}
		p.warnOnMismatch(m)
		if err := p.saveMetricID(ctx, m.ID); err != nil {
			return ports.Metric{}, err
		}
		return m, nil
	}

	m, err := p.vendor.CreateMetric(ctx, p.metricSpec())
	if err != nil {
		return ports.Metric{}, apperr.Upstream("create billable metric", err)
	}
	p.logger.Info().Str("metric_id", m.ID).Str("name", m.Name).Msg("billable metric created")
	if err := p.saveMetricID(ctx, m.ID); err != nil {
		return ports.Metric{}, err
	}
	return m, nil
}

// warnOnMismatch flags a reused metric whose vendor-side settings drift
// from the configured spec. The metric is still reused.
func (p *Provisioner) warnOnMismatch(m ports.Metric) {
	if m.EventType != "" && m.EventType != p.metric.EventType {
		p.logger.Warn().Str("metric_id", m.ID).
			Str("configured", p.metric.EventType).Str("vendor", m.EventType).
			Msg("reused metric event type differs from configuration")
	}
	if m.AggregationType != "" && m.AggregationType != p.metric.AggregationType {
		p.logger.Warn().Str("metric_id", m.ID).
			Str("configured", p.metric.AggregationType).Str("vendor", m.AggregationType).
			Msg("reused metric aggregation type differs from configuration")
	}
	if m.AggregationKey != "" && m.AggregationKey != p.metric.AggregationKey {
		p.logger.Warn().Str("metric_id", m.ID).
			Str("configured", p.metric.AggregationKey).Str("vendor", m.AggregationKey).
			Msg("reused metric aggregation key differs from configuration")
	}
}

func (p *Provisioner) saveMetricID(ctx context.Context, id string) error {
	_, err := p.store.Update(ctx, func(doc *state.Document) error {
		doc.MetricID = id
		return nil
	})
	return err
}

// EnsurePricing returns the product and rate card IDs, creating either
// when absent (or when reuse is disabled). Per-tier FLAT rates are added
// only when a pricing object was created in this call: rates on a reused
// card are assumed already present.
func (p *Provisioner) EnsurePricing(ctx context.Context) (productID, rateCardID string, err error) {
	doc, err := p.store.Load(ctx)
	if err != nil {
		return "", "", err
	}
	if doc.MetricID == "" {
		return "", "", apperr.Configuration("no billable metric provisioned", "create the billable metric first (POST /api/metrics)")
	}

	productID = doc.ProductID
	rateCardID = doc.RateCardID
	created := false

	if productID == "" || !p.pricing.Reuse {
		productID, err = p.vendor.CreateProduct(ctx, ports.ProductSpec{
			Name:                 p.pricing.ProductName,
			BillableMetricID:     doc.MetricID,
			PricingGroupKey:      []string{p.metric.GroupKey},
			PresentationGroupKey: []string{p.metric.GroupKey},
		})
		if err != nil {
			return "", "", apperr.Upstream("create product", err)
		}
		created = true
		p.logger.Info().Str("product_id", productID).Msg("product created")
	}

	if rateCardID == "" || !p.pricing.Reuse {
		rateCardID, err = p.vendor.CreateRateCard(ctx, p.pricing.RateCardName, p.pricing.RateCardDescription)
		if err != nil {
			return "", "", apperr.Upstream("create rate card", err)
		}
		created = true
		p.logger.Info().Str("rate_card_id", rateCardID).Msg("rate card created")
	}

	if created {
		startingAt := p.effectiveAt()
		for _, key := range p.catalog.Keys() {
			cents, _ := p.catalog.PriceCents(key)
			_, err := p.vendor.AddFlatRate(ctx, ports.RateSpec{
				RateCardID:         rateCardID,
				ProductID:          productID,
				PriceCents:         cents,
				StartingAt:         startingAt,
				PricingGroupValues: map[string]string{p.metric.GroupKey: key},
			})
			if err != nil {
				return "", "", apperr.Upstream(fmt.Sprintf("add rate for tier %q", key), err)
			}
		}
		p.logger.Info().Int("rates", len(p.catalog.Keys())).Msg("flat rates added")
	}

	_, err = p.store.Update(ctx, func(doc *state.Document) error {
		doc.ProductID = productID
		doc.RateCardID = rateCardID
		// Cache prices only for rates actually added above; on reuse
		// the cache is filled from the vendor card by RefreshPrices.
		if created {
			if doc.PricesByTier == nil {
				doc.PricesByTier = map[string]int64{}
			}
			for key, cents := range p.catalog.Prices() {
				doc.PricesByTier[key] = cents
			}
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return productID, rateCardID, nil
}

// EnsureCustomer returns the vendor customer for the ingest alias,
// creating one when the alias is unknown. Switching to a different
// customer drops any contract recorded for the previous one.
func (p *Provisioner) EnsureCustomer(ctx context.Context, name, alias string) (ports.Customer, error) {
	c, found, err := p.vendor.CustomerByAlias(ctx, alias)
	if err != nil {
		return ports.Customer{}, apperr.Upstream("lookup customer", err)
	}
	if !found {
		c, err = p.vendor.CreateCustomer(ctx, name, alias)
		if err != nil {
			return ports.Customer{}, apperr.Upstream("create customer", err)
		}
		p.logger.Info().Str("customer_id", c.ID).Str("alias", alias).Msg("customer created")
	}

	_, err = p.store.Update(ctx, func(doc *state.Document) error {
		doc.SetCustomer(c.ID, c.Name, alias)
		return nil
	})
	if err != nil {
		return ports.Customer{}, err
	}
	return c, nil
}

// EnsureContract creates a contract binding the stored customer to the
// stored rate card and records its ID.
func (p *Provisioner) EnsureContract(ctx context.Context) (string, error) {
	doc, err := p.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if doc.CustomerID == "" {
		return "", apperr.Configuration("no customer provisioned", "create a customer first (POST /api/customers)")
	}
	if doc.RateCardID == "" {
		return "", apperr.Configuration("no rate card provisioned", "create pricing first (POST /api/pricing)")
	}
	if doc.ContractID != "" {
		return doc.ContractID, nil
	}

	startingAt := p.effectiveAt()
	id, err := p.vendor.CreateContract(ctx, doc.CustomerID, doc.RateCardID, startingAt)
	if err != nil {
		return "", apperr.Upstream("create contract", err)
	}
	p.logger.Info().Str("contract_id", id).Str("starting_at", startingAt).Msg("contract created")

	_, err = p.store.Update(ctx, func(doc *state.Document) error {
		doc.ContractID = id
		doc.ContractStartAt = startingAt
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RefreshPrices re-reads entitled rates from the vendor and caches the
// per-tier unit prices in state. The returned map is keyed by tier key.
func (p *Provisioner) RefreshPrices(ctx context.Context) (map[string]int64, error) {
	doc, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if doc.RateCardID == "" || doc.ProductID == "" {
		return nil, apperr.Configuration("no pricing provisioned", "create pricing first (POST /api/pricing)")
	}

	rates, err := p.vendor.ListRates(ctx, doc.RateCardID, doc.ProductID, p.effectiveAt())
	if err != nil {
		return nil, apperr.Upstream("list rates", err)
	}

	prices := make(map[string]int64)
	for _, r := range rates {
		if !r.Entitled {
			continue
		}
		key := r.PricingGroupValues[p.metric.GroupKey]
		if key == "" {
			continue
		}
		prices[key] = r.PriceCents
	}

	_, err = p.store.Update(ctx, func(doc *state.Document) error {
		doc.PricesByTier = prices
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prices, nil
}
