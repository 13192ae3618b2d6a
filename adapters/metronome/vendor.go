package metronome

import (
	"context"
	"fmt"
	"net/url"

	"github.com/novalabs/meterlink/ports"
)

// Vendor implements the billing vendor ports over a Client.
type Vendor struct {
	client *Client
}

// NewVendor creates the vendor adapter.
func NewVendor(client *Client) *Vendor {
	return &Vendor{client: client}
}

var _ ports.BillingVendor = (*Vendor)(nil)

// dataEnvelope is the vendor's standard response wrapper.
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type idObject struct {
	ID string `json:"id"`
}

// ----------------------------------------------------------------------------
// Customers
// ----------------------------------------------------------------------------

type wireCustomer struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	IngestAliases []string `json:"ingest_aliases"`
}

func (c wireCustomer) toPort() ports.Customer {
	return ports.Customer{ID: c.ID, Name: c.Name, IngestAliases: c.IngestAliases}
}

func (v *Vendor) CreateCustomer(ctx context.Context, name, ingestAlias string) (ports.Customer, error) {
	req := map[string]any{"name": name}
	if ingestAlias != "" {
		req["ingest_aliases"] = []string{ingestAlias}
	}

	var resp dataEnvelope[wireCustomer]
	if err := v.client.do(ctx, "create_customer", "POST", "/v1/customers", req, &resp); err != nil {
		return ports.Customer{}, fmt.Errorf("create customer: %w", err)
	}
	if resp.Data.ID == "" {
		return ports.Customer{}, fmt.Errorf("create customer: response missing id")
	}
	return resp.Data.toPort(), nil
}

func (v *Vendor) CustomerByAlias(ctx context.Context, ingestAlias string) (ports.Customer, bool, error) {
	path := "/v1/customers?ingest_alias=" + url.QueryEscape(ingestAlias)

	var resp dataEnvelope[[]wireCustomer]
	if err := v.client.doIdempotent(ctx, "get_customer_by_alias", "GET", path, nil, &resp); err != nil {
		if IsNotFound(err) {
			return ports.Customer{}, false, nil
		}
		return ports.Customer{}, false, fmt.Errorf("lookup customer: %w", err)
	}
	if len(resp.Data) == 0 {
		return ports.Customer{}, false, nil
	}
	return resp.Data[0].toPort(), true, nil
}

// ----------------------------------------------------------------------------
// Billable metrics
// ----------------------------------------------------------------------------

type wirePropertyFilter struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

type wireMetric struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	AggregationType string     `json:"aggregation_type"`
	AggregationKey  string     `json:"aggregation_key,omitempty"`
	EventTypeFilter *struct {
		InValues []string `json:"in_values"`
	} `json:"event_type_filter,omitempty"`
	GroupKeys [][]string `json:"group_keys,omitempty"`
}

func (m wireMetric) toPort() ports.Metric {
	out := ports.Metric{
		ID:              m.ID,
		Name:            m.Name,
		AggregationType: m.AggregationType,
		AggregationKey:  m.AggregationKey,
		GroupKeys:       m.GroupKeys,
	}
	if m.EventTypeFilter != nil && len(m.EventTypeFilter.InValues) > 0 {
		out.EventType = m.EventTypeFilter.InValues[0]
	}
	return out
}

func (v *Vendor) CreateMetric(ctx context.Context, spec ports.MetricSpec) (ports.Metric, error) {
	filters := make([]wirePropertyFilter, 0, len(spec.PropertyFilters))
	for _, f := range spec.PropertyFilters {
		filters = append(filters, wirePropertyFilter{Name: f.Name, Exists: f.Exists})
	}

	req := map[string]any{
		"name":             spec.Name,
		"aggregation_type": spec.AggregationType,
		"event_type_filter": map[string]any{
			"in_values": []string{spec.EventType},
		},
	}
	if spec.AggregationKey != "" {
		req["aggregation_key"] = spec.AggregationKey
	}
	if len(spec.GroupKeys) > 0 {
		req["group_keys"] = spec.GroupKeys
	}
	if len(filters) > 0 {
		req["property_filters"] = filters
	}

	var resp dataEnvelope[wireMetric]
	if err := v.client.do(ctx, "create_metric", "POST", "/v1/billable-metrics", req, &resp); err != nil {
		return ports.Metric{}, fmt.Errorf("create billable metric: %w", err)
	}
	if resp.Data.ID == "" {
		return ports.Metric{}, fmt.Errorf("create billable metric: response missing id")
	}

	m := resp.Data.toPort()
	// Creation responses echo only the id; fill the rest from the request
	// so callers see a complete record either way.
	if m.Name == "" {
		m.Name = spec.Name
		m.EventType = spec.EventType
		m.AggregationType = spec.AggregationType
		m.AggregationKey = spec.AggregationKey
		m.GroupKeys = spec.GroupKeys
	}
	return m, nil
}

func (v *Vendor) ListMetrics(ctx context.Context) ([]ports.Metric, error) {
	var resp dataEnvelope[[]wireMetric]
	if err := v.client.doIdempotent(ctx, "list_metrics", "GET", "/v1/billable-metrics", nil, &resp); err != nil {
		return nil, fmt.Errorf("list billable metrics: %w", err)
	}

	out := make([]ports.Metric, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, m.toPort())
	}
	return out, nil
}

func (v *Vendor) GetMetric(ctx context.Context, id string) (ports.Metric, bool, error) {
	var resp dataEnvelope[wireMetric]
	err := v.client.doIdempotent(ctx, "get_metric", "GET", "/v1/billable-metrics/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		if IsNotFound(err) {
			return ports.Metric{}, false, nil
		}
		return ports.Metric{}, false, fmt.Errorf("get billable metric: %w", err)
	}
	return resp.Data.toPort(), true, nil
}

// ----------------------------------------------------------------------------
// Products, rate cards, rates
// ----------------------------------------------------------------------------

func (v *Vendor) CreateProduct(ctx context.Context, spec ports.ProductSpec) (string, error) {
	req := map[string]any{
		"name":               spec.Name,
		"type":               "USAGE",
		"billable_metric_id": spec.BillableMetricID,
	}
	if len(spec.PricingGroupKey) > 0 {
		req["pricing_group_key"] = spec.PricingGroupKey
	}
	if len(spec.PresentationGroupKey) > 0 {
		req["presentation_group_key"] = spec.PresentationGroupKey
	}

	var resp dataEnvelope[idObject]
	if err := v.client.do(ctx, "create_product", "POST", "/v1/contract-pricing/products/create", req, &resp); err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("create product: response missing id")
	}
	return resp.Data.ID, nil
}

func (v *Vendor) CreateRateCard(ctx context.Context, name, description string) (string, error) {
	req := map[string]any{"name": name}
	if description != "" {
		req["description"] = description
	}

	var resp dataEnvelope[idObject]
	if err := v.client.do(ctx, "create_rate_card", "POST", "/v1/contract-pricing/rate-cards/create", req, &resp); err != nil {
		return "", fmt.Errorf("create rate card: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("create rate card: response missing id")
	}
	return resp.Data.ID, nil
}

func (v *Vendor) AddFlatRate(ctx context.Context, spec ports.RateSpec) (string, error) {
	req := map[string]any{
		"rate_card_id": spec.RateCardID,
		"product_id":   spec.ProductID,
		"rate_type":    "FLAT",
		"price":        spec.PriceCents,
		"entitled":     true,
		"starting_at":  spec.StartingAt,
	}
	if len(spec.PricingGroupValues) > 0 {
		req["pricing_group_values"] = spec.PricingGroupValues
	}

	var resp dataEnvelope[idObject]
	if err := v.client.do(ctx, "add_rate", "POST", "/v1/contract-pricing/rate-cards/addRate", req, &resp); err != nil {
		return "", fmt.Errorf("add rate: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("add rate: response missing id")
	}
	return resp.Data.ID, nil
}

type wireRate struct {
	ID       string `json:"id"`
	Entitled bool   `json:"entitled"`
	Rate     struct {
		RateType string  `json:"rate_type"`
		Price    float64 `json:"price"`
	} `json:"rate"`
	PricingGroupValues map[string]string `json:"pricing_group_values,omitempty"`
}

func (v *Vendor) ListRates(ctx context.Context, rateCardID, productID, at string) ([]ports.Rate, error) {
	req := map[string]any{
		"rate_card_id": rateCardID,
		"at":           at,
		"selectors":    []map[string]any{{"product_id": productID}},
	}

	var resp dataEnvelope[[]wireRate]
	if err := v.client.doIdempotent(ctx, "list_rates", "POST", "/v1/contract-pricing/rate-cards/getRates", req, &resp); err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}

	out := make([]ports.Rate, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, ports.Rate{
			ID:                 r.ID,
			PriceCents:         int64(r.Rate.Price),
			Entitled:           r.Entitled,
			PricingGroupValues: r.PricingGroupValues,
		})
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Contracts
// ----------------------------------------------------------------------------

func (v *Vendor) CreateContract(ctx context.Context, customerID, rateCardID, startingAt string) (string, error) {
	req := map[string]any{
		"customer_id":  customerID,
		"rate_card_id": rateCardID,
		"starting_at":  startingAt,
	}

	var resp dataEnvelope[idObject]
	if err := v.client.do(ctx, "create_contract", "POST", "/v1/contracts/create", req, &resp); err != nil {
		return "", fmt.Errorf("create contract: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("create contract: response missing id")
	}
	return resp.Data.ID, nil
}
