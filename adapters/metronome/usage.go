package metronome

import (
	"context"
	"fmt"

	"github.com/novalabs/meterlink/domain/usage"
	"github.com/novalabs/meterlink/ports"
)

// ----------------------------------------------------------------------------
// Usage ingestion
// ----------------------------------------------------------------------------

type wireEvent struct {
	CustomerID    string            `json:"customer_id"`
	EventType     string            `json:"event_type"`
	TransactionID string            `json:"transaction_id"`
	Timestamp     string            `json:"timestamp"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// IngestEvent sends one usage event. The vendor deduplicates on
// (customer, transaction ID), so a retried send can never double-bill.
func (v *Vendor) IngestEvent(ctx context.Context, ev ports.UsageEvent) error {
	body := []wireEvent{{
		CustomerID:    ev.CustomerID,
		EventType:     ev.EventType,
		TransactionID: ev.TransactionID,
		Timestamp:     rfc3339utc(ev.Timestamp),
		Properties:    ev.Properties,
	}}

	if err := v.client.doIdempotent(ctx, "ingest", "POST", "/v1/ingest", body, nil); err != nil {
		return fmt.Errorf("ingest event: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Grouped usage
// ----------------------------------------------------------------------------

type wireGroupedRow struct {
	GroupKey   string `json:"group_key"`
	GroupValue string `json:"group_value"`
	Value      any    `json:"value"`
}

func (v *Vendor) GroupedUsage(ctx context.Context, q ports.GroupedUsageQuery) ([]usage.GroupedRow, error) {
	window := q.WindowSize
	if window == "" {
		window = "DAY"
	}
	req := map[string]any{
		"billable_metric_id": q.MetricID,
		"customer_id":        q.CustomerID,
		"window_size":        window,
		"starting_on":        rfc3339utc(q.Start),
		"ending_before":      rfc3339utc(q.End),
		"group_by":           map[string]any{"key": q.GroupKey},
	}

	var resp dataEnvelope[[]wireGroupedRow]
	if err := v.client.doIdempotent(ctx, "grouped_usage", "POST", "/v1/usage/groups", req, &resp); err != nil {
		return nil, fmt.Errorf("grouped usage: %w", err)
	}

	out := make([]usage.GroupedRow, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, usage.GroupedRow{
			GroupKey:   r.GroupKey,
			GroupValue: r.GroupValue,
			Value:      r.Value,
		})
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Prepaid balances
// ----------------------------------------------------------------------------

type wireBalance struct {
	Type           string `json:"type"`
	AccessSchedule *struct {
		ScheduleItems []struct {
			Amount float64 `json:"amount"`
		} `json:"schedule_items"`
	} `json:"access_schedule,omitempty"`
	Balance float64 `json:"balance"`
}

// PrepaidBalance sums the customer's prepaid commit grants and what
// remains of them. A customer with no commits reports zero on both.
func (v *Vendor) PrepaidBalance(ctx context.Context, customerID string) (ports.PrepaidBalance, error) {
	req := map[string]any{
		"customer_id":     customerID,
		"include_balance": true,
	}

	var resp dataEnvelope[[]wireBalance]
	err := v.client.doIdempotent(ctx, "list_balances", "POST", "/v1/contracts/customerBalances/list", req, &resp)
	if err != nil {
		return ports.PrepaidBalance{}, fmt.Errorf("list balances: %w", err)
	}

	var out ports.PrepaidBalance
	for _, b := range resp.Data {
		if b.Type != "PREPAID" {
			continue
		}
		out.RemainingCents += int64(b.Balance)
		if b.AccessSchedule != nil {
			for _, item := range b.AccessSchedule.ScheduleItems {
				out.TotalCents += int64(item.Amount)
			}
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Embeddable dashboards
// ----------------------------------------------------------------------------

func (v *Vendor) EmbeddableDashboardURL(ctx context.Context, customerID, dashboard string) (string, error) {
	req := map[string]any{
		"customer_id": customerID,
		"dashboard":   dashboard,
	}

	var resp dataEnvelope[struct {
		URL string `json:"url"`
	}]
	if err := v.client.do(ctx, "dashboard_url", "POST", "/v1/dashboards/getEmbeddableUrl", req, &resp); err != nil {
		return "", fmt.Errorf("dashboard url: %w", err)
	}
	if resp.Data.URL == "" {
		return "", fmt.Errorf("dashboard url: response missing url")
	}
	return resp.Data.URL, nil
}
