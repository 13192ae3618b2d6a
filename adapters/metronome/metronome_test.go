package metronome

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/ports"
)

func newTestVendor(t *testing.T, handler http.Handler) (*Vendor, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:      server.URL,
		BearerToken:  "test-token",
		Timeout:      2 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())
	return NewVendor(client), server
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "cus_1"}})
	}))

	if _, err := vendor.CreateCustomer(context.Background(), "Acme", ""); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestCreateCustomer(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("path = %q, want /v1/customers", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["name"] != "Dunder Mifflin" {
			t.Errorf("name = %v, want Dunder Mifflin", req["name"])
		}
		aliases, ok := req["ingest_aliases"].([]any)
		if !ok || len(aliases) != 1 || aliases[0] != "demo_mscott@dunder.com" {
			t.Errorf("ingest_aliases = %v", req["ingest_aliases"])
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id":             "cus_42",
			"name":           "Dunder Mifflin",
			"ingest_aliases": []string{"demo_mscott@dunder.com"},
		}})
	}))

	c, err := vendor.CreateCustomer(context.Background(), "Dunder Mifflin", "demo_mscott@dunder.com")
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if c.ID != "cus_42" {
		t.Errorf("ID = %q, want cus_42", c.ID)
	}
}

func TestCreateCustomer_MissingID(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))

	if _, err := vendor.CreateCustomer(context.Background(), "Acme", ""); err == nil {
		t.Fatal("expected error on response without id")
	}
}

func TestCustomerByAlias_NotFound(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))

	_, found, err := vendor.CustomerByAlias(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("CustomerByAlias: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestGetMetric_404MapsToNotFound(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such metric"}`, http.StatusNotFound)
	}))

	_, found, err := vendor.GetMetric(context.Background(), "met_missing")
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestCreateMetric_SendsEventTypeFilter(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		filter, _ := req["event_type_filter"].(map[string]any)
		values, _ := filter["in_values"].([]any)
		if len(values) != 1 || values[0] != "job_completed" {
			t.Errorf("event_type_filter.in_values = %v", values)
		}
		if req["aggregation_type"] != "COUNT" {
			t.Errorf("aggregation_type = %v", req["aggregation_type"])
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "met_1"}})
	}))

	m, err := vendor.CreateMetric(context.Background(), ports.MetricSpec{
		Name:            "Compute Jobs",
		EventType:       "job_completed",
		AggregationType: "COUNT",
		GroupKeys:       [][]string{{"tier"}},
	})
	if err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	if m.ID != "met_1" {
		t.Errorf("ID = %q, want met_1", m.ID)
	}
	if m.EventType != "job_completed" {
		t.Errorf("EventType = %q, want job_completed (filled from request)", m.EventType)
	}
}

func TestAddFlatRate_PricingGroupValues(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["rate_type"] != "FLAT" {
			t.Errorf("rate_type = %v, want FLAT", req["rate_type"])
		}
		if req["price"] != float64(54) {
			t.Errorf("price = %v, want 54", req["price"])
		}
		pgv, _ := req["pricing_group_values"].(map[string]any)
		if pgv["tier"] != "small-aws" {
			t.Errorf("pricing_group_values = %v", pgv)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "rate_1"}})
	}))

	id, err := vendor.AddFlatRate(context.Background(), ports.RateSpec{
		RateCardID:         "rc_1",
		ProductID:          "prod_1",
		PriceCents:         54,
		StartingAt:         "2026-01-01T00:00:00Z",
		PricingGroupValues: map[string]string{"tier": "small-aws"},
	})
	if err != nil {
		t.Fatalf("AddFlatRate: %v", err)
	}
	if id != "rate_1" {
		t.Errorf("id = %q, want rate_1", id)
	}
}

func TestListRates(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/contract-pricing/rate-cards/getRates" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{
				"id":                   "rate_1",
				"entitled":             true,
				"rate":                 map[string]any{"rate_type": "FLAT", "price": 54},
				"pricing_group_values": map[string]string{"tier": "small-aws"},
			},
			{
				"id":                   "rate_2",
				"entitled":             true,
				"rate":                 map[string]any{"rate_type": "FLAT", "price": 216},
				"pricing_group_values": map[string]string{"tier": "large-aws"},
			},
		}})
	}))

	rates, err := vendor.ListRates(context.Background(), "rc_1", "prod_1", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("ListRates: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("len(rates) = %d, want 2", len(rates))
	}
	if rates[0].PriceCents != 54 || rates[0].PricingGroupValues["tier"] != "small-aws" {
		t.Errorf("rates[0] = %+v", rates[0])
	}
}

func TestIngestEvent_WireFormat(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ingest" {
			t.Errorf("path = %q, want /v1/ingest", r.URL.Path)
		}
		var events []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("len(events) = %d, want 1", len(events))
		}
		ev := events[0]
		if ev["transaction_id"] != "nova-small-aws-20260827-02efc-0001" {
			t.Errorf("transaction_id = %v", ev["transaction_id"])
		}
		if ev["timestamp"] != "2026-08-27T10:30:00Z" {
			t.Errorf("timestamp = %v, want second-precision Z form", ev["timestamp"])
		}
		props, _ := ev["properties"].(map[string]any)
		if props["count"] != "3" {
			t.Errorf("properties.count = %v, want string \"3\"", props["count"])
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := vendor.IngestEvent(context.Background(), ports.UsageEvent{
		CustomerID:    "cus_42",
		EventType:     "job_completed",
		TransactionID: "nova-small-aws-20260827-02efc-0001",
		Timestamp:     time.Date(2026, 8, 27, 10, 30, 0, 123456789, time.UTC),
		Properties:    map[string]string{"tier": "small-aws", "count": "3"},
	})
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
}

func TestIngestEvent_RetriesOn503(t *testing.T) {
	var calls atomic.Int32
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := vendor.IngestEvent(context.Background(), ports.UsageEvent{
		CustomerID:    "cus_42",
		EventType:     "job_completed",
		TransactionID: "tx-1",
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatalf("IngestEvent after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestCreateContract_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))

	_, err := vendor.CreateContract(context.Background(), "cus_42", "rc_1", "2026-01-01T00:00:00Z")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (creations must not retry)", calls.Load())
	}
}

func TestIngestEvent_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad event", http.StatusBadRequest)
	}))

	err := vendor.IngestEvent(context.Background(), ports.UsageEvent{
		CustomerID: "cus_42",
		EventType:  "job_completed",
		Timestamp:  time.Now(),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx is not retryable)", calls.Load())
	}
}

func TestGroupedUsage(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["window_size"] != "DAY" {
			t.Errorf("window_size = %v, want DAY", req["window_size"])
		}
		groupBy, _ := req["group_by"].(map[string]any)
		if groupBy["key"] != "tier" {
			t.Errorf("group_by.key = %v, want tier", groupBy["key"])
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"group_key": "tier", "group_value": "small-aws", "value": 10},
			{"group_key": "tier", "group_value": "large-aws", "value": 2},
		}})
	}))

	rows, err := vendor.GroupedUsage(context.Background(), ports.GroupedUsageQuery{
		CustomerID: "cus_42",
		MetricID:   "met_1",
		Start:      time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		GroupKey:   "tier",
	})
	if err != nil {
		t.Fatalf("GroupedUsage: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].GroupValue != "small-aws" {
		t.Errorf("rows[0].GroupValue = %q", rows[0].GroupValue)
	}
}

func TestPrepaidBalance(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{
				"type":    "PREPAID",
				"balance": 960,
				"access_schedule": map[string]any{
					"schedule_items": []map[string]any{{"amount": 1000}},
				},
			},
			{"type": "POSTPAID", "balance": 500},
		}})
	}))

	bal, err := vendor.PrepaidBalance(context.Background(), "cus_42")
	if err != nil {
		t.Fatalf("PrepaidBalance: %v", err)
	}
	if bal.RemainingCents != 960 {
		t.Errorf("RemainingCents = %d, want 960", bal.RemainingCents)
	}
	if bal.TotalCents != 1000 {
		t.Errorf("TotalCents = %d, want 1000", bal.TotalCents)
	}
}

func TestEmbeddableDashboardURL(t *testing.T) {
	vendor, _ := newTestVendor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["dashboard"] != "usage" {
			t.Errorf("dashboard = %v, want usage", req["dashboard"])
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"url": "https://vendor.example/embed/abc",
		}})
	}))

	u, err := vendor.EmbeddableDashboardURL(context.Background(), "cus_42", "usage")
	if err != nil {
		t.Fatalf("EmbeddableDashboardURL: %v", err)
	}
	if u != "https://vendor.example/embed/abc" {
		t.Errorf("url = %q", u)
	}
}

// recordingInst captures one record per vendor call attempt.
type recordingInst struct {
	mu    sync.Mutex
	ops   []string
	fails int
}

func (r *recordingInst) VendorRequest(operation string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, operation)
	if err != nil {
		r.fails++
	}
}

func TestInstrumentationObservesCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "cus_1"}})
	}))
	t.Cleanup(server.Close)

	inst := &recordingInst{}
	client := NewClient(Config{BaseURL: server.URL, Inst: inst}, zerolog.Nop())
	vendor := NewVendor(client)

	if _, err := vendor.CreateCustomer(context.Background(), "Acme", ""); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if len(inst.ops) != 1 || inst.ops[0] != "create_customer" {
		t.Errorf("ops = %v, want [create_customer]", inst.ops)
	}
	if inst.fails != 0 {
		t.Errorf("fails = %d, want 0", inst.fails)
	}
}

func TestInstrumentationObservesEveryAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	inst := &recordingInst{}
	client := NewClient(Config{
		BaseURL:      server.URL,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		Inst:         inst,
	}, zerolog.Nop())
	vendor := NewVendor(client)

	err := vendor.IngestEvent(context.Background(), ports.UsageEvent{
		CustomerID:    "cus_42",
		EventType:     "job_completed",
		TransactionID: "tx-1",
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatalf("IngestEvent after retries: %v", err)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if len(inst.ops) != 3 {
		t.Fatalf("ops = %v, want one record per attempt", inst.ops)
	}
	for _, op := range inst.ops {
		if op != "ingest" {
			t.Errorf("op = %q, want ingest", op)
		}
	}
	if inst.fails != 2 {
		t.Errorf("fails = %d, want 2 failed attempts", inst.fails)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&APIError{StatusCode: 404}) {
		t.Error("404 should be not found")
	}
	if IsNotFound(&APIError{StatusCode: 500}) {
		t.Error("500 should not be not found")
	}
	if IsNotFound(context.Canceled) {
		t.Error("non-API error should not be not found")
	}
}
