package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novalabs/meterlink/adapters/metrics"
)

func TestNewWithRegistry(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.VendorRequests == nil {
		t.Error("VendorRequests is nil")
	}
	if m.EventsIngested == nil {
		t.Error("EventsIngested is nil")
	}
	if m.TxIDsAllocated == nil {
		t.Error("TxIDsAllocated is nil")
	}
	if m.StateSaveErrors == nil {
		t.Error("StateSaveErrors is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestEventsIngested(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.EventsIngested.WithLabelValues("small-aws").Inc()
	m.EventsIngested.WithLabelValues("small-aws").Inc()
	m.EventsIngested.WithLabelValues("large-aws").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, fam := range families {
		if fam.GetName() == "meterlink_events_ingested_total" {
			found = true
			if len(fam.GetMetric()) != 2 {
				t.Errorf("series = %d, want 2", len(fam.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("meterlink_events_ingested_total not gathered")
	}
}
