package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/adapters/clock"
	"github.com/novalabs/meterlink/adapters/memory"
	"github.com/novalabs/meterlink/app"
	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/pkg/apperr"
)

func newIngestor(t *testing.T, vendor *fakeVendor, store *memory.StateStore, inst *recordingInst, gate app.BalanceGate) *app.Ingestor {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC))
	alloc := app.NewAllocator(store, clk, "nova", inst, zerolog.Nop())
	return app.NewIngestor(app.IngestorDeps{
		Vendor:    vendor,
		Balances:  vendor,
		Store:     store,
		Clock:     clk,
		Allocator: alloc,
		Catalog:   newTestCatalog(t),
		Inst:      inst,
	}, "job_completed", "tier", "count", gate, zerolog.Nop())
}

func seedCustomer(t *testing.T, store *memory.StateStore) {
	t.Helper()
	_, err := store.Update(context.Background(), func(doc *state.Document) error {
		doc.SetCustomer("cus_42", "Dunder Mifflin", testCustomer)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestIngestUnknownTierRejectedBeforeAnything(t *testing.T) {
	vendor := &fakeVendor{}
	store := memory.NewStateStore()
	inst := newRecordingInst()
	ing := newIngestor(t, vendor, store, inst, app.BalanceGate{})
	seedCustomer(t, store)

	_, err := ing.Ingest(context.Background(), app.IngestRequest{TierKey: "mega-gcp"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("kind = %v, want validation", apperr.KindOf(err))
	}
	allowed := apperr.From(err).Allowed
	if len(allowed) != 2 || allowed[0] != "large-aws" || allowed[1] != "small-aws" {
		t.Errorf("allowed = %v, want sorted tier keys", allowed)
	}
	if len(vendor.ingested) != 0 {
		t.Error("vendor was called for a rejected event")
	}
	if inst.allocated != 0 {
		t.Error("allocator ran for a rejected event")
	}

	doc, _ := store.Load(context.Background())
	if len(doc.TxSeq) != 0 {
		t.Error("state was mutated for a rejected event")
	}
}

func TestIngestAllocatesAndSerializesProperties(t *testing.T) {
	vendor := &fakeVendor{}
	store := memory.NewStateStore()
	inst := newRecordingInst()
	ing := newIngestor(t, vendor, store, inst, app.BalanceGate{})
	seedCustomer(t, store)

	rcpt, err := ing.Ingest(context.Background(), app.IngestRequest{
		TierKey:    "small-aws",
		Quantity:   3,
		Properties: map[string]string{"job_id": "job-7"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if rcpt.TransactionID != "nova-small-aws-20260827-cus42-0001" {
		t.Errorf("transaction id = %q", rcpt.TransactionID)
	}
	if rcpt.Timestamp != "2026-08-27T10:30:00Z" {
		t.Errorf("timestamp = %q", rcpt.Timestamp)
	}

	if len(vendor.ingested) != 1 {
		t.Fatalf("vendor events = %d, want 1", len(vendor.ingested))
	}
	ev := vendor.ingested[0]
	if ev.CustomerID != "cus_42" {
		t.Errorf("customer = %q, want cus_42", ev.CustomerID)
	}
	if ev.EventType != "job_completed" {
		t.Errorf("event type = %q", ev.EventType)
	}
	wantProps := map[string]string{
		"tier":      "small-aws",
		"size":      "small",
		"warehouse": "aws",
		"count":     "3",
		"job_id":    "job-7",
	}
	for k, want := range wantProps {
		if got := ev.Properties[k]; got != want {
			t.Errorf("properties[%q] = %q, want %q", k, got, want)
		}
	}
	if inst.ingested != 1 {
		t.Errorf("ingested counter = %d, want 1", inst.ingested)
	}
}

func TestIngestExplicitTransactionIDSkipsAllocator(t *testing.T) {
	vendor := &fakeVendor{}
	store := memory.NewStateStore()
	inst := newRecordingInst()
	ing := newIngestor(t, vendor, store, inst, app.BalanceGate{})
	seedCustomer(t, store)

	rcpt, err := ing.Ingest(context.Background(), app.IngestRequest{
		TierKey:       "small-aws",
		TransactionID: "client-supplied-001",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rcpt.TransactionID != "client-supplied-001" {
		t.Errorf("transaction id = %q, want verbatim client id", rcpt.TransactionID)
	}
	if inst.allocated != 0 {
		t.Errorf("allocated counter = %d, want 0", inst.allocated)
	}

	doc, _ := store.Load(context.Background())
	if len(doc.TxSeq) != 0 {
		t.Error("allocator state advanced despite explicit transaction id")
	}
}

func TestIngestNormalizesTimestampToUTC(t *testing.T) {
	vendor := &fakeVendor{}
	store := memory.NewStateStore()
	ing := newIngestor(t, vendor, store, newRecordingInst(), app.BalanceGate{})
	seedCustomer(t, store)

	loc := time.FixedZone("IST", 5*3600+1800)
	rcpt, err := ing.Ingest(context.Background(), app.IngestRequest{
		TierKey:   "small-aws",
		Timestamp: time.Date(2026, 8, 27, 16, 0, 0, 987654321, loc),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rcpt.Timestamp != "2026-08-27T10:30:00Z" {
		t.Errorf("timestamp = %q, want UTC second precision", rcpt.Timestamp)
	}
}

func TestIngestNoCustomerIsConfigurationError(t *testing.T) {
	vendor := &fakeVendor{}
	store := memory.NewStateStore()
	ing := newIngestor(t, vendor, store, newRecordingInst(), app.BalanceGate{})

	_, err := ing.Ingest(context.Background(), app.IngestRequest{TierKey: "small-aws"})
	if apperr.KindOf(err) != apperr.KindConfiguration {
		t.Errorf("kind = %v, want configuration", apperr.KindOf(err))
	}
}

func TestIngestBalanceGate(t *testing.T) {
	vendor := &fakeVendor{}
	vendor.balance.RemainingCents = 100
	store := memory.NewStateStore()
	inst := newRecordingInst()
	ing := newIngestor(t, vendor, store, inst, app.BalanceGate{Enabled: true})
	seedCustomer(t, store)
	ctx := context.Background()

	// 1 small-aws event costs 54 cents: allowed.
	if _, err := ing.Ingest(ctx, app.IngestRequest{TierKey: "small-aws"}); err != nil {
		t.Fatalf("affordable event rejected: %v", err)
	}

	// 3 small-aws units cost 162 cents: declined.
	_, err := ing.Ingest(ctx, app.IngestRequest{TierKey: "small-aws", Quantity: 3})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation decline", apperr.KindOf(err))
	}
	if inst.rejected["insufficient_balance"] != 1 {
		t.Errorf("rejected[insufficient_balance] = %d, want 1", inst.rejected["insufficient_balance"])
	}
	if len(vendor.ingested) != 1 {
		t.Errorf("vendor events = %d, want only the affordable one", len(vendor.ingested))
	}
}
