package statefile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/novalabs/meterlink/adapters/statefile"
	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/pkg/apperr"
)

func newStore(t *testing.T) *statefile.Store {
	t.Helper()
	return statefile.New(filepath.Join(t.TempDir(), "state.json"))
}

func TestLoad_MissingFileIsEmptyState(t *testing.T) {
	s := newStore(t)

	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.MetricID != "" || doc.TxSeq != nil {
		t.Errorf("missing file should load as zero document, got %+v", doc)
	}
}

func TestUpdate_PersistsAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s1 := statefile.New(path)
	_, err := s1.Update(ctx, func(doc *state.Document) error {
		doc.MetricID = "met_1"
		doc.NextSeq("cust-1", "20250928", "small-aws")
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A fresh store over the same file sees the persisted document.
	s2 := statefile.New(path)
	doc, err := s2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.MetricID != "met_1" {
		t.Errorf("MetricID = %s, want met_1", doc.MetricID)
	}
	if doc.TxSeq["cust-1"]["20250928"]["small-aws"] != 1 {
		t.Errorf("TxSeq not persisted: %+v", doc.TxSeq)
	}
}

func TestUpdate_FnErrorPersistsNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Update(ctx, func(doc *state.Document) error {
		doc.MetricID = "met_should_not_persist"
		return errors.New("boom")
	}); err == nil {
		t.Fatal("Update should propagate fn error")
	}

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.MetricID != "" {
		t.Error("failed Update must not persist changes")
	}
}

func TestLoad_CorruptFileIsStateIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := statefile.New(path)
	_, err := s.Load(context.Background())
	if err == nil {
		t.Fatal("corrupt file should not be conflated with empty state")
	}
	if apperr.KindOf(err) != apperr.KindStateIO {
		t.Errorf("KindOf = %v, want KindStateIO", apperr.KindOf(err))
	}
}

func TestDeletingFileResetsCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s := statefile.New(path)

	bump := func() int64 {
		var got int64
		_, err := s.Update(ctx, func(doc *state.Document) error {
			got = doc.NextSeq("cust-1", "20250928", "small-aws")
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		return got
	}

	bump()
	if got := bump(); got != 2 {
		t.Fatalf("second allocation = %d, want 2", got)
	}

	// Clearing the store restarts numbering (documented collision risk).
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if got := bump(); got != 1 {
		t.Errorf("allocation after reset = %d, want 1", got)
	}
}
