package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/domain/txid"
	"github.com/novalabs/meterlink/ports"
)

// Allocator mints deterministic transaction IDs backed by per-
// (customer, day, tier) sequence counters in the state store. IDs from
// one store never repeat within a day bucket because the store's Update
// serializes the whole read-increment-write cycle.
type Allocator struct {
	store     ports.StateStore
	clock     ports.Clock
	namespace string
	inst      Instrumentation
	logger    zerolog.Logger
}

// NewAllocator creates a transaction ID allocator.
func NewAllocator(store ports.StateStore, clock ports.Clock, namespace string, inst Instrumentation, logger zerolog.Logger) *Allocator {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	return &Allocator{
		store:     store,
		clock:     clock,
		namespace: namespace,
		inst:      inst,
		logger:    logger.With().Str("component", "allocator").Logger(),
	}
}

// Allocate returns the next transaction ID for the customer and tier in
// the current UTC day bucket.
//
// A failure to persist the incremented counter is logged and counted
// but does not fail the allocation: the caller still gets a usable ID,
// at the documented risk of a duplicate after a crash.
func (a *Allocator) Allocate(ctx context.Context, customerID, tierKey string) (string, error) {
	day := txid.DayBucket(a.clock.Now())

	var seq int64
	_, err := a.store.Update(ctx, func(doc *state.Document) error {
		seq = doc.NextSeq(customerID, day, tierKey)
		return nil
	})
	if err != nil {
		// The write failed, so the persisted counter is unchanged;
		// recompute the same next value from the stored document.
		doc, loadErr := a.store.Load(ctx)
		if loadErr != nil {
			return "", loadErr
		}
		seq = doc.NextSeq(customerID, day, tierKey)
		a.inst.StateSaveError()
		a.logger.Warn().
			Err(err).
			Str("customer", customerID).
			Str("tier", tierKey).
			Str("day", day).
			Msg("state save failed; returning unpersisted transaction id")
	}

	id := txid.Format(a.namespace, tierKey, day, customerID, seq)
	a.inst.TxIDAllocated(tierKey)
	return id, nil
}
