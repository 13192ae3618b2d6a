// Package memory provides in-memory adapter implementations, used in
// tests and anywhere durability is not required.
package memory

import (
	"context"
	"sync"

	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/ports"
)

// StateStore keeps the state document in memory behind a mutex.
type StateStore struct {
	mu  sync.Mutex
	doc state.Document
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// Load returns a copy of the current document.
func (s *StateStore) Load(ctx context.Context) (state.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), nil
}

// Update applies fn under the lock and keeps the result.
func (s *StateStore) Update(ctx context.Context, fn func(doc *state.Document) error) (state.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.Clone()
	if err := fn(&next); err != nil {
		return state.Document{}, err
	}
	s.doc = next
	return next.Clone(), nil
}

// Reset discards all state, simulating deletion of a backing file.
func (s *StateStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = state.Document{}
}

// Ensure interface compliance.
var _ ports.StateStore = (*StateStore)(nil)
