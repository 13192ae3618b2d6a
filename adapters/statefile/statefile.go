// Package statefile persists the state document as a single JSON file.
// The document is read and written wholesale; a mutex serializes every
// read-modify-write so sequence counters stay unique under concurrent
// requests. Deleting the file resets all local state, counters
// included.
package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// Store is a file-backed ports.StateStore.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store backed by the JSON document at path. The file is
// created on first write; its absence is valid empty state.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns a copy of the current document. A missing file yields a
// zero document and no error; unreadable or corrupt files surface as
// state I/O errors rather than being silently treated as empty.
func (s *Store) Load(ctx context.Context) (state.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies fn to the document under the store's lock and writes
// the result back atomically (temp file + rename). When fn fails,
// nothing is persisted.
func (s *Store) Update(ctx context.Context, fn func(doc *state.Document) error) (state.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return state.Document{}, err
	}

	if err := fn(&doc); err != nil {
		return state.Document{}, err
	}

	if err := s.write(doc); err != nil {
		return state.Document{}, err
	}
	return doc, nil
}

func (s *Store) read() (state.Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			// No prior state: expected on first run, not an error.
			return state.Document{}, nil
		}
		return state.Document{}, apperr.StateIO(fmt.Sprintf("read state file %s", s.path), err)
	}

	var doc state.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return state.Document{}, apperr.StateIO(fmt.Sprintf("parse state file %s", s.path), err)
	}
	return doc, nil
}

func (s *Store) write(doc state.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.StateIO("encode state document", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return apperr.StateIO(fmt.Sprintf("create temp state file in %s", dir), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperr.StateIO("write state file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.StateIO("close state file", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return apperr.StateIO(fmt.Sprintf("replace state file %s", s.path), err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.StateStore = (*Store)(nil)
