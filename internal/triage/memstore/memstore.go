// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

// Store holds cases and patient settings in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	cases    map[string]*triage.Case     // case ID -> case
	settings map[string]*triage.Settings // patient ID -> settings
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		cases:    make(map[string]*triage.Case),
		settings: make(map[string]*triage.Settings),
	}
}

// ListCases returns copies of every case ordered by creation time.
func (s *Store) ListCases(_ context.Context) ([]*triage.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetCase retrieves a case by its ID. Returns a copy.
func (s *Store) GetCase(_ context.Context, id string) (*triage.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// PutCase stores a copy of the case, replacing any previous version.
func (s *Store) PutCase(_ context.Context, c *triage.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c.Clone()
	return nil
}

// GetSettings retrieves the settings record for a patient. Returns a copy.
func (s *Store) GetSettings(_ context.Context, patientID string) (*triage.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[patientID]
	if !ok {
		return nil, false, nil
	}
	cp := *st
	return &cp, true, nil
}

// PutSettings stores a copy of the patient's settings.
func (s *Store) PutSettings(_ context.Context, patientID string, st *triage.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.settings[patientID] = &cp
	return nil
}

// ResetAll drops every case and settings record.
func (s *Store) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = make(map[string]*triage.Case)
	s.settings = make(map[string]*triage.Settings)
	return nil
}
