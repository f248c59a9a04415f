// Package memory is the in-memory queue used by tests and by terminals
// running without a data directory. It mirrors the bolt store's semantics:
// insertion-ordered listing, in-place update by local id.
package memory

import (
	"context"
	"slices"
	"sync"

	"larispos/terminal/internal/domain"
	"larispos/terminal/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]domain.OfflineSale
	order   []string
}

func New() *Store {
	return &Store{entries: make(map[string]domain.OfflineSale)}
}

func (s *Store) Put(_ context.Context, entry domain.OfflineSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.LocalID]; !exists {
		s.order = append(s.order, entry.LocalID)
	}
	s.entries[entry.LocalID] = cloneEntry(entry)
	return nil
}

func (s *Store) Get(_ context.Context, localID string) (*domain.OfflineSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[localID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneEntry(entry)
	return &cloned, nil
}

func (s *Store) List(_ context.Context) ([]domain.OfflineSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OfflineSale, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, cloneEntry(s.entries[id]))
	}
	return result, nil
}

func (s *Store) Delete(_ context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[localID]; !ok {
		return store.ErrNotFound
	}
	delete(s.entries, localID)
	for i, id := range s.order {
		if id == localID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func cloneEntry(e domain.OfflineSale) domain.OfflineSale {
	e.Sale.Items = slices.Clone(e.Sale.Items)
	e.Sale.Payments = slices.Clone(e.Sale.Payments)
	return e
}
