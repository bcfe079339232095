// Package memory provides in-memory implementations of the persistence
// ports. Suitable for tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/seragusa/espalier/pkg/domain"
)

// Store implements ports.StateStore in memory with optimistic versioning.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.State
	mu   sync.RWMutex
}

// NewStore creates a new in-memory state store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.State),
	}
}

// Load retrieves a copy of the state.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	// Copy on read so callers can't mutate stored state through the pointer.
	return state.Clone(), nil
}

// Save persists the state if expectedVersion matches the stored version.
// The caller's state is bumped to expectedVersion+1 on success.
func (s *Store) Save(ctx context.Context, conversationID string, state *domain.State, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if existing, ok := s.data[conversationID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return domain.ErrVersionConflict
	}

	state.Version = expectedVersion + 1
	s.data[conversationID] = state.Clone()
	return nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List returns the known conversation IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
