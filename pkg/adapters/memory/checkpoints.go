package memory

import (
	"context"
	"sync"

	"github.com/seragusa/espalier/pkg/domain"
)

// CheckpointStore implements ports.CheckpointStore in memory.
type CheckpointStore struct {
	data map[string]*domain.Checkpoint
	mu   sync.RWMutex
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[string]*domain.Checkpoint),
	}
}

// Put stores a checkpoint, rejecting a second outstanding one.
func (s *CheckpointStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[cp.ConversationID]; exists {
		return domain.ErrAlreadyPaused
	}
	copied := *cp
	copied.State = cp.State.Clone()
	s.data[cp.ConversationID] = &copied
	return nil
}

// Get retrieves the outstanding checkpoint.
func (s *CheckpointStore) Get(ctx context.Context, conversationID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[conversationID]
	if !ok {
		return nil, domain.ErrNoPendingCheckpoint
	}
	copied := *cp
	copied.State = cp.State.Clone()
	return &copied, nil
}

// Delete removes the checkpoint. Missing checkpoints are ignored.
func (s *CheckpointStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List returns all outstanding checkpoints.
func (s *CheckpointStore) List(ctx context.Context) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Checkpoint, 0, len(s.data))
	for _, cp := range s.data {
		copied := *cp
		copied.State = cp.State.Clone()
		out = append(out, &copied)
	}
	return out, nil
}
