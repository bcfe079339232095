package ports

import (
	"context"

	"github.com/seragusa/espalier/pkg/domain"
)

// StateStore persists per-conversation state with optimistic versioning.
// Versioning is the sole concurrency-safety mechanism for state mutation;
// no lock is held across stage execution.
type StateStore interface {
	// Load retrieves the state for a conversation.
	// Returns domain.ErrConversationNotFound if it does not exist.
	Load(ctx context.Context, conversationID string) (*domain.State, error)

	// Save persists the state if expectedVersion matches the stored version
	// (0 for a new conversation). On success the stored and returned state
	// carry expectedVersion+1. A stale expectedVersion fails with
	// domain.ErrVersionConflict.
	Save(ctx context.Context, conversationID string, state *domain.State, expectedVersion uint64) error

	// Delete removes the conversation.
	Delete(ctx context.Context, conversationID string) error

	// List returns the known conversation IDs.
	List(ctx context.Context) ([]string, error)
}

// CheckpointStore persists pause checkpoints. At most one checkpoint may
// exist per conversation.
type CheckpointStore interface {
	// Put stores a checkpoint. Fails with domain.ErrAlreadyPaused if one is
	// already outstanding for the conversation.
	Put(ctx context.Context, cp *domain.Checkpoint) error

	// Get retrieves the outstanding checkpoint.
	// Returns domain.ErrNoPendingCheckpoint if there is none.
	Get(ctx context.Context, conversationID string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint. Deleting a missing checkpoint is not
	// an error.
	Delete(ctx context.Context, conversationID string) error

	// List returns all outstanding checkpoints (for expiry sweeps).
	List(ctx context.Context) ([]*domain.Checkpoint, error)
}
