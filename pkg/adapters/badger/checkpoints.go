package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/seragusa/espalier/pkg/domain"
)

// CheckpointStore implements ports.CheckpointStore on the same Badger
// database as the state store.
type CheckpointStore struct {
	db *badgerdb.DB
}

// NewCheckpointStore wraps an existing database handle.
func NewCheckpointStore(db *badgerdb.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func checkpointKey(conversationID string) []byte {
	return []byte(checkpointPrefix + conversationID)
}

// Put stores a checkpoint, failing if one is already outstanding.
func (c *CheckpointStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	return c.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(checkpointKey(cp.ConversationID))
		switch {
		case err == nil:
			return domain.ErrAlreadyPaused
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			return txn.Set(checkpointKey(cp.ConversationID), data)
		default:
			return fmt.Errorf("read checkpoint: %w", err)
		}
	})
}

// Get retrieves the outstanding checkpoint.
func (c *CheckpointStore) Get(ctx context.Context, conversationID string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(checkpointKey(conversationID))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return domain.ErrNoPendingCheckpoint
			}
			return fmt.Errorf("read checkpoint: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Delete removes the checkpoint. Missing checkpoints are not an error.
func (c *CheckpointStore) Delete(ctx context.Context, conversationID string) error {
	return c.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(checkpointKey(conversationID))
	})
}

// List returns all outstanding checkpoints.
func (c *CheckpointStore) List(ctx context.Context) ([]*domain.Checkpoint, error) {
	var out []*domain.Checkpoint
	err := c.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var cp domain.Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return err
			}
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
