// Package badger provides embedded, file-backed implementations of the
// persistence ports for single-node deployments that want durability
// without an external Redis.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/seragusa/espalier/pkg/domain"
)

const (
	statePrefix      = "state:"
	checkpointPrefix = "checkpoint:"
)

// Store implements ports.StateStore on a Badger database. Version checks
// run inside a single read-write transaction, so concurrent saves serialize
// on Badger's transactional conflict detection.
type Store struct {
	db *badgerdb.DB
}

// Open opens (or creates) a Badger-backed store at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing database handle.
func NewFromDB(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

func stateKey(conversationID string) []byte {
	return []byte(statePrefix + conversationID)
}

// Save persists the state when expectedVersion matches the stored version.
func (s *Store) Save(ctx context.Context, conversationID string, state *domain.State, expectedVersion uint64) error {
	next := expectedVersion + 1

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		var current uint64
		item, err := txn.Get(stateKey(conversationID))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				var stored domain.State
				if err := json.Unmarshal(val, &stored); err != nil {
					return fmt.Errorf("unmarshal stored state: %w", err)
				}
				current = stored.Version
				return nil
			}); err != nil {
				return err
			}
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			current = 0
		default:
			return fmt.Errorf("read current state: %w", err)
		}

		if current != expectedVersion {
			return domain.ErrVersionConflict
		}

		snapshot := state.Clone()
		snapshot.Version = next
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		return txn.Set(stateKey(conversationID), data)
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			// A concurrent transaction won the race; to the caller that is
			// the same staleness as a version mismatch.
			return domain.ErrVersionConflict
		}
		return err
	}

	state.Version = next
	return nil
}

// Load retrieves the state for a conversation.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.State, error) {
	var state domain.State
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(stateKey(conversationID))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return domain.ErrConversationNotFound
			}
			return fmt.Errorf("read state: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(stateKey(conversationID))
	})
}

// List returns the known conversation IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(statePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(statePrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
