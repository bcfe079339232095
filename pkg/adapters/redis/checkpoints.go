package redis

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/seragusa/espalier/pkg/domain"
)

// putScript writes the checkpoint only if none is outstanding, keeping the
// index set in step with the key.
var putScript = backend.NewScript(`
if redis.call("setnx", KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call("sadd", KEYS[2], ARGV[2])
return 1
`)

// CheckpointStore implements ports.CheckpointStore on Redis. At most one
// checkpoint exists per conversation, enforced with SETNX.
type CheckpointStore struct {
	client *backend.Client
	prefix string
}

// NewCheckpointStore creates a Redis checkpoint store.
func NewCheckpointStore(client *backend.Client, prefix string) *CheckpointStore {
	if prefix == "" {
		prefix = "espalier:checkpoint:"
	}
	return &CheckpointStore{client: client, prefix: prefix}
}

func (c *CheckpointStore) key(conversationID string) string {
	return c.prefix + conversationID
}

func (c *CheckpointStore) indexKey() string {
	return c.prefix + "index"
}

// Put stores a checkpoint, failing if one is already outstanding.
func (c *CheckpointStore) Put(ctx context.Context, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	ok, err := putScript.Run(ctx, c.client,
		[]string{c.key(cp.ConversationID), c.indexKey()},
		data, cp.ConversationID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis put checkpoint: %w", err)
	}
	if ok == 0 {
		return domain.ErrAlreadyPaused
	}
	return nil
}

// Get retrieves the outstanding checkpoint.
func (c *CheckpointStore) Get(ctx context.Context, conversationID string) (*domain.Checkpoint, error) {
	val, err := c.client.Get(ctx, c.key(conversationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrNoPendingCheckpoint
		}
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes the checkpoint. Missing checkpoints are not an error.
func (c *CheckpointStore) Delete(ctx context.Context, conversationID string) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.key(conversationID))
	pipe.SRem(ctx, c.indexKey(), conversationID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns all outstanding checkpoints. Index entries whose checkpoint
// vanished are dropped lazily.
func (c *CheckpointStore) List(ctx context.Context) ([]*domain.Checkpoint, error) {
	ids, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]*domain.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := c.Get(ctx, id)
		if err != nil {
			if err == domain.ErrNoPendingCheckpoint {
				c.client.SRem(ctx, c.indexKey(), id)
				continue
			}
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
