// Package redis provides Redis-backed implementations of the persistence
// ports: the versioned state store, the checkpoint store and the
// distributed turn lock.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/seragusa/espalier/pkg/domain"
)

// saveScript performs the compare-and-set: the state is written only when
// the stored version matches the caller's expectation. The version lives in
// a sibling key so the check never has to parse the state JSON.
var saveScript = backend.NewScript(`
local current = redis.call("get", KEYS[2])
if not current then current = "0" end
if current ~= ARGV[1] then return 0 end
if tonumber(ARGV[4]) > 0 then
	redis.call("set", KEYS[1], ARGV[2], "px", ARGV[4])
	redis.call("set", KEYS[2], ARGV[3], "px", ARGV[4])
else
	redis.call("set", KEYS[1], ARGV[2])
	redis.call("set", KEYS[2], ARGV[3])
end
redis.call("zadd", KEYS[3], ARGV[5], ARGV[6])
return 1
`)

// Store implements ports.StateStore on Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets an expiration for conversations. Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "espalier:conversation:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *Store) versionKey(conversationID string) string {
	return s.prefix + "version:" + conversationID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the state when expectedVersion matches the stored version.
func (s *Store) Save(ctx context.Context, conversationID string, state *domain.State, expectedVersion uint64) error {
	next := expectedVersion + 1
	snapshot := state.Clone()
	snapshot.Version = next

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	score := float64(4102444800) // no-expiry sentinel, 2100-01-01
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	ok, err := saveScript.Run(ctx, s.client,
		[]string{s.key(conversationID), s.versionKey(conversationID), s.indexKey()},
		strconv.FormatUint(expectedVersion, 10),
		data,
		strconv.FormatUint(next, 10),
		s.ttl.Milliseconds(),
		score,
		conversationID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	if ok == 0 {
		return domain.ErrVersionConflict
	}

	state.Version = next
	return nil
}

// Load retrieves the state for a conversation.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.State, error) {
	val, err := s.client.Get(ctx, s.key(conversationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the conversation and its version counter.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(conversationID), s.versionKey(conversationID))
	pipe.ZRem(ctx, s.indexKey(), conversationID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns the known conversation IDs, lazily pruning expired entries
// from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("prune expired conversations: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return ids, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
