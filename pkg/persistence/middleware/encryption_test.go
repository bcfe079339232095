package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/pkg/adapters/memory"
	"github.com/seragusa/espalier/pkg/domain"
)

var (
	keyA = []byte("0123456789abcdef0123456789abcdef")
	keyB = []byte("fedcba9876543210fedcba9876543210")
)

func TestEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	store := Chain(backing, NewEncryption(EncryptionConfig{ActiveKey: keyA}))

	state := domain.NewState("c1")
	state.Append(domain.RoleUser, "I want a refund", time.Now().UTC())
	state.Fields["intent"] = "returns"
	state.Turn = 3

	require.NoError(t, store.Save(ctx, "c1", state, 0))
	assert.Equal(t, uint64(1), state.Version)

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", loaded.ID)
	assert.Equal(t, 3, loaded.Turn)
	assert.Equal(t, "returns", loaded.Fields["intent"])
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "I want a refund", loaded.Messages[0].Text)
	assert.Equal(t, uint64(1), loaded.Version)
}

func TestEncryptionHidesContentAtRest(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	store := Chain(backing, NewEncryption(EncryptionConfig{ActiveKey: keyA}))

	state := domain.NewState("c2")
	state.Append(domain.RoleUser, "secret order details", time.Now())
	state.Cursor = "human_gate"
	require.NoError(t, store.Save(ctx, "c2", state, 0))

	raw, err := backing.Load(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, raw.Messages)
	assert.Contains(t, raw.Fields, envelopeField)
	assert.Len(t, raw.Fields, 1)
	// Pause status stays visible on the envelope.
	assert.Equal(t, "human_gate", raw.Cursor)
	assert.True(t, raw.Paused())
}

func TestEncryptionPreservesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	store := Chain(memory.NewStore(), NewEncryption(EncryptionConfig{ActiveKey: keyA}))

	state := domain.NewState("c3")
	require.NoError(t, store.Save(ctx, "c3", state, 0))
	require.NoError(t, store.Save(ctx, "c3", state, 1))

	err := store.Save(ctx, "c3", state, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	loaded, err := store.Load(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Version)
}

func TestEncryptionKeyRotation(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()

	oldStore := Chain(backing, NewEncryption(EncryptionConfig{ActiveKey: keyA}))
	state := domain.NewState("c4")
	state.Fields["intent"] = "sales"
	require.NoError(t, oldStore.Save(ctx, "c4", state, 0))

	rotated := Chain(backing, NewEncryption(EncryptionConfig{
		ActiveKey:    keyB,
		FallbackKeys: [][]byte{keyA},
	}))
	loaded, err := rotated.Load(ctx, "c4")
	require.NoError(t, err)
	assert.Equal(t, "sales", loaded.Fields["intent"])

	noFallback := Chain(backing, NewEncryption(EncryptionConfig{ActiveKey: keyB}))
	_, err = noFallback.Load(ctx, "c4")
	assert.ErrorContains(t, err, "decrypt")
}

func TestEncryptionRejectsPlainRecords(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()

	plain := domain.NewState("c5")
	require.NoError(t, backing.Save(ctx, "c5", plain, 0))

	store := Chain(backing, NewEncryption(EncryptionConfig{ActiveKey: keyA}))
	_, err := store.Load(ctx, "c5")
	assert.ErrorContains(t, err, "envelope")
}

func TestEncryptionRejectsShortKey(t *testing.T) {
	assert.Panics(t, func() {
		NewEncryption(EncryptionConfig{ActiveKey: []byte("short")})
	})
}

func TestChainComposesMaskingAndEncryption(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	store := Chain(backing,
		NewPIIMasker([]string{"email"}),
		NewEncryption(EncryptionConfig{ActiveKey: keyA}),
	)

	state := domain.NewState("c6")
	state.Fields["email"] = "ada@example.com"
	require.NoError(t, store.Save(ctx, "c6", state, 0))
	assert.Equal(t, uint64(1), state.Version)

	// Raw record is an envelope; decrypted record is masked.
	raw, err := backing.Load(ctx, "c6")
	require.NoError(t, err)
	assert.Contains(t, raw.Fields, envelopeField)

	loaded, err := store.Load(ctx, "c6")
	require.NoError(t, err)
	assert.Equal(t, "***", loaded.Fields["email"])
}
