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

func TestPIIMaskerMasksStoredFields(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	store := Chain(backing, NewPIIMasker([]string{"(?i)email", "(?i)phone"}))

	state := domain.NewState("c1")
	state.Append(domain.RoleUser, "hi", time.Now())
	state.Fields["email"] = "ada@example.com"
	state.Fields["intent"] = "sales"

	require.NoError(t, store.Save(ctx, "c1", state, 0))

	// In-memory state the engine holds is untouched.
	assert.Equal(t, "ada@example.com", state.Fields["email"])
	assert.Equal(t, uint64(1), state.Version)

	stored, err := backing.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "***", stored.Fields["email"])
	assert.Equal(t, "sales", stored.Fields["intent"])
	assert.Len(t, stored.Messages, 1)
}

func TestPIIMaskerMasksNestedFields(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	store := Chain(backing, NewPIIMasker([]string{"ssn"}))

	state := domain.NewState("c2")
	state.Fields["profile"] = map[string]any{
		"name": "Ada",
		"ssn":  "123-45-6789",
	}

	require.NoError(t, store.Save(ctx, "c2", state, 0))

	// The caller's nested map must not be mutated.
	profile := state.Fields["profile"].(map[string]any)
	assert.Equal(t, "123-45-6789", profile["ssn"])

	stored, err := backing.Load(ctx, "c2")
	require.NoError(t, err)
	storedProfile := stored.Fields["profile"].(map[string]any)
	assert.Equal(t, "***", storedProfile["ssn"])
	assert.Equal(t, "Ada", storedProfile["name"])
}

func TestPIIMaskerPassesThroughReads(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	store := Chain(backing, NewPIIMasker([]string{"email"}))

	state := domain.NewState("c3")
	require.NoError(t, store.Save(ctx, "c3", state, 0))

	loaded, err := store.Load(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, "c3", loaded.ID)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids)

	require.NoError(t, store.Delete(ctx, "c3"))
	_, err = store.Load(ctx, "c3")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}
