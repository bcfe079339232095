package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/registry"
)

func TestRegistry_Resolve(t *testing.T) {
	r := registry.New()
	r.Register("echo", func(ctx context.Context, s *domain.State, in domain.TurnInput) (domain.StageResult, error) {
		return domain.StageResult{Route: domain.Terminate()}, nil
	})

	stage, err := r.Resolve("echo")
	require.NoError(t, err)
	require.NotNil(t, stage)

	res, err := stage(context.Background(), domain.NewState("c1"), domain.TurnInput{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.RouteTerminate, res.Route.Kind)
}

func TestRegistry_UnknownStage(t *testing.T) {
	r := registry.New()

	_, err := r.Resolve("ghost")
	require.Error(t, err)

	var unknown *domain.UnknownStageError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "ghost", unknown.Stage)
}

func TestRegistry_Names(t *testing.T) {
	r := registry.New()
	noop := func(ctx context.Context, s *domain.State, in domain.TurnInput) (domain.StageResult, error) {
		return domain.StageResult{Route: domain.Terminate()}, nil
	}
	r.Register("b", noop)
	r.Register("a", noop)

	assert.Equal(t, []string{"a", "b"}, r.Names())
}
