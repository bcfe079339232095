// Package registry maps stage names to their pluggable implementations.
// The registry is populated at startup and read-only afterwards.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/seragusa/espalier/pkg/domain"
)

// Stage is a pure capability: it receives a snapshot of conversation state
// plus the turn input and returns a delta with a routing directive. It must
// not mutate the snapshot, and it must tolerate re-invocation with a fresher
// snapshot after a version-conflict retry.
type Stage func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error)

// Registry manages the available stages.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
	}
}

// Register adds a stage. An existing stage with the same name is overwritten.
func (r *Registry) Register(name string, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = stage
}

// Resolve looks up a stage by name.
func (r *Registry) Resolve(name string) (Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stage, ok := r.stages[name]
	if !ok {
		return nil, &domain.UnknownStageError{Stage: name}
	}
	return stage, nil
}

// Names returns the registered stage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
