// Package espalier is a conversational turn orchestration engine: a fixed
// directed graph of stages executed over per-conversation state, with
// conditional routing, durable pause/resume for human review and
// optimistically versioned persistence.
//
// The Engine in this package is the library entry point. It wires the
// default retail support pipeline (context loader, supervisor, sales and
// returns agents, human gate, history compressor) over pluggable ports for
// storage, the model, the catalog and notifications.
package espalier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seragusa/espalier/internal/logging"
	"github.com/seragusa/espalier/internal/runtime"
	"github.com/seragusa/espalier/pkg/adapters/memory"
	"github.com/seragusa/espalier/pkg/checkpoint"
	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/graph"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/registry"
	"github.com/seragusa/espalier/pkg/stages"
)

// Version is the library version, injected at build time for releases.
var Version = "0.3.0-dev"

// TurnResult is re-exported for library consumers.
type TurnResult = runtime.TurnResult

// Engine is the high-level entry point. It owns the compiled topology, the
// stage registry and the turn executor.
type Engine struct {
	executor    *runtime.Executor
	checkpoints *checkpoint.Manager
	cpStore     ports.CheckpointStore
	states      ports.StateStore
	graph       *graph.Graph
	logger      *slog.Logger

	// construction-time collaborators
	model      ports.ModelClient
	catalog    ports.CatalogStore
	profiles   ports.ProfileStore
	locker     ports.DistributedLocker
	notifier   ports.EscalationNotifier
	hooks      domain.LifecycleHooks
	compressor stages.CompressorConfig
	expiry     time.Duration
	lockTTL    time.Duration
}

// Option configures the Engine.
type Option func(*Engine)

// WithStateStore sets the conversation state store. Defaults to in-memory.
func WithStateStore(s ports.StateStore) Option {
	return func(e *Engine) { e.states = s }
}

// WithCheckpointStore sets the checkpoint store. Defaults to in-memory.
func WithCheckpointStore(s ports.CheckpointStore) Option {
	return func(e *Engine) { e.cpStore = s }
}

// WithModel sets the model client used by the agent stages. Required.
func WithModel(m ports.ModelClient) Option {
	return func(e *Engine) { e.model = m }
}

// WithCatalog sets the product/order collaborator. Defaults to the seeded
// in-memory demo catalog.
func WithCatalog(c ports.CatalogStore) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithProfiles sets the user profile collaborator. Optional.
func WithProfiles(p ports.ProfileStore) Option {
	return func(e *Engine) { e.profiles = p }
}

// WithLocker enables distributed locking around turn execution.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLockTTL overrides the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.lockTTL = ttl }
}

// WithNotifier broadcasts escalation lifecycle changes.
func WithNotifier(n ports.EscalationNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLifecycleHooks registers per-stage observability callbacks.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCompressor tunes the history compression policy.
func WithCompressor(cfg stages.CompressorConfig) Option {
	return func(e *Engine) { e.compressor = cfg }
}

// WithCheckpointExpiry bounds how long a pause awaits review before the
// conversation is reclaimed. Zero means pauses never expire.
func WithCheckpointExpiry(d time.Duration) Option {
	return func(e *Engine) { e.expiry = d }
}

// New builds an Engine around the default pipeline.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		states:     memory.NewStore(),
		cpStore:    memory.NewCheckpointStore(),
		catalog:    memory.SeedCatalog(),
		compressor: stages.DefaultCompressorConfig(),
		logger:     logging.NewNop(),
		lockTTL:    runtime.DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.model == nil {
		return nil, fmt.Errorf("a model client is required (use WithModel)")
	}

	reg := registry.New()
	reg.Register(stages.Context, stages.NewContextLoader(e.profiles))
	reg.Register(stages.Supervisor, stages.NewSupervisor())
	reg.Register(stages.Sales, stages.NewSalesAgent(e.model, e.catalog))
	reg.Register(stages.Returns, stages.NewReturnsAgent(e.model))
	reg.Register(stages.HumanGate, stages.NewHumanGate())
	reg.Register(stages.Compressor, stages.NewCompressor(e.model, e.compressor))

	g, err := DefaultGraph()
	if err != nil {
		return nil, err
	}
	e.graph = g

	e.checkpoints = checkpoint.NewManager(e.cpStore, e.states,
		checkpoint.WithExpiry(e.expiry),
		checkpoint.WithNotifier(e.notifier),
		checkpoint.WithLogger(e.logger),
	)

	executor, err := runtime.NewExecutor(reg, g, e.states, e.checkpoints,
		runtime.WithHumanGate(stages.HumanGate),
		runtime.WithLocker(e.locker),
		runtime.WithLockTTL(e.lockTTL),
		runtime.WithNotifier(e.notifier),
		runtime.WithLifecycleHooks(e.hooks),
		runtime.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	e.executor = executor
	return e, nil
}

// DefaultGraph compiles the retail support topology. Edge declaration order
// matters: when several conditions hold, the first-declared edge wins, which
// is how an unsafe verdict always beats intent routing.
func DefaultGraph() (*graph.Graph, error) {
	escalationPending := func(s *domain.State) bool {
		return s.Escalation != nil && s.Escalation.Status == domain.EscalationPending
	}
	// An unsafe verdict routes to the gate even when no escalation is
	// attached, so the two signals cannot drift apart.
	needsReview := func(s *domain.State) bool {
		return escalationPending(s) || s.StringField(domain.FieldVerdict) == domain.VerdictUnsafe
	}
	intentReturns := func(s *domain.State) bool {
		return s.StringField(domain.FieldIntent) == domain.IntentReturns
	}

	return graph.NewBuilder().
		Entry(stages.Context).
		Edge(stages.Context, stages.Supervisor).
		EdgeWhen(stages.Supervisor, stages.HumanGate, needsReview, "unsafe or escalation pending").
		EdgeWhen(stages.Supervisor, stages.Returns, intentReturns, "intent = returns").
		Edge(stages.Supervisor, stages.Sales).
		EdgeWhen(stages.Sales, stages.HumanGate, escalationPending, "escalation pending").
		Edge(stages.Sales, stages.Compressor).
		EdgeWhen(stages.Returns, stages.HumanGate, escalationPending, "escalation pending").
		Edge(stages.Returns, stages.Compressor).
		Edge(stages.HumanGate, stages.Compressor).
		Edge(stages.Compressor, stages.End).
		Terminal(stages.End).
		Build()
}

// ProcessTurn runs one inbound user message through the pipeline.
func (e *Engine) ProcessTurn(ctx context.Context, conversationID, message string) (TurnResult, error) {
	return e.executor.ProcessTurn(ctx, conversationID, message)
}

// ResumeTurn reopens a paused conversation with a human decision.
func (e *Engine) ResumeTurn(ctx context.Context, conversationID string, decision domain.HumanDecision) (TurnResult, error) {
	return e.executor.ResumeTurn(ctx, conversationID, decision)
}

// Inspect returns the current state of a conversation.
func (e *Engine) Inspect(ctx context.Context, conversationID string) (*domain.State, error) {
	return e.states.Load(ctx, conversationID)
}

// Conversations lists the known conversation IDs.
func (e *Engine) Conversations(ctx context.Context) ([]string, error) {
	return e.states.List(ctx)
}

// PendingReviews lists the outstanding pause checkpoints.
func (e *Engine) PendingReviews(ctx context.Context) ([]*domain.Checkpoint, error) {
	return e.cpStore.List(ctx)
}

// Mermaid renders the compiled topology as a Mermaid flowchart.
func (e *Engine) Mermaid() string {
	return e.graph.Mermaid()
}

// Graph exposes the compiled topology for introspection.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// SweepExpired reclaims expired checkpoints once. Returns how many were
// reclaimed.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	return e.checkpoints.SweepExpired(ctx)
}

// RunSweeper reclaims expired checkpoints on the given interval until the
// context is canceled. Intended to run in its own goroutine.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := e.checkpoints.SweepExpired(ctx)
			if err != nil {
				e.logger.Warn("checkpoint sweep failed", "err", err)
				continue
			}
			if reclaimed > 0 {
				e.logger.Info("reclaimed expired checkpoints", "count", reclaimed)
			}
		}
	}
}
