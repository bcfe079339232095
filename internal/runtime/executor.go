// Package runtime drives a single conversation turn through the stage graph.
//
// Per turn the executor moves Idle -> Running -> {Completed, Paused}. Paused
// is terminal for the current turn and reopened by a later resume. Each
// Running step resolves the stage, invokes it with a snapshot of state,
// applies the delta, asks the graph for the next hop and commits through the
// optimistically versioned state store.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seragusa/espalier/internal/logging"
	"github.com/seragusa/espalier/pkg/checkpoint"
	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/graph"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/registry"
)

// DefaultLockTTL bounds how long a distributed turn lock may outlive a
// crashed holder.
const DefaultLockTTL = 30 * time.Second

// TurnResult is what the transport layer receives for a processed turn.
type TurnResult struct {
	// Reply is the last assistant message produced during the turn. Empty
	// when the turn paused before a reply was drafted.
	Reply string

	// Paused reports that the turn suspended for human review.
	Paused bool

	// Turn is the conversation's turn counter after this call.
	Turn int
}

// Executor runs turns to completion or to a pause point.
type Executor struct {
	registry    *registry.Registry
	graph       *graph.Graph
	states      ports.StateStore
	checkpoints *checkpoint.Manager

	humanGate string
	locker    ports.DistributedLocker
	lockTTL   time.Duration
	notifier  ports.EscalationNotifier
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

// Option configures the Executor.
type Option func(*Executor)

// WithHumanGate names the stage that stage failures are routed to.
// Defaults to "human_gate".
func WithHumanGate(stage string) Option {
	return func(e *Executor) { e.humanGate = stage }
}

// WithLocker enables distributed locking around turn execution.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Executor) { e.locker = locker }
}

// WithLockTTL overrides the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Executor) { e.lockTTL = ttl }
}

// WithNotifier broadcasts escalation lifecycle changes.
func WithNotifier(n ports.EscalationNotifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithLifecycleHooks registers per-stage observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) { e.hooks = hooks }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor wires the executor and validates that every stage the graph
// names has a registered capability. An unknown stage is a configuration
// defect and fails here, at startup, not mid-turn.
func NewExecutor(reg *registry.Registry, g *graph.Graph, states ports.StateStore, checkpoints *checkpoint.Manager, opts ...Option) (*Executor, error) {
	e := &Executor{
		registry:    reg,
		graph:       g,
		states:      states,
		checkpoints: checkpoints,
		humanGate:   "human_gate",
		lockTTL:     DefaultLockTTL,
		logger:      logging.NewNop(),
		now:         time.Now,
		inflight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, stage := range g.Stages() {
		if _, err := reg.Resolve(stage); err != nil {
			return nil, err
		}
	}
	if _, err := reg.Resolve(e.humanGate); err != nil {
		return nil, fmt.Errorf("human gate: %w", err)
	}
	return e, nil
}

// ProcessTurn runs one inbound user message through the graph. It returns
// domain.ErrConversationBusy if another turn for the same conversation is in
// flight and domain.ErrAlreadyPaused if the conversation awaits human review.
func (e *Executor) ProcessTurn(ctx context.Context, conversationID, userMessage string) (TurnResult, error) {
	release, err := e.claim(conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	unlock, err := e.lock(ctx, conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	defer unlock()

	state, err := e.states.Load(ctx, conversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		state = domain.NewState(conversationID)
	} else if err != nil {
		return TurnResult{}, fmt.Errorf("load conversation: %w", err)
	}

	if state.Paused() {
		return TurnResult{}, domain.ErrAlreadyPaused
	}

	state, err = e.commitEntry(ctx, state, userMessage)
	if err != nil {
		return TurnResult{}, err
	}

	return e.run(ctx, state, e.graph.Entry(), domain.TurnInput{Text: userMessage}, false)
}

// ResumeTurn reopens a paused conversation with the human decision and runs
// it to completion. Returns domain.ErrNoPendingCheckpoint if the
// conversation is not paused.
func (e *Executor) ResumeTurn(ctx context.Context, conversationID string, decision domain.HumanDecision) (TurnResult, error) {
	release, err := e.claim(conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	unlock, err := e.lock(ctx, conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	defer unlock()

	state, stage, err := e.checkpoints.Resume(ctx, conversationID, decision)
	if err != nil {
		return TurnResult{}, err
	}
	resolved := state.Escalation

	result, err := e.run(ctx, state, stage, domain.TurnInput{Decision: &decision}, true)
	if err != nil {
		return result, err
	}

	if !result.Paused {
		if err := e.checkpoints.Clear(ctx, conversationID); err != nil {
			e.logger.Warn("failed to clear checkpoint", "conversation_id", conversationID, "err", err)
		}
		e.notify(ctx, conversationID, resolved)
	}
	return result, nil
}

// commitEntry persists the turn-entry bookkeeping: the counter increment
// (exactly once per turn, never per stage) and the inbound message. One
// reload-and-retry on a version conflict, then surface it.
func (e *Executor) commitEntry(ctx context.Context, state *domain.State, userMessage string) (*domain.State, error) {
	for attempt := 0; ; attempt++ {
		state.Turn++
		state.Append(domain.RoleUser, userMessage, e.now())

		err := e.states.Save(ctx, state.ID, state, state.Version)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt > 0 {
			return nil, err
		}

		fresh, loadErr := e.states.Load(ctx, state.ID)
		if loadErr != nil {
			return nil, fmt.Errorf("reload after conflict: %w", loadErr)
		}
		if fresh.Paused() {
			return nil, domain.ErrAlreadyPaused
		}
		state = fresh
	}
}

// run drives the stage loop from startStage until the graph signals done or
// pause. resuming marks that an outstanding checkpoint belongs to this turn
// and must be superseded if the turn pauses again.
func (e *Executor) run(ctx context.Context, state *domain.State, startStage string, input domain.TurnInput, resuming bool) (TurnResult, error) {
	current := startStage
	reply := ""

	for {
		// Cancellation takes effect between hops; committed saves stand.
		if err := ctx.Err(); err != nil {
			return TurnResult{}, fmt.Errorf("turn cancelled at %s: %w", current, err)
		}

		stage, err := e.registry.Resolve(current)
		if err != nil {
			return TurnResult{}, err
		}

		e.hooks.EmitStart(ctx, state.ID, current)
		started := e.now()

		result, stageErr := stage(ctx, state.Clone(), input)

		if stageErr != nil {
			if errors.Is(stageErr, domain.ErrModelTransient) {
				// Retryable by the caller, outside the engine's bounded
				// version-conflict retry. Nothing committed for this hop.
				e.emit(ctx, state, current, started, domain.OutcomeFailure, stageErr)
				return TurnResult{}, stageErr
			}
			e.emit(ctx, state, current, started, domain.OutcomeFailure, stageErr)
			return e.failTurn(ctx, state, current, stageErr, resuming)
		}

		if r := applyResult(state, result); r != "" {
			reply = r
		}

		decision, err := e.graph.Next(current, result, state)
		if err != nil {
			e.emit(ctx, state, current, started, domain.OutcomeFailure, err)
			return e.failTurn(ctx, state, current, err, resuming)
		}

		switch decision.Kind {
		case graph.DecisionPause:
			e.emit(ctx, state, current, started, domain.OutcomePause, nil)
			return e.pauseTurn(ctx, state, current, reply, resuming)

		case graph.DecisionDone:
			e.emit(ctx, state, current, started, domain.OutcomeTerminate, nil)
			state.Cursor = ""

		default:
			e.emit(ctx, state, current, started, domain.OutcomeContinue, nil)
		}

		retried, err := e.commit(ctx, state, current, &input)
		if err != nil {
			var failure *domain.StageFailure
			if errors.As(err, &failure) {
				// The conflict-triggered re-invocation failed; resolve it
				// like any other stage fault so the turn still ends
				// Completed or Paused.
				if errors.Is(failure.Err, domain.ErrModelTransient) {
					return TurnResult{}, failure.Err
				}
				return e.failTurn(ctx, state, current, failure.Err, resuming)
			}
			return TurnResult{}, err
		}

		if retried != nil {
			// The stage ran again against a fresh snapshot; its route and
			// reply supersede the stale ones.
			if retried.reply != "" {
				reply = retried.reply
			}
			decision, err = e.graph.Next(current, retried.result, state)
			if err != nil {
				return e.failTurn(ctx, state, current, err, resuming)
			}
			if decision.Kind == graph.DecisionPause {
				return e.pauseTurn(ctx, state, current, reply, resuming)
			}
		}

		if decision.Kind == graph.DecisionDone {
			return TurnResult{Reply: reply, Turn: state.Turn}, nil
		}
		current = decision.Next
	}
}

// retryOutcome carries what the re-invoked stage produced after a version
// conflict, so the caller routes from the fresh result.
type retryOutcome struct {
	result domain.StageResult
	reply  string
}

// commit saves the state after a hop. On a version conflict it reloads and
// re-invokes the same stage exactly once before surfacing the conflict;
// bounded, to avoid livelock under contention. A non-nil retryOutcome means
// the re-invocation's result is now in state and the caller must route from
// it instead of the stale one.
func (e *Executor) commit(ctx context.Context, state *domain.State, current string, input *domain.TurnInput) (*retryOutcome, error) {
	err := e.states.Save(ctx, state.ID, state, state.Version)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	fresh, loadErr := e.states.Load(ctx, state.ID)
	if loadErr != nil {
		return nil, fmt.Errorf("reload after conflict: %w", loadErr)
	}

	stage, resolveErr := e.registry.Resolve(current)
	if resolveErr != nil {
		return nil, resolveErr
	}
	result, stageErr := stage(ctx, fresh.Clone(), *input)
	if stageErr != nil {
		// Fault handling continues from the fresh snapshot, whose version
		// is still current in the store.
		*state = *fresh
		return nil, &domain.StageFailure{Stage: current, Err: stageErr}
	}
	reply := applyResult(fresh, result)
	fresh.Cursor = state.Cursor

	if err := e.states.Save(ctx, fresh.ID, fresh, fresh.Version); err != nil {
		return nil, err
	}
	*state = *fresh
	return &retryOutcome{result: result, reply: reply}, nil
}

// pauseTurn persists the paused state and writes the checkpoint.
func (e *Executor) pauseTurn(ctx context.Context, state *domain.State, stage, reply string, resuming bool) (TurnResult, error) {
	state.Cursor = stage
	if err := e.states.Save(ctx, state.ID, state, state.Version); err != nil {
		return TurnResult{}, fmt.Errorf("save paused state: %w", err)
	}

	if resuming {
		// The outstanding checkpoint belongs to the turn being resumed;
		// supersede it with the new pause point.
		if err := e.checkpoints.Clear(ctx, state.ID); err != nil {
			return TurnResult{}, fmt.Errorf("supersede checkpoint: %w", err)
		}
	}
	if _, err := e.checkpoints.Pause(ctx, stage, state); err != nil {
		return TurnResult{}, err
	}

	e.notify(ctx, state.ID, state.Escalation)
	e.logger.Info("turn paused for review",
		"conversation_id", state.ID,
		"stage", stage,
		"turn", state.Turn,
	)
	return TurnResult{Reply: reply, Paused: true, Turn: state.Turn}, nil
}

// failTurn records a stage's unhandled fault in state and parks the turn at
// the human gate, so the turn still resolves to Paused rather than an
// unrecovered crash mid-state.
func (e *Executor) failTurn(ctx context.Context, state *domain.State, stage string, cause error, resuming bool) (TurnResult, error) {
	failure := &domain.StageFailure{Stage: stage, Err: cause}
	e.logger.Error("stage failed, escalating",
		"conversation_id", state.ID,
		"stage", stage,
		"err", cause,
	)

	state.Fields[domain.FieldError] = failure.Error()
	if state.Escalation == nil || state.Escalation.Status != domain.EscalationPending {
		state.Escalation = &domain.Escalation{
			ID:        uuid.NewString(),
			Turn:      state.Turn,
			Reason:    "stage_failure:" + stage,
			Message:   failure.Error(),
			Status:    domain.EscalationPending,
			CreatedAt: e.now(),
		}
	}

	return e.pauseTurn(ctx, state, e.humanGate, "", resuming)
}

// claim reserves the conversation for this turn. Concurrent turns for the
// same conversation are rejected, not queued: callers get an explicit
// backpressure signal.
func (e *Executor) claim(conversationID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight[conversationID] {
		return nil, domain.ErrConversationBusy
	}
	e.inflight[conversationID] = true
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.inflight, conversationID)
	}, nil
}

func (e *Executor) lock(ctx context.Context, conversationID string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	unlock, err := e.locker.Lock(ctx, conversationID, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	return func() {
		if err := unlock(ctx); err != nil {
			e.logger.Warn("failed to release turn lock (will expire via TTL)",
				"conversation_id", conversationID,
				"err", err,
			)
		}
	}, nil
}

func (e *Executor) emit(ctx context.Context, state *domain.State, stage string, started time.Time, outcome string, err error) {
	ev := &domain.StageEvent{
		ConversationID: state.ID,
		Stage:          stage,
		Turn:           state.Turn,
		Duration:       e.now().Sub(started),
		Outcome:        outcome,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	e.hooks.EmitEnd(ctx, ev)
}

func (e *Executor) notify(ctx context.Context, conversationID string, esc *domain.Escalation) {
	if e.notifier == nil || esc == nil {
		return
	}
	if err := e.notifier.NotifyEscalation(ctx, conversationID, esc); err != nil {
		e.logger.Warn("escalation notify failed", "conversation_id", conversationID, "err", err)
	}
}

// applyResult merges a stage's delta into state and returns the text of the
// last assistant message appended, if any.
func applyResult(state *domain.State, result domain.StageResult) string {
	for k, v := range result.Delta {
		state.Fields[k] = v
	}

	reply := ""
	for _, m := range result.Messages {
		state.Messages = append(state.Messages, m)
		if m.Role == domain.RoleAssistant {
			reply = m.Text
		}
	}

	if result.Rewrite != nil {
		state.Summary = result.Rewrite.Summary
		state.Summarized = result.Rewrite.Summarized
		state.Messages = append([]domain.Message(nil), result.Rewrite.Tail...)
	}

	if result.Escalation != nil {
		state.Escalation = result.Escalation
	}
	if result.ClearEscalation {
		state.Escalation = nil
	}
	return reply
}
