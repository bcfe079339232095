// Package checkpoint owns the durable pause/resume cursor. A checkpoint is
// created when a turn suspends for human input and deleted when the resumed
// turn completes or the checkpoint expires. No stack is kept suspended:
// resuming reconstructs execution from the persisted snapshot, which is what
// makes pauses survive process restarts.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seragusa/espalier/internal/logging"
	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

// Manager coordinates checkpoint creation, resumption and expiry.
type Manager struct {
	checkpoints ports.CheckpointStore
	states      ports.StateStore
	expiry      time.Duration
	notifier    ports.EscalationNotifier
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithExpiry sets how long an unresumed checkpoint stays claimable.
// Zero means checkpoints never expire.
func WithExpiry(d time.Duration) Option {
	return func(m *Manager) {
		m.expiry = d
	}
}

// WithNotifier broadcasts expired escalations to an external surface.
func WithNotifier(n ports.EscalationNotifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger configures a logger for sweep and deferred errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a checkpoint manager over the given stores.
func NewManager(checkpoints ports.CheckpointStore, states ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		checkpoints: checkpoints,
		states:      states,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pause snapshots the conversation at the given stage. A second pause while
// one is outstanding fails with domain.ErrAlreadyPaused.
func (m *Manager) Pause(ctx context.Context, stage string, state *domain.State) (*domain.Checkpoint, error) {
	now := m.now()
	cp := &domain.Checkpoint{
		ConversationID: state.ID,
		Stage:          stage,
		State:          state.Clone(),
		CreatedAt:      now,
	}
	if m.expiry > 0 {
		cp.ExpiresAt = now.Add(m.expiry)
	}

	if err := m.checkpoints.Put(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Resume claims the outstanding checkpoint, applies the human decision to
// the pending escalation and returns the state (cursor cleared) together
// with the stage to re-enter. The checkpoint itself stays until Clear is
// called after the resumed turn commits, so a crash mid-resume loses nothing.
func (m *Manager) Resume(ctx context.Context, conversationID string, decision domain.HumanDecision) (*domain.State, string, error) {
	cp, err := m.checkpoints.Get(ctx, conversationID)
	if errors.Is(err, domain.ErrNoPendingCheckpoint) {
		return m.resumeFromState(ctx, conversationID, decision)
	}
	if err != nil {
		return nil, "", err
	}

	if cp.Expired(m.now()) {
		if err := m.expire(ctx, cp); err != nil {
			m.logger.Warn("failed to reclaim expired checkpoint", "conversation_id", conversationID, "err", err)
		}
		return nil, "", domain.ErrNoPendingCheckpoint
	}

	state := cp.State.Clone()
	state.Cursor = ""
	if state.Escalation != nil {
		state.Escalation.Resolve(decision)
	}
	return state, cp.Stage, nil
}

// resumeFromState recovers a conversation whose paused state was committed
// but whose checkpoint write never landed (a crash between the two saves).
// The persisted cursor is the pause point, so the conversation is not stuck
// behind ErrAlreadyPaused with nothing to resume.
func (m *Manager) resumeFromState(ctx context.Context, conversationID string, decision domain.HumanDecision) (*domain.State, string, error) {
	state, err := m.states.Load(ctx, conversationID)
	if err != nil {
		return nil, "", domain.ErrNoPendingCheckpoint
	}
	if !state.Paused() {
		return nil, "", domain.ErrNoPendingCheckpoint
	}

	m.logger.Warn("resuming from state cursor, checkpoint missing",
		"conversation_id", conversationID,
		"stage", state.Cursor,
	)

	stage := state.Cursor
	state.Cursor = ""
	if state.Escalation != nil {
		state.Escalation.Resolve(decision)
	}
	return state, stage, nil
}

// Clear deletes the checkpoint once the resumed turn has committed.
func (m *Manager) Clear(ctx context.Context, conversationID string) error {
	return m.checkpoints.Delete(ctx, conversationID)
}

// SweepExpired reclaims expired, never-resumed checkpoints. The abandoned
// escalation is marked expired rather than silently lost, and the
// conversation reverts to idle for a fresh turn. Returns how many
// checkpoints were reclaimed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	all, err := m.checkpoints.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}

	now := m.now()
	reclaimed := 0
	for _, cp := range all {
		if !cp.Expired(now) {
			continue
		}
		if err := m.expire(ctx, cp); err != nil {
			m.logger.Warn("sweep: failed to reclaim checkpoint",
				"conversation_id", cp.ConversationID,
				"err", err,
			)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (m *Manager) expire(ctx context.Context, cp *domain.Checkpoint) error {
	state, err := m.states.Load(ctx, cp.ConversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return m.checkpoints.Delete(ctx, cp.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	state.Cursor = ""
	if state.Escalation != nil && state.Escalation.Status == domain.EscalationPending {
		state.Escalation.Status = domain.EscalationExpired
	}
	if err := m.states.Save(ctx, cp.ConversationID, state, state.Version); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	if m.notifier != nil && state.Escalation != nil {
		if err := m.notifier.NotifyEscalation(ctx, cp.ConversationID, state.Escalation); err != nil {
			m.logger.Warn("escalation notify failed", "conversation_id", cp.ConversationID, "err", err)
		}
	}

	m.logger.Info("checkpoint expired", "conversation_id", cp.ConversationID, "stage", cp.Stage)
	return m.checkpoints.Delete(ctx, cp.ConversationID)
}
