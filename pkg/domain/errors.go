package domain

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when a conversation ID cannot be found
// in the state store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrVersionConflict is returned by a state store when a save presents a
// stale version. The caller must reload and retry.
var ErrVersionConflict = errors.New("state version conflict")

// ErrConversationBusy is returned when a turn arrives while another turn for
// the same conversation is still in flight. Backpressure, not a fault.
var ErrConversationBusy = errors.New("conversation busy")

// ErrAlreadyPaused is returned when a pause is requested while a checkpoint
// is already outstanding, or a new turn arrives for a paused conversation.
var ErrAlreadyPaused = errors.New("conversation already paused")

// ErrNoPendingCheckpoint is returned when resume is called without a
// matching outstanding checkpoint.
var ErrNoPendingCheckpoint = errors.New("no pending checkpoint")

// ErrModelTransient marks a model-call failure the caller may retry.
var ErrModelTransient = errors.New("transient model error")

// ErrModelFatal marks a model-call failure that must not be retried; stages
// treat it as a trigger toward the human gate.
var ErrModelFatal = errors.New("fatal model error")

// UnknownStageError reports a stage name with no registered capability.
// Surfaced at startup validation; a configuration defect, not a runtime
// condition.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage: %s", e.Stage)
}

// StageFailure wraps a stage's own unhandled fault. The executor records it
// in state and routes to the human gate instead of propagating.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }
