package domain

import (
	"context"
	"time"
)

// Stage invocation outcomes reported through lifecycle hooks.
const (
	OutcomeContinue  = "continue"
	OutcomePause     = "pause"
	OutcomeTerminate = "terminate"
	OutcomeFailure   = "failure"
)

// StageEvent describes one stage invocation for external observers.
type StageEvent struct {
	ConversationID string        `json:"conversation_id"`
	Stage          string        `json:"stage"`
	Turn           int           `json:"turn"`
	Duration       time.Duration `json:"duration"`
	Outcome        string        `json:"outcome"`
	Err            string        `json:"err,omitempty"`
}

// LifecycleHooks defines callbacks the executor fires around stage
// invocations. All fields are optional; a missing sink never blocks
// execution.
type LifecycleHooks struct {
	OnStageStart func(context.Context, string /* conversation */, string /* stage */)
	OnStageEnd   func(context.Context, *StageEvent)
}

// EmitStart fires OnStageStart if set.
func (h LifecycleHooks) EmitStart(ctx context.Context, conversationID, stage string) {
	if h.OnStageStart != nil {
		h.OnStageStart(ctx, conversationID, stage)
	}
}

// EmitEnd fires OnStageEnd if set.
func (h LifecycleHooks) EmitEnd(ctx context.Context, ev *StageEvent) {
	if h.OnStageEnd != nil {
		h.OnStageEnd(ctx, ev)
	}
}
