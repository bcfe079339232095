package ports

import (
	"context"

	"github.com/seragusa/espalier/pkg/domain"
)

// CompletionRequest is the prompt context handed to the model capability.
type CompletionRequest struct {
	// System is the instruction prefix for the call.
	System string

	// Summary is the compressed history, if any.
	Summary string

	// Messages is the verbatim transcript tail.
	Messages []domain.Message

	// Prompt is the task-specific suffix (e.g. the inbound user message).
	Prompt string
}

// Completion is a successful model response.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ModelClient is the opaque language-model capability. Implementations
// classify failures with domain.ErrModelTransient (caller may retry) or
// domain.ErrModelFatal (routes toward the human gate).
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
