package stages

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/registry"
)

const (
	rejectedReply = "I'm sorry, but I can't help with that request."
	fallbackReply = "Thanks for your patience — a specialist has reviewed your request and will follow up shortly."
)

// NewHumanGate returns the review gate. On first entry it pauses the turn;
// on resume it turns the operator's decision into the final reply, clears
// the escalation and hands off to the compressor.
func NewHumanGate() registry.Stage {
	return func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error) {
		if input.Decision == nil {
			result := domain.StageResult{Route: domain.Pause()}
			if snapshot.Escalation == nil || snapshot.Escalation.Status != domain.EscalationPending {
				// Reached the gate without an upstream escalation; open one
				// so the pause is visible on a review surface.
				result.Escalation = &domain.Escalation{
					ID:        uuid.NewString(),
					Turn:      snapshot.Turn,
					Reason:    "manual_review",
					Status:    domain.EscalationPending,
					CreatedAt: time.Now().UTC(),
				}
			}
			return result, nil
		}

		reply := fallbackReply
		switch input.Decision.Action {
		case domain.DecisionReject:
			reply = rejectedReply
		case domain.DecisionRewrite:
			if input.Decision.Text != "" {
				reply = input.Decision.Text
			}
		case domain.DecisionApprove:
			if snapshot.Escalation != nil && snapshot.Escalation.Draft != "" {
				reply = snapshot.Escalation.Draft
			}
		}

		return domain.StageResult{
			Messages: []domain.Message{
				{Role: domain.RoleAssistant, Text: reply, Timestamp: time.Now().UTC()},
			},
			ClearEscalation: true,
			Route:           domain.ContinueTo(Compressor),
		}, nil
	}
}
