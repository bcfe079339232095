package stages

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/registry"
)

const returnsPersona = "You are a calm, precise support assistant handling returns, exchanges and refunds. " +
	"State the policy plainly and always confirm the next step the customer should take."

var ticketPattern = regexp.MustCompile(`(?i)\b(RET|EXC)-[A-Z0-9]{4,}\b`)

// NewReturnsAgent returns the reverse-logistics stage. It drafts the reply
// through the model capability, surfacing any referenced return/exchange
// ticket in the prompt context. Error classification matches the sales
// stage: fatal escalates, transient surfaces.
func NewReturnsAgent(model ports.ModelClient) registry.Stage {
	return func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error) {
		message := lastUserMessage(snapshot, input)

		var sb strings.Builder
		sb.WriteString("Customer message: ")
		sb.WriteString(message)
		if ticket := ticketPattern.FindString(message); ticket != "" {
			fmt.Fprintf(&sb, "\n\nReferenced ticket: %s", strings.ToUpper(ticket))
		}

		completion, err := model.Complete(ctx, ports.CompletionRequest{
			System:   returnsPersona + profileHint(snapshot),
			Summary:  snapshot.Summary,
			Messages: snapshot.Messages,
			Prompt:   sb.String(),
		})
		if err != nil {
			if errors.Is(err, domain.ErrModelFatal) {
				return escalateModelFailure(snapshot, message, err), nil
			}
			return domain.StageResult{}, err
		}

		return domain.StageResult{
			Messages: []domain.Message{
				{Role: domain.RoleAssistant, Text: completion.Text, Timestamp: time.Now().UTC()},
			},
			Route: domain.AnyOf(HumanGate, Compressor),
		}, nil
	}
}
