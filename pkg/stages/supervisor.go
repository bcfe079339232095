package stages

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/registry"
)

// unsafePatterns maps a reason category to the phrases that trigger it.
// Matching is case-insensitive substring search; ordering of categories is
// the order they are checked.
var unsafeCategories = []struct {
	name     string
	patterns []string
}{
	{"jailbreak", []string{
		"ignore your instructions",
		"ignore previous instructions",
		"forget your rules",
		"pretend you are",
		"act as if you have no restrictions",
		"bypass your programming",
		"developer mode",
	}},
	{"illegal", []string{
		"how to hack",
		"how to steal",
		"illegal drugs",
		"weapons",
		"explosives",
	}},
	{"abuse", []string{
		"stupid",
		"idiot",
		"useless",
		"garbage",
		"fuck",
		"shit",
	}},
	{"competitor", []string{
		"price on amazon",
		"cheaper on ebay",
		"better at walmart",
	}},
}

// returnsPatterns signal reverse-logistics intent.
var returnsPatterns = []string{
	"return", "refund", "exchange",
	"doesn't work", "does not work", "defective",
	"arrived broken", "arrived damaged",
	"send it back", "give it back",
	"return policy", "exchange policy",
	"ret-", "exc-", // return/exchange ticket IDs
}

// classify returns the matched unsafe category, or "" when the message is
// safe.
func classify(message string) string {
	lower := strings.ToLower(message)
	for _, cat := range unsafeCategories {
		for _, p := range cat.patterns {
			if strings.Contains(lower, p) {
				return cat.name
			}
		}
	}
	return ""
}

// detectIntent picks the specialized agent for the message.
func detectIntent(message string) string {
	lower := strings.ToLower(message)
	for _, p := range returnsPatterns {
		if strings.Contains(lower, p) {
			return domain.IntentReturns
		}
	}
	return domain.IntentSales
}

// NewSupervisor returns the safety-classification stage. It writes the
// verdict and intent fields and, on an unsafe message, opens an escalation
// and offers the human gate first so the router must pick it.
func NewSupervisor() registry.Stage {
	return func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error) {
		message := input.Text
		if message == "" && len(snapshot.Messages) > 0 {
			message = snapshot.Messages[len(snapshot.Messages)-1].Text
		}

		result := domain.StageResult{
			Delta: map[string]any{
				domain.FieldIntent: detectIntent(message),
			},
			Route: domain.AnyOf(HumanGate, Returns, Sales),
		}

		if category := classify(message); category != "" {
			result.Delta[domain.FieldVerdict] = domain.VerdictUnsafe
			result.Escalation = &domain.Escalation{
				ID:        uuid.NewString(),
				Turn:      snapshot.Turn,
				Reason:    "unsafe:" + category,
				Message:   message,
				Status:    domain.EscalationPending,
				CreatedAt: time.Now().UTC(),
			}
			return result, nil
		}

		result.Delta[domain.FieldVerdict] = domain.VerdictSafe
		return result, nil
	}
}
