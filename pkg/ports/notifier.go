package ports

import (
	"context"

	"github.com/seragusa/espalier/pkg/domain"
)

// EscalationNotifier broadcasts escalation lifecycle changes (created,
// resolved, expired; distinguished by Escalation.Status) to an external
// review surface. Delivery failures are logged, never fatal.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, conversationID string, esc *domain.Escalation) error
}
