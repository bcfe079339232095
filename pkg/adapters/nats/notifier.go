// Package nats publishes escalation lifecycle events to a NATS subject so
// review dashboards and pagers can subscribe without polling the engine.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/nats-io/nats.go"

	"github.com/seragusa/espalier/pkg/domain"
)

// DefaultSubject is the subject escalation events publish to.
const DefaultSubject = "espalier.escalations"

// Event is the wire shape of one escalation lifecycle change.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	EscalationID   string    `json:"escalation_id"`
	Turn           int       `json:"turn"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// Notifier implements ports.EscalationNotifier over a NATS connection.
type Notifier struct {
	conn    *backend.Conn
	subject string
	logger  *slog.Logger
}

type Option func(*Notifier)

// WithSubject overrides the publish subject.
func WithSubject(subject string) Option {
	return func(n *Notifier) {
		n.subject = subject
	}
}

// WithLogger sets the logger for connection lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// Connect dials NATS with reconnect handling and returns a notifier.
func Connect(url, token string, opts ...Option) (*Notifier, error) {
	n := &Notifier{
		subject: DefaultSubject,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	connOpts := []backend.Option{
		backend.RetryOnFailedConnect(true),
		backend.MaxReconnects(60),
		backend.ReconnectWait(2 * time.Second),
		backend.DisconnectErrHandler(func(_ *backend.Conn, err error) {
			if err != nil {
				n.logger.Warn("nats disconnected", "err", err)
			}
		}),
		backend.ReconnectHandler(func(_ *backend.Conn) {
			n.logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		connOpts = append(connOpts, backend.Token(token))
	}

	conn, err := backend.Connect(url, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n.conn = conn
	return n, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *backend.Conn, opts ...Option) *Notifier {
	n := &Notifier{
		conn:    conn,
		subject: DefaultSubject,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyEscalation publishes one lifecycle event.
func (n *Notifier) NotifyEscalation(ctx context.Context, conversationID string, esc *domain.Escalation) error {
	payload, err := json.Marshal(Event{
		ConversationID: conversationID,
		EscalationID:   esc.ID,
		Turn:           esc.Turn,
		Reason:         esc.Reason,
		Status:         esc.Status,
		Message:        esc.Message,
		EmittedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal escalation event: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish escalation event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *Notifier) Close() {
	n.conn.Close()
}
