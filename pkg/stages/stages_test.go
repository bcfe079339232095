package stages_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

// fakeModel is a deterministic ModelClient: it echoes a digest of the
// request unless scripted to fail.
type fakeModel struct {
	err      error
	requests []ports.CompletionRequest
}

func (m *fakeModel) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return ports.Completion{}, m.err
	}
	return ports.Completion{
		Text:             fmt.Sprintf("reply(%d chars)", len(req.Prompt)),
		PromptTokens:     len(req.Prompt),
		CompletionTokens: 12,
	}, nil
}

// fakeCatalog serves a fixed product list and records orders.
type fakeCatalog struct {
	products []ports.Product
	findErr  error
	orders   [][]ports.CartItem
}

func (c *fakeCatalog) FindProducts(ctx context.Context, query string) ([]ports.Product, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	var out []ports.Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(query), strings.ToLower(p.Name)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) CreateOrder(ctx context.Context, conversationID string, cart []ports.CartItem) (string, error) {
	c.orders = append(c.orders, cart)
	return fmt.Sprintf("ord-%d", len(c.orders)), nil
}

// fakeProfiles serves profiles from a map.
type fakeProfiles struct {
	profiles map[string]*ports.Profile
	err      error
}

func (p *fakeProfiles) GetProfile(ctx context.Context, userID string) (*ports.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.profiles[userID], nil
}

func stateWithMessages(id string, n int) *domain.State {
	state := domain.NewState(id)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		state.Append(role, fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Minute))
	}
	return state
}
