package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/registry"
)

const salesPersona = "You are a friendly, concise sales assistant for a home goods store. " +
	"Ground every recommendation in the product context you are given and never invent prices."

// NewSalesAgent returns the sales domain stage. It searches the catalog for
// the inbound message, keeps the cart field up to date, places orders on
// checkout, and drafts the reply through the model capability. A fatal model
// error escalates to the human gate with the turn context attached; a
// transient one surfaces to the caller for retry.
func NewSalesAgent(model ports.ModelClient, catalog ports.CatalogStore) registry.Stage {
	return func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error) {
		message := lastUserMessage(snapshot, input)
		cart, err := decodeCart(snapshot)
		if err != nil {
			return domain.StageResult{}, err
		}

		// Checkout is deterministic: no model call, just the order.
		if wantsCheckout(message) {
			return checkout(ctx, catalog, snapshot, cart)
		}

		products, err := catalog.FindProducts(ctx, message)
		if err != nil {
			return domain.StageResult{}, fmt.Errorf("catalog search: %w", err)
		}

		delta := map[string]any{}
		if wantsToAdd(message) && len(products) > 0 {
			cart = append(cart, ports.CartItem{
				ProductID: products[0].ID,
				Name:      products[0].Name,
				Quantity:  1,
				UnitPrice: products[0].Price,
			})
			encoded, err := encodeCart(cart)
			if err != nil {
				return domain.StageResult{}, err
			}
			delta[domain.FieldCart] = encoded
		}

		completion, err := model.Complete(ctx, ports.CompletionRequest{
			System:   salesPersona + profileHint(snapshot),
			Summary:  snapshot.Summary,
			Messages: snapshot.Messages,
			Prompt:   salesPrompt(message, products, cart),
		})
		if err != nil {
			if errors.Is(err, domain.ErrModelFatal) {
				return escalateModelFailure(snapshot, message, err), nil
			}
			return domain.StageResult{}, err
		}

		return domain.StageResult{
			Delta: delta,
			Messages: []domain.Message{
				{Role: domain.RoleAssistant, Text: completion.Text, Timestamp: time.Now().UTC()},
			},
			Route: domain.AnyOf(HumanGate, Compressor),
		}, nil
	}
}

func checkout(ctx context.Context, catalog ports.CatalogStore, snapshot *domain.State, cart []ports.CartItem) (domain.StageResult, error) {
	if len(cart) == 0 {
		return domain.StageResult{
			Messages: []domain.Message{{
				Role:      domain.RoleAssistant,
				Text:      "Your cart is empty — tell me what you are looking for and I'll find it.",
				Timestamp: time.Now().UTC(),
			}},
			Route: domain.AnyOf(HumanGate, Compressor),
		}, nil
	}

	orderID, err := catalog.CreateOrder(ctx, snapshot.ID, cart)
	if err != nil {
		return domain.StageResult{}, fmt.Errorf("create order: %w", err)
	}

	var total float64
	for _, item := range cart {
		total += item.UnitPrice * float64(item.Quantity)
	}

	return domain.StageResult{
		Delta: map[string]any{
			domain.FieldCart: []any{},
			"last_order_id":  orderID,
		},
		Messages: []domain.Message{{
			Role:      domain.RoleAssistant,
			Text:      fmt.Sprintf("Order %s placed — %d item(s), %.2f total. You'll receive a confirmation shortly.", orderID, len(cart), total),
			Timestamp: time.Now().UTC(),
		}},
		Route: domain.AnyOf(HumanGate, Compressor),
	}, nil
}

// escalateModelFailure opens an escalation so a human can answer instead.
func escalateModelFailure(snapshot *domain.State, message string, cause error) domain.StageResult {
	return domain.StageResult{
		Delta: map[string]any{domain.FieldError: cause.Error()},
		Escalation: &domain.Escalation{
			ID:        uuid.NewString(),
			Turn:      snapshot.Turn,
			Reason:    "model_failure",
			Message:   message,
			Status:    domain.EscalationPending,
			CreatedAt: time.Now().UTC(),
		},
		Route: domain.AnyOf(HumanGate, Compressor),
	}
}

func salesPrompt(message string, products []ports.Product, cart []ports.CartItem) string {
	var sb strings.Builder
	sb.WriteString("Customer message: ")
	sb.WriteString(message)
	sb.WriteString("\n\nProduct context:\n")
	if len(products) == 0 {
		sb.WriteString("(no matching products)\n")
	}
	for _, p := range products {
		fmt.Fprintf(&sb, "- %s (%s): %.2f, %d in stock\n", p.Name, p.ID, p.Price, p.Stock)
	}
	if len(cart) > 0 {
		sb.WriteString("\nCart:\n")
		for _, item := range cart {
			fmt.Fprintf(&sb, "- %dx %s @ %.2f\n", item.Quantity, item.Name, item.UnitPrice)
		}
	}
	return sb.String()
}

func profileHint(snapshot *domain.State) string {
	profile, ok := snapshot.Fields[domain.FieldProfile].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := profile["name"].(string)
	tone, _ := profile["tone"].(string)
	hint := ""
	if name != "" {
		hint += " The customer's name is " + name + "."
	}
	if tone != "" {
		hint += " Preferred tone: " + tone + "."
	}
	return hint
}

func lastUserMessage(snapshot *domain.State, input domain.TurnInput) string {
	if input.Text != "" {
		return input.Text
	}
	for i := len(snapshot.Messages) - 1; i >= 0; i-- {
		if snapshot.Messages[i].Role == domain.RoleUser {
			return snapshot.Messages[i].Text
		}
	}
	return ""
}

func wantsCheckout(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "checkout") || strings.Contains(lower, "place my order")
}

func wantsToAdd(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "add") || strings.Contains(lower, "i'll take") || strings.Contains(lower, "buy")
}

func decodeCart(snapshot *domain.State) ([]ports.CartItem, error) {
	raw, ok := snapshot.Fields[domain.FieldCart]
	if !ok {
		return nil, nil
	}
	var cart []ports.CartItem
	if err := mapstructure.Decode(raw, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return cart, nil
}

func encodeCart(cart []ports.CartItem) ([]any, error) {
	encoded := make([]any, len(cart))
	for i, item := range cart {
		var m map[string]any
		if err := mapstructure.Decode(item, &m); err != nil {
			return nil, fmt.Errorf("encode cart: %w", err)
		}
		encoded[i] = m
	}
	return encoded, nil
}
