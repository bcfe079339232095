package ports

import "context"

// Product is a catalog entry surfaced to domain stages.
type Product struct {
	ID    string  `json:"id" mapstructure:"id"`
	Name  string  `json:"name" mapstructure:"name"`
	Price float64 `json:"price" mapstructure:"price"`
	Stock int     `json:"stock" mapstructure:"stock"`
}

// CartItem is one line of a shopping cart held in conversation state.
type CartItem struct {
	ProductID string  `json:"product_id" mapstructure:"product_id"`
	Name      string  `json:"name" mapstructure:"name"`
	Quantity  int     `json:"quantity" mapstructure:"quantity"`
	UnitPrice float64 `json:"unit_price" mapstructure:"unit_price"`
}

// CatalogStore is the narrow read/write capability domain stages use to
// reach the product/order collaborator. The core never embeds storage logic.
type CatalogStore interface {
	FindProducts(ctx context.Context, query string) ([]Product, error)
	CreateOrder(ctx context.Context, conversationID string, cart []CartItem) (orderID string, err error)
}

// Profile is the user context loaded at the start of a turn.
type Profile struct {
	UserID      string         `json:"user_id" mapstructure:"user_id"`
	Name        string         `json:"name" mapstructure:"name"`
	Tone        string         `json:"tone" mapstructure:"tone"`
	Preferences map[string]any `json:"preferences,omitempty" mapstructure:"preferences"`
}

// ProfileStore resolves user profiles for personalization. A missing profile
// is reported with a nil Profile and nil error.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}
