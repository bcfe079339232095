package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/seragusa/espalier/pkg/ports"
)

// Catalog implements ports.CatalogStore in memory. Useful for tests and the
// interactive demo; production deployments use the postgres adapter.
type Catalog struct {
	mu       sync.Mutex
	products []ports.Product
	orders   map[string][][]ports.CartItem
	seq      int
}

// NewCatalog creates a catalog over a fixed product list.
func NewCatalog(products ...ports.Product) *Catalog {
	return &Catalog{
		products: products,
		orders:   make(map[string][][]ports.CartItem),
	}
}

// SeedCatalog returns a catalog with a small demo inventory.
func SeedCatalog() *Catalog {
	return NewCatalog(
		ports.Product{ID: "p-100", Name: "oak dining table", Price: 549.00, Stock: 4},
		ports.Product{ID: "p-101", Name: "walnut bookshelf", Price: 289.00, Stock: 7},
		ports.Product{ID: "p-102", Name: "linen armchair", Price: 399.00, Stock: 2},
		ports.Product{ID: "p-103", Name: "brass floor lamp", Price: 129.00, Stock: 12},
		ports.Product{ID: "p-104", Name: "ceramic vase", Price: 39.00, Stock: 30},
	)
}

// FindProducts matches products whose name appears in the query.
func (c *Catalog) FindProducts(ctx context.Context, query string) ([]ports.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lower := strings.ToLower(query)
	var out []ports.Product
	for _, p := range c.products {
		if p.Stock > 0 && strings.Contains(lower, strings.ToLower(p.Name)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreateOrder records the order and returns a synthetic order ID.
func (c *Catalog) CreateOrder(ctx context.Context, conversationID string, cart []ports.CartItem) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.orders[conversationID] = append(c.orders[conversationID], cart)
	return fmt.Sprintf("ord-%06d", c.seq), nil
}

// Orders returns the orders placed in a conversation.
func (c *Catalog) Orders(conversationID string) [][]ports.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orders[conversationID]
}

// Profiles implements ports.ProfileStore in memory.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[string]*ports.Profile
}

// NewProfiles creates a profile store.
func NewProfiles(profiles ...*ports.Profile) *Profiles {
	m := make(map[string]*ports.Profile, len(profiles))
	for _, p := range profiles {
		m[p.UserID] = p
	}
	return &Profiles{profiles: m}
}

// GetProfile resolves a profile; missing profiles are nil, not errors.
func (p *Profiles) GetProfile(ctx context.Context, userID string) (*ports.Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profiles[userID], nil
}

// PutProfile adds or replaces a profile.
func (p *Profiles) PutProfile(profile *ports.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.UserID] = profile
}
