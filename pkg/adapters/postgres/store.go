// Package postgres implements the catalog and profile ports on PostgreSQL.
// The engine itself keeps conversation state elsewhere; this package backs
// the business collaborators the sales pipeline talks to.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seragusa/espalier/pkg/ports"
)

// Store implements ports.CatalogStore and ports.ProfileStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FindProducts searches the catalog by name, most stocked first.
func (s *Store) FindProducts(ctx context.Context, query string) ([]ports.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE name ILIKE '%' || $1 || '%' AND stock > 0
		ORDER BY stock DESC
		LIMIT 10`, query)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []ports.Product
	for rows.Next() {
		var p ports.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateOrder writes the order and its lines in one transaction and
// decrements stock.
func (s *Store) CreateOrder(ctx context.Context, conversationID string, cart []ports.CartItem) (string, error) {
	orderID := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var total float64
	for _, item := range cart {
		total += item.UnitPrice * float64(item.Quantity)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, conversation_id, total, created_at)
		VALUES ($1, $2, $3, now())`, orderID, conversationID, total); err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	for _, item := range cart {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`, orderID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return "", fmt.Errorf("insert order item %s: %w", item.ProductID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2
			WHERE id = $1 AND stock >= $2`, item.ProductID, item.Quantity); err != nil {
			return "", fmt.Errorf("decrement stock %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit order: %w", err)
	}
	return orderID, nil
}

// GetProfile resolves a user profile. A missing row is a nil profile, not
// an error.
func (s *Store) GetProfile(ctx context.Context, userID string) (*ports.Profile, error) {
	var p ports.Profile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, name, tone, COALESCE(preferences, '{}'::jsonb)
		FROM profiles
		WHERE user_id = $1`, userID).Scan(&p.UserID, &p.Name, &p.Tone, &p.Preferences)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query profile %s: %w", userID, err)
	}
	return &p, nil
}
