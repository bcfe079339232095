package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/pkg/adapters/postgres"
	"github.com/seragusa/espalier/pkg/ports"
)

// Integration tests run only against a real database. Provide one with:
//
//	ESPALIER_TEST_DATABASE_URL=postgres://... go test ./pkg/adapters/postgres/
//
// The schema in deploy/schema.sql must be applied first.
func testStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("ESPALIER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ESPALIER_TEST_DATABASE_URL not set")
	}
	store, err := postgres.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestFindProducts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	products, err := store.FindProducts(ctx, "table")
	require.NoError(t, err)
	for _, p := range products {
		assert.NotEmpty(t, p.ID)
		assert.Greater(t, p.Stock, 0)
	}
}

func TestCreateOrderRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	products, err := store.FindProducts(ctx, "")
	require.NoError(t, err)
	if len(products) == 0 {
		t.Skip("catalog is empty")
	}

	orderID, err := store.CreateOrder(ctx, "test-conversation", []ports.CartItem{
		{ProductID: products[0].ID, Name: products[0].Name, Quantity: 1, UnitPrice: products[0].Price},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, orderID)
}

func TestGetProfileMissing(t *testing.T) {
	store := testStore(t)

	profile, err := store.GetProfile(context.Background(), "no-such-user")
	require.NoError(t, err)
	assert.Nil(t, profile)
}
