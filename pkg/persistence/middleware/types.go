// Package middleware wraps a StateStore with cross-cutting persistence
// concerns. Middlewares compose around the store; the engine sees the
// outermost wrapper and never knows what happens to the bytes at rest.
package middleware

import "github.com/seragusa/espalier/pkg/ports"

// Middleware decorates a StateStore.
type Middleware func(ports.StateStore) ports.StateStore

// Chain wraps store with the given middlewares. The first middleware is the
// outermost wrapper, so it sees Save calls first and Load results last.
func Chain(store ports.StateStore, middlewares ...Middleware) ports.StateStore {
	for i := len(middlewares) - 1; i >= 0; i-- {
		store = middlewares[i](store)
	}
	return store
}
