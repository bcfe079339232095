/*
Package ports defines the interfaces between the engine core and its
collaborators: state and checkpoint persistence, the opaque model-call
capability, the product catalog, user profiles and distributed locking.

Adapters for these ports live under pkg/adapters. The core never depends on
a concrete implementation.
*/
package ports
