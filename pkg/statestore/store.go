// Package statestore persists small JSON state blobs keyed by tenant and
// key. It defines the Store interface and backends for in-memory (dev),
// Redis, and PostgreSQL deployments. Keys are tenant-prefixed so tenants
// never see each other's state.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no value exists for a tenant/key pair.
var ErrNotFound = errors.New("state key not found")

// keySep joins tenant and key into the composite storage key.
const keySep = ":"

// Store defines tenant-scoped JSON blob persistence.
type Store interface {
	// Get returns the stored value. Returns ErrNotFound when absent.
	Get(ctx context.Context, tenant, key string) (json.RawMessage, error)

	// Set stores or overwrites the value.
	Set(ctx context.Context, tenant, key string, value json.RawMessage) error

	// Delete removes the value. Deleting an absent key is not an error.
	Delete(ctx context.Context, tenant, key string) error

	// Keys lists all keys stored for a tenant.
	Keys(ctx context.Context, tenant string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// CompositeKey builds the tenant-prefixed storage key.
func CompositeKey(tenant, key string) string {
	return tenant + keySep + key
}
