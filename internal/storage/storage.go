// Package storage defines the durable state contract for addressable entities.
package storage

import (
	"context"

	"github.com/tessera-id/tessera/internal/platform/errors"
)

// ErrNotFound indicates no state has been persisted for a key.
var ErrNotFound = errors.New(errors.CodeNotFound, "no state for key")

// StateStore persists opaque entity state snapshots keyed by entity path.
//
// Implementations must make Put atomic per key: a failed write leaves the
// previously stored snapshot intact.
type StateStore interface {
	// Get returns the last committed snapshot for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the snapshot for key.
	Put(ctx context.Context, key string, state []byte) error
	// Delete removes the snapshot for key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Close releases store resources.
	Close() error
}
