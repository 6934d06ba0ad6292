// Package cache provides the shared time-bounded key-value store backing
// replay protection, OAuth flow state, and rate limiting.
//
// Correctness of replay detection and at-most-once code exchange depends on
// the atomic primitives here: SetNX is a single atomic check-and-set and
// GetDel is a single atomic read-and-delete. Callers must never emulate them
// with separate Get and Set calls.
package cache

import (
	"context"
	"time"
)

// Store is a TTL key-value store shared by the gateway components.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. The second return value is false if the
	// key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL, replacing any previous
	// value. A zero TTL means the entry does not expire.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX atomically stores value under key only if the key is absent.
	// Returns true if the value was stored, false if the key already existed.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// GetDel atomically reads and deletes key. The second return value is
	// false if the key was absent or expired.
	GetDel(ctx context.Context, key string) (string, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter at key and returns the new
	// value. The TTL is applied only when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
