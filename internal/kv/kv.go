// Package kv abstracts the expiring key/value operations the cache layer
// and conversation memory need, so both run against Redis in production and
// an in-process store in tests or Redis-less deployments.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store is the key/value surface shared by the cache layer and the
// conversation memory.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Incr atomically increments the integer at key (starting from 0)
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key (empty if missing).
	SMembers(ctx context.Context, key string) ([]string, error)

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error
}
