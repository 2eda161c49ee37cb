// ABOUTME: Shared key-value store contract used by dedupe and the response cache
// ABOUTME: Implementations must make SetIfAbsent atomic across processes

package kvstore

import (
	"context"
	"time"
)

// Store is a shared key-value store with TTL support.
type Store interface {
	// SetIfAbsent stores value under key only if no live value exists.
	// It reports whether this call created the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the live value for key. Expired keys are reported as absent.
	Get(ctx context.Context, key string) (string, bool, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
