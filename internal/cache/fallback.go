// ABOUTME: Backend decorator that retries failed shared-store calls locally
// ABOUTME: Any primary error, at any time, routes that call to the local backend

package cache

import (
	"context"
	"log/slog"
	"time"
)

// Backend is a key-value store with expiry. kvstore.Store satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Fallback sends each call to primary and, when primary errors, repeats it
// against local.
type Fallback struct {
	primary Backend
	local   Backend
	logger  *slog.Logger
}

// NewFallback composes primary and local.
func NewFallback(primary, local Backend, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary: primary,
		local:   local,
		logger:  logger.With("component", "cache.fallback"),
	}
}

// Get reads from primary. A primary error or miss consults local, so entries
// written during an outage stay readable.
func (f *Fallback) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok, err := f.primary.Get(ctx, key)
	if err != nil {
		f.logger.Warn("shared cache read failed, using local", "key", key, "error", err)
		return f.local.Get(ctx, key)
	}
	if ok {
		return val, true, nil
	}
	return f.local.Get(ctx, key)
}

func (f *Fallback) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.primary.Set(ctx, key, value, ttl); err != nil {
		f.logger.Warn("shared cache write failed, using local", "key", key, "error", err)
		return f.local.Set(ctx, key, value, ttl)
	}
	return nil
}

// Delete removes key from both backends.
func (f *Fallback) Delete(ctx context.Context, key string) error {
	if err := f.primary.Delete(ctx, key); err != nil {
		f.logger.Warn("shared cache delete failed", "key", key, "error", err)
	}
	return f.local.Delete(ctx, key)
}
