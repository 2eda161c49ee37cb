// ABOUTME: Cache-aside store for synthesized answers keyed by subject, route and intent
// ABOUTME: Never returns errors; backend failures degrade to misses and log lines

package cache

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultTTL is used when Put is called with a non-positive ttl.
	DefaultTTL = 10 * time.Minute

	keyPrefix = "helpdesk:cache:"
)

// ResponseCache stores previously computed answers.
type ResponseCache struct {
	backend    Backend
	defaultTTL time.Duration
	logger     *slog.Logger
}

// New creates a ResponseCache on backend.
func New(backend Backend, defaultTTL time.Duration, logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &ResponseCache{
		backend:    backend,
		defaultTTL: defaultTTL,
		logger:     logger.With("component", "cache"),
	}
}

// Key builds the cache key for a subject's answer to an intent within a route.
func Key(subjectID, route, intent string) string {
	return subjectID + ":" + route + ":" + intent
}

// Get returns the cached value for key, if any.
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	val, ok, err := c.backend.Get(ctx, keyPrefix+key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
		return "", false
	}
	if ok {
		c.logger.Debug("cache hit", "key", key)
	}
	return val, ok
}

// Put stores value under key for ttl, or the default TTL when ttl <= 0.
func (c *ResponseCache) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.backend.Set(ctx, keyPrefix+key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Evict removes key.
func (c *ResponseCache) Evict(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, keyPrefix+key); err != nil {
		c.logger.Warn("cache evict failed", "key", key, "error", err)
	}
}
