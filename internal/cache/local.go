// ABOUTME: Bounded in-process cache backend with explicit per-entry expiry
// ABOUTME: Expired entries read as absent and are purged in the background

package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultLocalCapacity bounds the in-process backend.
const DefaultLocalCapacity = 1000

type localItem struct {
	value     string
	expiresAt time.Time
}

// LocalBackend is a map of values with expiry timestamps. At capacity, the
// entry closest to expiry is dropped to make room.
type LocalBackend struct {
	mu       sync.RWMutex
	items    map[string]localItem
	capacity int
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

// NewLocalBackend creates a local backend and starts its purge loop.
func NewLocalBackend(capacity int) *LocalBackend {
	if capacity <= 0 {
		capacity = DefaultLocalCapacity
	}
	b := &LocalBackend{
		items:    make(map[string]localItem),
		capacity: capacity,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go b.purgeLoop(time.Minute)
	return b
}

func (b *LocalBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	item, ok := b.items[key]
	b.mu.RUnlock()

	if !ok || !b.now().Before(item.expiresAt) {
		return "", false, nil
	}
	return item.value, true, nil
}

func (b *LocalBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.items[key]; !exists && len(b.items) >= b.capacity {
		b.evictSoonestLocked()
	}
	b.items[key] = localItem{value: value, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
	return nil
}

// Len reports stored entries, expired or not.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *LocalBackend) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	first := true
	for key, item := range b.items {
		if first || item.expiresAt.Before(soonest) {
			victim, soonest, first = key, item.expiresAt, false
		}
	}
	if !first {
		delete(b.items, victim)
	}
}

func (b *LocalBackend) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.purge()
		case <-b.done:
			return
		}
	}
}

func (b *LocalBackend) purge() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for key, item := range b.items {
		if !now.Before(item.expiresAt) {
			delete(b.items, key)
		}
	}
}

// Close stops the purge loop. Safe to call more than once.
func (b *LocalBackend) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}
