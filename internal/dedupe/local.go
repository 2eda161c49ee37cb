// ABOUTME: Bounded in-process set of claimed keys with TTL and LRU eviction
// ABOUTME: Used alone in single-instance mode and as the fallback for shared claims

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// localEntry tracks when a key was claimed and its position in the LRU list.
type localEntry struct {
	claimedAt time.Time
	element   *list.Element
}

// LocalSet is a thread-safe, TTL-based, size-limited set of claimed keys.
// The least recently used key is evicted when the set is full.
type LocalSet struct {
	mu       sync.Mutex
	entries  map[string]*localEntry
	lru      *list.List // front is least recently used
	ttl      time.Duration
	capacity int
	now      func() time.Time
	done     chan struct{}
	closed   bool
}

// NewLocalSet creates a set holding at most capacity live keys for ttl each.
// A background goroutine purges expired keys every sweep interval.
func NewLocalSet(ttl time.Duration, capacity int) *LocalSet {
	if capacity < 1 {
		capacity = 1
	}
	s := &LocalSet{
		entries:  make(map[string]*localEntry),
		lru:      list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go s.sweep(time.Minute)
	return s
}

// Claim reports whether key was unclaimed (or expired) and claims it.
// A duplicate claim refreshes the key's LRU position but not its expiry.
func (s *LocalSet) Claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok {
		if now.Sub(entry.claimedAt) < s.ttl {
			s.lru.MoveToBack(entry.element)
			return false
		}
		entry.claimedAt = now
		s.lru.MoveToBack(entry.element)
		return true
	}

	if len(s.entries) >= s.capacity {
		s.evictLRU()
	}
	s.entries[key] = &localEntry{claimedAt: now, element: s.lru.PushBack(key)}
	return true
}

// Contains reports whether key holds a live claim. It does not touch LRU order.
func (s *LocalSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	return ok && s.now().Sub(entry.claimedAt) < s.ttl
}

// Len returns the number of tracked keys, including expired ones not yet purged.
func (s *LocalSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLRU must be called with mu held.
func (s *LocalSet) evictLRU() {
	front := s.lru.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	s.lru.Remove(front)
	delete(s.entries, key)
}

func (s *LocalSet) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purgeExpired()
		case <-s.done:
			return
		}
	}
}

func (s *LocalSet) purgeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if now.Sub(entry.claimedAt) >= s.ttl {
			s.lru.Remove(entry.element)
			delete(s.entries, key)
		}
	}
}

// Close stops the purge goroutine. It is safe to call multiple times.
func (s *LocalSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
