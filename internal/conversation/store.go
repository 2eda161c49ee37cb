// ABOUTME: Bounded per-thread conversation history with FIFO eviction
// ABOUTME: A background sweep drops threads idle past the staleness threshold

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Roles used by the pipeline.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults follow the production configuration.
const (
	DefaultMaxTurns      = 10
	DefaultStaleAfter    = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Turn is one message in a thread.
type Turn struct {
	Role    string
	Content string
}

type history struct {
	turns        []Turn
	lastActivity time.Time
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	MaxTurns      int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// Store is the in-memory history container. Create it with New and stop its
// sweep with Close.
type Store struct {
	mu       sync.Mutex
	threads  map[string]*history
	maxTurns int
	stale    time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Store. Call Start to run the staleness sweep.
func New(opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTurns < 1 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Store{
		threads:  make(map[string]*history),
		maxTurns: opts.MaxTurns,
		stale:    opts.StaleAfter,
		interval: opts.SweepInterval,
		now:      time.Now,
		logger:   logger.With("component", "conversation"),
	}
}

// AddMessage appends a turn to threadKey, dropping the oldest turns beyond the cap.
func (s *Store) AddMessage(threadKey, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.threads[threadKey]
	if !ok {
		h = &history{}
		s.threads[threadKey] = h
	}
	h.turns = append(h.turns, Turn{Role: role, Content: content})
	if over := len(h.turns) - s.maxTurns; over > 0 {
		// Copy down so the backing array does not grow without bound.
		h.turns = append(h.turns[:0], h.turns[over:]...)
	}
	h.lastActivity = s.now()
}

// History returns a copy of threadKey's turns, oldest first.
func (s *Store) History(threadKey string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.threads[threadKey]
	if !ok {
		return nil
	}
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// CloseConversation forgets threadKey.
func (s *Store) CloseConversation(threadKey string) {
	s.mu.Lock()
	_, existed := s.threads[threadKey]
	delete(s.threads, threadKey)
	s.mu.Unlock()

	if existed {
		s.logger.Debug("conversation closed", "thread", threadKey)
	}
}

// Len returns the number of tracked threads.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// Sweep removes threads idle for at least the staleness threshold and returns
// how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, h := range s.threads {
		if now.Sub(h.lastActivity) >= s.stale {
			delete(s.threads, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("evicted stale conversations", "removed", removed, "remaining", len(s.threads))
	}
	return removed
}

// Start runs the staleness sweep until ctx is done or Close is called.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Close stops the sweep and waits for it to exit. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
