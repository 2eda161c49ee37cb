// ABOUTME: Activity monitor implementing the remind-once and auto-close state machine
// ABOUTME: Notifier hooks run outside the lock; the processing flag guards in-flight threads

package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults follow the production configuration.
const (
	DefaultReminderAfter = time.Minute
	DefaultCloseAfter    = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// State is the derived lifecycle state of a thread.
type State string

const (
	StateAwaitingBot  State = "awaiting_bot"
	StateAwaitingUser State = "awaiting_user"
	StateReminded     State = "reminded"
)

// Close reasons reported on the snapshot passed to Notifier.Closed.
const (
	CloseInactivity = "inactivity"
	CloseExplicit   = "explicit"
)

// Thread is a snapshot of one thread's activity record.
type Thread struct {
	Key         string
	SessionID   string
	ChannelID   string
	ReplyTarget string

	LastUserTime time.Time

	// LastBotTime is zero until the bot has answered successfully.
	LastBotTime time.Time

	RemindersSent int
	Processing    bool

	// CloseReason is set only on the snapshot handed to Notifier.Closed.
	CloseReason string
}

// State derives the lifecycle state from the record.
func (t Thread) State() State {
	switch {
	case t.Processing:
		return StateAwaitingBot
	case t.RemindersSent > 0:
		return StateReminded
	default:
		return StateAwaitingUser
	}
}

// Notifier receives lifecycle transitions.
type Notifier interface {
	// Opened runs when a thread is first seen.
	Opened(ctx context.Context, t Thread)

	// Remind delivers the idle reminder. An error leaves the thread eligible
	// for a reminder on the next sweep.
	Remind(ctx context.Context, t Thread) error

	// Closed runs after the thread has been removed.
	Closed(ctx context.Context, t Thread)
}

// Options configures a Monitor. Zero values select the defaults.
type Options struct {
	ReminderAfter time.Duration
	CloseAfter    time.Duration
	SweepInterval time.Duration
}

// Monitor owns the thread records.
type Monitor struct {
	mu       sync.Mutex
	threads  map[string]*Thread
	opts     Options
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Monitor. notifier may be nil.
func New(opts Options, notifier Notifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReminderAfter <= 0 {
		opts.ReminderAfter = DefaultReminderAfter
	}
	if opts.CloseAfter <= 0 {
		opts.CloseAfter = DefaultCloseAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Monitor{
		threads:  make(map[string]*Thread),
		opts:     opts,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With("component", "activity"),
	}
}

// RecordUser notes a user message and marks the thread as processing. The
// reminder count is kept across exchanges.
func (m *Monitor) RecordUser(ctx context.Context, threadKey, channelID, replyTarget string) Thread {
	if threadKey == "" {
		m.logger.Warn("ignoring user activity with empty thread key")
		return Thread{}
	}

	m.mu.Lock()
	t, existed := m.threads[threadKey]
	if !existed {
		t = &Thread{Key: threadKey, SessionID: uuid.NewString()}
		m.threads[threadKey] = t
	}
	t.LastUserTime = m.now()
	t.ChannelID = channelID
	t.ReplyTarget = replyTarget
	t.Processing = true
	snap := *t
	m.mu.Unlock()

	if !existed {
		m.logger.Info("thread opened", "thread", threadKey, "session_id", snap.SessionID)
		m.notifier.Opened(ctx, snap)
	}
	m.logger.Debug("user activity", "thread", threadKey)
	return snap
}

// BeginProcessing marks an existing thread as processing. It reports whether
// the thread is tracked.
func (m *Monitor) BeginProcessing(threadKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadKey]
	if ok {
		t.Processing = true
	}
	return ok
}

// RecordBot notes a successful bot response.
func (m *Monitor) RecordBot(threadKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadKey]
	if !ok {
		m.logger.Debug("bot response for untracked thread", "thread", threadKey)
		return
	}
	t.LastBotTime = m.now()
	t.Processing = false
}

// RecordBotError clears the processing flag without recording a response.
func (m *Monitor) RecordBotError(threadKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.threads[threadKey]; ok {
		t.Processing = false
		m.logger.Warn("bot error, cleared processing flag", "thread", threadKey)
	}
}

// Get returns a snapshot of threadKey's record.
func (m *Monitor) Get(threadKey string) (Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadKey]
	if !ok {
		return Thread{}, false
	}
	return *t, true
}

// Len returns the number of tracked threads.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// Close removes threadKey and runs the Closed hook. It reports whether the
// thread existed.
func (m *Monitor) Close(ctx context.Context, threadKey string) bool {
	m.mu.Lock()
	t, ok := m.threads[threadKey]
	if ok {
		delete(m.threads, threadKey)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	snap := *t
	snap.CloseReason = CloseExplicit
	m.logger.Info("thread closed", "thread", threadKey, "session_id", t.SessionID, "reason", CloseExplicit)
	m.notifier.Closed(ctx, snap)
	return true
}

// Sweep applies the closure and reminder rules once.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()
	var toClose, toRemind []Thread

	m.mu.Lock()
	for key, t := range m.threads {
		if t.Processing {
			continue
		}

		inactive := now.Sub(t.LastUserTime)
		if inactive >= m.opts.CloseAfter {
			delete(m.threads, key)
			snap := *t
			snap.CloseReason = CloseInactivity
			toClose = append(toClose, snap)
			continue
		}

		botResponded := !t.LastBotTime.IsZero()
		botWasLast := botResponded && t.LastBotTime.After(t.LastUserTime)
		if botWasLast && inactive >= m.opts.ReminderAfter && t.RemindersSent == 0 {
			// Claimed under the lock so a concurrent sweep cannot send a second one.
			t.RemindersSent++
			toRemind = append(toRemind, *t)
		}
	}
	remaining := len(m.threads)
	m.mu.Unlock()

	for _, t := range toClose {
		m.logger.Info("thread closed",
			"thread", t.Key,
			"session_id", t.SessionID,
			"reason", t.CloseReason,
			"idle", now.Sub(t.LastUserTime).Round(time.Second),
		)
		m.notifier.Closed(ctx, t)
	}

	for _, t := range toRemind {
		if err := m.notifier.Remind(ctx, t); err != nil {
			m.logger.Error("reminder failed", "thread", t.Key, "error", err)
			m.releaseReminder(t)
			continue
		}
		m.logger.Info("reminder sent", "thread", t.Key, "session_id", t.SessionID)
	}

	if len(toClose) > 0 || len(toRemind) > 0 {
		m.logger.Debug("sweep complete",
			"closed", len(toClose),
			"reminded", len(toRemind),
			"remaining", remaining,
		)
	}
}

// releaseReminder rolls back a reminder claim after a failed delivery.
func (m *Monitor) releaseReminder(snap Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.threads[snap.Key]; ok && t.SessionID == snap.SessionID && t.RemindersSent > 0 {
		t.RemindersSent--
	}
}

// Run sweeps on a fixed interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("activity monitor started",
		"reminder_after", m.opts.ReminderAfter,
		"close_after", m.opts.CloseAfter,
		"interval", m.opts.SweepInterval,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Opened(context.Context, Thread) {}
func (nopNotifier) Remind(context.Context, Thread) error { return nil }
func (nopNotifier) Closed(context.Context, Thread) {}
