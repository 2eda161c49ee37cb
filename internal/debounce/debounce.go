// ABOUTME: Per-subject sliding-window debouncer with cancellable timers
// ABOUTME: First origin wins, latest callback wins, buffer removed before settle

package debounce

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDelay is the quiet period before a buffer settles.
const DefaultDelay = time.Second

// Origin is where a burst belongs: the thread it is recorded under and the
// place its reply is posted. The first message of a burst fixes it.
type Origin struct {
	ThreadKey   string
	ReplyTarget string
}

// SettleFunc receives the combined text and the burst's origin.
type SettleFunc func(combined string, origin Origin)

type buffer struct {
	texts      []string
	origin     Origin
	onSettle   SettleFunc
	timer      *time.Timer
	generation uint64
}

// Debouncer holds pending buffers keyed by subject.
type Debouncer struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	delay   time.Duration
	nextGen uint64
	stopped bool
	logger  *slog.Logger
}

// New creates a Debouncer with the given quiet period. delay <= 0 selects
// DefaultDelay.
func New(delay time.Duration, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		buffers: make(map[string]*buffer),
		delay:   delay,
		logger:  logger.With("component", "debounce"),
	}
}

// Buffer adds text to subjectKey's pending burst. The first call for a burst
// records origin; later calls keep it. onSettle replaces any earlier callback
// for the burst. It returns the burst's origin, and false when the message
// was dropped because the debouncer is stopped.
func (d *Debouncer) Buffer(subjectKey, text string, origin Origin, onSettle SettleFunc) (Origin, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		d.logger.Warn("debouncer stopped, dropping message", "subject", subjectKey)
		return Origin{}, false
	}

	d.nextGen++
	gen := d.nextGen

	buf, ok := d.buffers[subjectKey]
	if !ok {
		buf = &buffer{origin: origin}
		d.buffers[subjectKey] = buf
	} else {
		buf.timer.Stop()
		if origin != buf.origin {
			d.logger.Debug("keeping first origin for burst",
				"subject", subjectKey,
				"kept", buf.origin.ReplyTarget,
				"ignored", origin.ReplyTarget,
			)
		}
	}

	buf.texts = append(buf.texts, text)
	buf.onSettle = onSettle
	buf.generation = gen
	buf.timer = time.AfterFunc(d.delay, func() { d.fire(subjectKey, gen) })

	d.logger.Debug("buffered message", "subject", subjectKey, "pending", len(buf.texts))
	return buf.origin, true
}

// fire settles subjectKey if gen is still the live generation.
func (d *Debouncer) fire(subjectKey string, gen uint64) {
	d.mu.Lock()
	buf, ok := d.buffers[subjectKey]
	if !ok || buf.generation != gen {
		d.mu.Unlock()
		return
	}
	delete(d.buffers, subjectKey)
	d.mu.Unlock()

	d.settle(subjectKey, buf)
}

func (d *Debouncer) settle(subjectKey string, buf *buffer) {
	combined := strings.Join(buf.texts, " ")
	d.logger.Debug("settling burst", "subject", subjectKey, "messages", len(buf.texts))
	if buf.onSettle != nil {
		buf.onSettle(combined, buf.origin)
	}
}

// Pending returns the number of live buffers.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Flush settles every pending buffer immediately, in no particular order.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	pending := d.buffers
	d.buffers = make(map[string]*buffer)
	for _, buf := range pending {
		buf.timer.Stop()
	}
	d.mu.Unlock()

	for key, buf := range pending {
		d.settle(key, buf)
	}
}

// Stop cancels all pending timers without settling and rejects further
// messages.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, buf := range d.buffers {
		buf.timer.Stop()
		delete(d.buffers, key)
	}
	d.stopped = true
}
