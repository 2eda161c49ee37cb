// ABOUTME: Deduplicator that claims event ids in a shared store with local fallback
// ABOUTME: Shared-store failures are logged and decided by the in-process LRU set

package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/helpdesk-gateway/internal/kvstore"
)

const (
	// DefaultTTL is how long an event id stays claimed.
	DefaultTTL = 5 * time.Minute

	// DefaultLocalCapacity bounds the fallback set.
	DefaultLocalCapacity = 500

	keyPrefix = "helpdesk:dedup:"
)

// Claimer is the shared set-if-absent primitive. kvstore.Store satisfies it.
type Claimer interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

var _ Claimer = (kvstore.Store)(nil)

// Deduplicator gates events so each id is processed at most once per TTL window.
type Deduplicator struct {
	shared Claimer
	local  *LocalSet
	ttl    time.Duration
	logger *slog.Logger
}

// Options configures a Deduplicator. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	LocalCapacity int
}

// New creates a Deduplicator. shared may be nil, in which case only the local
// set is used.
func New(shared Claimer, opts Options, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LocalCapacity <= 0 {
		opts.LocalCapacity = DefaultLocalCapacity
	}
	return &Deduplicator{
		shared: shared,
		local:  NewLocalSet(opts.TTL, opts.LocalCapacity),
		ttl:    opts.TTL,
		logger: logger.With("component", "dedupe"),
	}
}

// TryClaim returns true the first time eventID is seen within the TTL window
// and false for every later call. It never fails: a shared-store error is
// logged and the local set decides.
func (d *Deduplicator) TryClaim(ctx context.Context, eventID string) bool {
	if eventID == "" {
		d.logger.Warn("rejecting event with empty id")
		return false
	}

	if d.shared != nil {
		claimed, err := d.shared.SetIfAbsent(ctx, keyPrefix+eventID, "1", d.ttl)
		if err == nil {
			if claimed {
				// Keep the local set warm so a later outage still sees this id.
				d.local.Claim(eventID)
			} else {
				d.logger.Debug("duplicate event", "event_id", eventID)
			}
			return claimed
		}
		d.logger.Warn("shared dedupe store failed, using local set",
			"event_id", eventID,
			"error", err,
		)
	}

	claimed := d.local.Claim(eventID)
	if !claimed {
		d.logger.Debug("duplicate event", "event_id", eventID, "backend", "local")
	}
	return claimed
}

// Close releases the local set. The shared store is owned by the caller.
func (d *Deduplicator) Close() {
	d.local.Close()
}
