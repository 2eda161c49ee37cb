// ABOUTME: Deliverer and Ingester interfaces, length-aware splitting, paced delivery
// ABOUTME: Shared by the pipeline, the activity notifier and platform adapters

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/2389/helpdesk-gateway/internal/event"
)

// DefaultMessageLimit fits comfortably inside common chat platform limits.
const DefaultMessageLimit = 3000

// Deliverer posts text to a channel, threaded under replyTarget when set.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, text, replyTarget string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, channelID, text, replyTarget string) error

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, channelID, text, replyTarget string) error {
	return f(ctx, channelID, text, replyTarget)
}

// Ingester accepts inbound events. Implementations return immediately.
type Ingester interface {
	Ingest(ctx context.Context, ev event.Inbound)
}

// Split cuts text into parts of at most limit bytes. Each cut happens after the
// last newline in the window, else after the last space, else at the limit.
// Cuts never split a UTF-8 sequence. A non-positive limit returns text whole.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	rest := text
	for len(rest) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		if cut == 0 {
			// a single rune wider than limit
			_, size := utf8.DecodeRuneInString(rest)
			cut = size
		}

		window := rest[:cut]
		if i := strings.LastIndexByte(window, '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(window, ' '); i > 0 {
			cut = i + 1
		}

		part := strings.TrimRight(rest[:cut], " \n")
		if part != "" {
			parts = append(parts, part)
		}
		rest = rest[cut:]
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// DeliverAll splits text and delivers the parts in order. Delivery continues
// past a failed part; every failure is returned joined.
func DeliverAll(ctx context.Context, d Deliverer, channelID, text, replyTarget string, limit int) error {
	var errs []error
	for i, part := range Split(text, limit) {
		if err := d.Deliver(ctx, channelID, part, replyTarget); err != nil {
			errs = append(errs, fmt.Errorf("part %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

// RateLimited paces a Deliverer with a token bucket.
type RateLimited struct {
	next    Deliverer
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond deliveries with the given burst.
func NewRateLimited(next Deliverer, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Deliver implements Deliverer. It waits for a token or for ctx to end.
func (r *RateLimited) Deliver(ctx context.Context, channelID, text, replyTarget string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Deliver(ctx, channelID, text, replyTarget)
}
