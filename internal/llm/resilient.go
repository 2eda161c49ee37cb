// ABOUTME: Retry and circuit breaker decorator for a Completer
// ABOUTME: Built on cenkalti/backoff and sony/gobreaker

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// ResilienceOptions tunes Resilient.
type ResilienceOptions struct {
	// MaxRetries is the number of extra attempts after the first. Zero disables retry.
	MaxRetries uint64
	// InitialBackoff is the first retry delay, doubled per attempt.
	InitialBackoff time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration
}

func (o *ResilienceOptions) defaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
}

// Resilient wraps a Completer with retries and a circuit breaker.
type Resilient struct {
	next    Completer
	opts    ResilienceOptions
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewResilient decorates next. name labels the breaker in logs.
func NewResilient(name string, next Completer, opts ResilienceOptions, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	opts.defaults()
	logger = logger.With("component", "llm", "breaker", name)

	threshold := opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Resilient{next: next, opts: opts, breaker: cb, logger: logger}
}

// State returns the breaker state name.
func (r *Resilient) State() string {
	return r.breaker.State().String()
}

// Complete implements Completer.
func (r *Resilient) Complete(ctx context.Context, system, user string) (string, error) {
	var out string
	op := func() error {
		v, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.Complete(ctx, system, user)
		})
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v.(string)
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, r.opts.MaxRetries), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		r.logger.Warn("llm call failed, retrying", "error", err, "wait", wait)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
