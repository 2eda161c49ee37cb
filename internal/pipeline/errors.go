// ABOUTME: Typed terminal conditions raised by the routing and mapping stages
// ABOUTME: Everything else resolves to a degraded value instead of an error

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrRouteNotFound means no product is configured for the channel.
	ErrRouteNotFound = errors.New("route not found")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("pipeline closed")
)

// IntentNotFoundError means the product has no action mapping for the intent.
type IntentNotFoundError struct {
	Product string
	Intent  string
	Err     error
}

func (e *IntentNotFoundError) Error() string {
	return fmt.Sprintf("No intent mapping found for appId='%s' and intentName='%s'", e.Product, e.Intent)
}

func (e *IntentNotFoundError) Unwrap() error {
	return e.Err
}
