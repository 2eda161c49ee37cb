// ABOUTME: Package transport defines outbound delivery and message splitting
// ABOUTME: Adapters for concrete chat platforms live in subpackages

// Package transport is the boundary between the core and chat platforms.
//
// Outbound, the core hands text to a Deliverer. Texts longer than a platform's
// limit are cut by Split at the last newline or space under the limit and
// delivered in order, every part addressed to the same reply target.
// RateLimited paces deliveries with a token bucket.
//
// Inbound adapters (matrix, webhook) build event.Inbound values and pass them to
// an Ingester, which must return without waiting for processing.
package transport
