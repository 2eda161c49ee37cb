// Package dedupe provides the idempotency gate for inbound events. A claim is
// taken atomically in a shared store; when the shared store fails, a bounded
// in-process LRU set takes the decision instead.
package dedupe
