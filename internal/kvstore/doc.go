// Package kvstore provides the shared key-value stores behind deduplication and
// response caching. Every store supports per-key expiry and an atomic
// set-if-absent; Redis and DynamoDB implementations are included.
package kvstore
