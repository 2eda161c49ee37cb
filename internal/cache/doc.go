// Package cache implements the cache-aside response cache.
//
// The cache talks to a single Backend. In production that backend is a
// Fallback decorator: calls go to the shared store first and are retried
// against a bounded in-process map when the shared store errors. Callers never
// see backend errors; a failed read is a miss and a failed write is logged.
package cache
