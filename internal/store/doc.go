// Package store provides the session ledger for the gateway using SQLite.
//
// # Overview
//
// A session is one conversation as tracked by the activity monitor: it opens
// on the first user message of a thread, may be reminded once idle, and
// closes on inactivity or explicit request. The ledger keeps only the
// identifiers and timestamps of those transitions. Message content is never
// persisted.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite with WAL journaling, created on demand
//   - MockStore: in-memory, for tests
//
// Both satisfy SessionStore.
//
// # Schema
//
//	sessions(session_id, thread_key, channel_id, opened_at, reminded_at, closed_at)
//
// Timestamps are stored as RFC 3339 UTC text with second precision.
package store
