// Package conversation keeps the recent turns of each support thread.
//
// # Overview
//
// A Store holds, per thread key, an ordered history of user and assistant
// turns. The pipeline appends the user's message before intent detection and
// the assistant's answer after delivery, and passes the history to the
// language model as context.
//
// # Bounds
//
// History is capped at a fixed number of turns. When a thread exceeds the
// cap, the oldest turn is dropped first:
//
//	store := conversation.New(conversation.Options{MaxTurns: 10}, logger)
//	store.AddMessage("C1:U1", conversation.RoleUser, "my login is broken")
//	turns := store.History("C1:U1") // copy, safe to retain
//
// # Staleness
//
// A background sweep removes threads with no activity for longer than the
// staleness threshold. It runs on its own ticker and knows nothing about the
// activity monitor's reminder and closure rules; the two mechanisms track
// different data and expire independently.
package conversation
