// ABOUTME: Package pipeline resolves a settled user request into one delivered reply
// ABOUTME: Stages: route, intent, cache, mapping, parallel fan-out, synthesis, deliver

// Package pipeline drives a settled request through the resolution stages and
// delivers exactly one reply per request.
//
// Stages, in order:
//
//  1. Route: channel name to product. Unknown channels get a fixed reply.
//  2. Intent: the LLM classifies the message against the product's intents.
//     A failed call degrades to the service_unavailable intent.
//  3. Cache: a previous answer for subject, product and intent short-circuits.
//  4. Mapping: intent to action names. No mapping gets a fixed reply.
//  5. Fan-out: actions and knowledge retrieval run concurrently; neither branch
//     cancels the other and both are joined.
//  6. Synthesis: the LLM writes the reply from both results. A failed call
//     degrades to a bullet summary of the raw data.
//  7. The reply is cached, recorded in the conversation history and delivered.
//
// Handle never returns an error and never panics. Unexpected failures become the
// generic error reply. The thread's processing flag in the activity monitor is
// released on every exit path.
//
// Submit runs Handle on a bounded worker pool. When every slot is busy it blocks
// the caller until one frees.
package pipeline
