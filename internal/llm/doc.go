// ABOUTME: Package llm talks to an OpenAI-compatible chat completions endpoint
// ABOUTME: Adds retry with exponential backoff and a circuit breaker around calls

// Package llm provides the Completer used for intent detection and answer
// synthesis.
//
// Client speaks the chat completions protocol. Its API key comes from a
// KeySource, either a static string or an AWS SSM parameter resolved once per
// process. Resilient decorates any Completer with bounded retries and a circuit
// breaker; client errors (4xx other than 429) are never retried.
package llm
