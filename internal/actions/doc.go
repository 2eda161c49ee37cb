// ABOUTME: Package actions invokes product APIs on behalf of the pipeline
// ABOUTME: Ships a simulated backend for the artemis, b360 and velocity products

// Package actions defines the Invoker the pipeline calls for each mapped action,
// plus Mock, a latency-simulating implementation returning canned payloads for
// the three built-in products. Invocations never return Go errors; a failure is
// reported as a Result with Success false.
package actions
