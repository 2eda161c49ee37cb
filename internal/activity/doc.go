// Package activity tracks per-thread user and bot timestamps and drives the
// idle reminder and auto-close rules.
//
// Only timestamps and routing identifiers are kept, never message content.
// A periodic sweep evaluates each thread:
//
//   - threads still waiting on a bot response are skipped
//   - a thread idle for at least the closure threshold is removed and the
//     notifier's Closed hook runs
//   - otherwise, a thread whose last activity was a bot response, idle for at
//     least the reminder threshold, gets exactly one reminder over its lifetime
package activity
