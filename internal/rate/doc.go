// Package rate provides Redis fixed-window counters.
//
// # Window semantics
//
// INCR + conditional EXPIRE on first hit. Key prefixes (after the configured
// namespace):
//   - al: failed logins per identifier
//   - ali: failed logins per IP
//   - once: first-occurrence de-duplication
//
// # What this package must NOT do
//
//   - Decide what happens to a throttled request.
//   - Be imported outside the goSession module.
package rate
