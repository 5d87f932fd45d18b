// Package internal holds helpers private to goSession. The package itself
// provides client fingerprinting for the security validator.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - rate: Redis fixed-window counters for login throttling and alert de-duplication
//
// Nothing here appears in the public goSession API.
package internal
