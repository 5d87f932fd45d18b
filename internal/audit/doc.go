// Package audit implements async event dispatching for session lifecycle and
// access decisions.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, SQLite, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: append-only audit record with timestamp, type, user, session, resource, decision.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that responsibility belongs to the Engine, the access guard, the monitor,
// and the sweeper.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goSession or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
