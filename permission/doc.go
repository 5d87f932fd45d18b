// Package permission provides the immutable permission set used by session
// snapshots, role snapshots, and authorization checks.
//
// # Semantics
//
// A [Set] is an ordered, de-duplicated collection of permission strings
// (for example "docs:read"). Sets are values: once constructed they are never
// mutated, so a session or role snapshot can share one safely across
// goroutines.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. It does NOT
// decide whether a request is allowed; that belongs to the access package.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import goSession, session, role, or access.
package permission
