// Package session provides the session model, the durable [Repository]
// contract with Redis, Postgres and in-memory adapters, the in-process [Cache],
// and the [Store] that orchestrates them.
//
// # Consistency model
//
// The repository is authoritative. The cache is an overlay that answers hot
// validations without I/O; cache misses and stale entries are re-read through
// a per-key single-flight so concurrent validations of one id share a single
// repository read. Destroyed ids are tombstoned so an in-flight read can never
// resurrect them.
//
// # Binary encoding
//
// Redis stores sessions in a compact, versioned binary format ([Encode],
// [Decode]). The token itself is never stored; only its SHA-256 hash.
//
// # What this package must NOT do
//
//   - Import goSession, role, access, or security (no upward imports).
//   - Make authorization decisions.
//   - Log or persist plaintext session tokens.
package session
