// Package security binds sessions to the client that created them and checks
// later requests against that binding.
//
// Three dimensions are compared independently: client IP, User-Agent, and a
// device id derived from client-supplied signals. Every enabled dimension
// must match; a single mismatch fails the check. Comparisons run on SHA-256
// digests in constant time.
package security
