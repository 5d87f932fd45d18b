// Package goSession is a session and access-control engine for Go servers.
//
// An [Engine] creates sessions for verified users, validates them on every
// request, binds them to the client that created them, and answers
// permission and role checks. Around that core it keeps a time-bounded role
// cache, records per-user activity for anomaly detection, and sweeps expired
// sessions in the background.
//
// Engine methods are safe to call from multiple goroutines once
// [Builder.Build] returns.
//
// # Validation order
//
// [Engine.ValidateToken] checks, in order and stopping at the first failure:
// the token signature, the session's existence and expiry, the token hash
// stored with the session, and the client binding (IP, user agent, device).
// A binding mismatch destroys the session. Authorization is a separate call
// ([Engine.Authorize], [Engine.AuthorizeRoles]) made with the validated
// session.
//
// # Packages
//
// The engine wires these packages together; each is usable on its own:
//
//   - session: the session model, cache, store and repositories
//   - role: roles and the snapshot cache
//   - security: client binding checks
//   - access: permission and role guards
//   - monitor: activity history and anomaly detection
//   - sweeper: background expiry
//   - alert: security alert sinks
//   - middleware: net/http integration
//
// The engine never logs or persists plaintext tokens.
package goSession
