// Package access decides whether a validated session may perform an action.
//
// [Guard.Authorize] is a subset test of the required permissions against the
// session's permission snapshot; [Guard.AuthorizeRoles] is a membership test
// of the session's role. Every decision, allowed or denied, is handed to an
// audit [Emitter] without waiting on it.
package access
