// Package middleware adapts a goSession.Engine to net/http.
//
// [RequireSession] reads the session token from the session cookie, or from
// an Authorization: Bearer header when no cookie is present, validates it
// against the request's client attributes, and stores the session in the
// request context. [RequirePermissions] and [RequireRoles] must run after
// it.
//
// Status codes are the only wire contract: every validation failure is
// 401, and only a missing permission or role is 403. Response bodies are
// plain text and carry no detail.
package middleware
