package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/access"
	"github.com/MrEthical07/goSession/role"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

var (
	// ErrSessionNotFound is returned for unknown, expired, or destroyed sessions.
	ErrSessionNotFound = session.ErrNotFound
	// ErrRepository wraps durable-store failures and timeouts.
	ErrRepository = session.ErrRepository
	// ErrInvalidSession is returned for malformed create requests.
	ErrInvalidSession = session.ErrInvalidSession
	// ErrSecurityCheckFailed is returned when the request does not match the
	// client the session was bound to. The session is destroyed.
	ErrSecurityCheckFailed = errors.New("session security check failed")
	// ErrUnauthorized is returned when no valid session is present.
	ErrUnauthorized = access.ErrUnauthorized
	// ErrForbidden is returned when the session lacks a required permission or role.
	ErrForbidden = access.ErrForbidden
	// ErrRoleNotFound is returned when a user's role is not in the role snapshot.
	ErrRoleNotFound = role.ErrNotFound
	// ErrTokenInvalid is returned for tokens that fail signature or claim checks,
	// or that do not match the session they name.
	ErrTokenInvalid = token.ErrInvalidToken
	// ErrEngineNotReady is returned by methods called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidCredentials is returned by Login when the authenticator rejects the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned by Login while the identifier or IP is cooling down.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrAuthenticatorMissing is returned by Login when no authenticator was configured.
	ErrAuthenticatorMissing = errors.New("authenticator not configured")
)
